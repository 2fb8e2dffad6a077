// Package wire defines the JSON envelope shapes exchanged between clients
// and the host over the wire-envelope transport: inbound Call/Subscribe,
// outbound Event/Response. The envelope's own shape is versioned
// independently of any module's payload, which always travels as an
// embedded JSON object.
package wire

import (
	"encoding/json"
	"fmt"
)

// Call is an inbound request to invoke a named action on a module.
type Call struct {
	RequestID string          `json:"request_id"`
	Module    string          `json:"module"`
	Name      string          `json:"name"`
	Version   int             `json:"version"`
	Params    json.RawMessage `json:"params"`
}

// Subscribe is an inbound request to register a subscription pattern.
type Subscribe struct {
	Module string `json:"module"`
	Name   string `json:"name"`
}

// Event is an outbound notification of a module event.
type Event struct {
	Module    string          `json:"module"`
	Name      string          `json:"name"`
	Version   int             `json:"version"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// Response is the outbound reply to a Call, correlated by RequestID.
type Response struct {
	RequestID string          `json:"request_id"`
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
}

// envelopeType is the "type" discriminator every wire message carries.
type envelopeType string

const (
	typeCall      envelopeType = "call"
	typeSubscribe envelopeType = "subscribe"
	typeEvent     envelopeType = "event"
	typeResponse  envelopeType = "response"
)

type typeTag struct {
	Type envelopeType `json:"type"`
}

// Inbound is the sum type of client-to-host messages: exactly one of Call or
// Subscribe is non-nil after a successful Decode.
type Inbound struct {
	Call      *Call
	Subscribe *Subscribe
}

// DecodeInbound discriminates a raw client message by its "type" field and
// unmarshals it into the corresponding concrete shape. version, when absent
// on a call, defaults to 1 per the envelope's wire rules.
func DecodeInbound(raw []byte) (Inbound, error) {
	var tag typeTag
	if err := json.Unmarshal(raw, &tag); err != nil {
		return Inbound{}, fmt.Errorf("wire: decode type tag: %w", err)
	}
	switch tag.Type {
	case typeCall:
		var c Call
		if err := json.Unmarshal(raw, &c); err != nil {
			return Inbound{}, fmt.Errorf("wire: decode call: %w", err)
		}
		if c.Version == 0 {
			c.Version = 1
		}
		return Inbound{Call: &c}, nil
	case typeSubscribe:
		var s Subscribe
		if err := json.Unmarshal(raw, &s); err != nil {
			return Inbound{}, fmt.Errorf("wire: decode subscribe: %w", err)
		}
		return Inbound{Subscribe: &s}, nil
	default:
		return Inbound{}, fmt.Errorf("wire: unknown inbound type %q", tag.Type)
	}
}

// MarshalJSON re-serializes whichever variant is set, re-attaching its type tag.
func (c Call) MarshalJSON() ([]byte, error) {
	type alias Call
	return json.Marshal(struct {
		Type envelopeType `json:"type"`
		alias
	}{Type: typeCall, alias: alias(c)})
}

// MarshalJSON re-attaches the "subscribe" type tag.
func (s Subscribe) MarshalJSON() ([]byte, error) {
	type alias Subscribe
	return json.Marshal(struct {
		Type envelopeType `json:"type"`
		alias
	}{Type: typeSubscribe, alias: alias(s)})
}

// MarshalJSON re-attaches the "event" type tag.
func (e Event) MarshalJSON() ([]byte, error) {
	type alias Event
	return json.Marshal(struct {
		Type envelopeType `json:"type"`
		alias
	}{Type: typeEvent, alias: alias(e)})
}

// MarshalJSON re-attaches the "response" type tag.
func (r Response) MarshalJSON() ([]byte, error) {
	type alias Response
	return json.Marshal(struct {
		Type envelopeType `json:"type"`
		alias
	}{Type: typeResponse, alias: alias(r)})
}
