// Package hostsurface implements the Host Surface (component C): the set of
// functions a guest component may call, each gated by the Capability
// Validator before it does any work. Parameters and results cross the
// wazero ABI boundary as packed (ptr<<32|len) i64 values carrying JSON, so
// the ABI itself never has to change when a payload's shape does.
package hostsurface

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/tetratelabs/wazero/api"
)

// packPtrLen and unpackPtrLen mirror the guest SDK's packing convention: a
// single i64 carries a 32-bit pointer in the high half and a 32-bit length
// in the low half.
func packPtrLen(ptr, length uint32) uint64 {
	return (uint64(ptr) << 32) | uint64(length)
}

func unpackPtrLen(packed uint64) (ptr, length uint32) {
	ptr = uint32(packed >> 32)
	length = uint32(packed)
	return ptr, length
}

// readRequest reads and JSON-decodes a guest-supplied argument from the
// packed ptr+len the guest placed on the stack.
func readRequest(mod api.Module, packed uint64, out interface{}) error {
	ptr, length := unpackPtrLen(packed)
	raw, ok := mod.Memory().Read(ptr, length)
	if !ok {
		return fmt.Errorf("hostsurface: failed to read guest memory")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("hostsurface: failed to decode request: %w", err)
	}
	return nil
}

// writeResponse JSON-encodes response, has the guest allocate space for it
// (via its exported "allocate" function), copies the bytes in, and returns
// the packed ptr+len the guest should read its result from.
func writeResponse(ctx context.Context, mod api.Module, response interface{}) uint64 {
	data, err := json.Marshal(response)
	if err != nil {
		slog.ErrorContext(ctx, "hostsurface: failed to marshal response", "error", err)
		data = []byte(`{"error":{"message":"internal: response marshal failed","type":"internal"}}`)
	}

	results, err := mod.ExportedFunction("allocate").Call(ctx, uint64(len(data)))
	if err != nil {
		slog.ErrorContext(ctx, "hostsurface: guest allocate call failed", "error", err)
		return 0
	}
	ptr := uint32(results[0])
	mod.Memory().Write(ptr, data)
	return packPtrLen(ptr, uint32(len(data)))
}
