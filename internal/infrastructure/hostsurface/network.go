package hostsurface

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/tetratelabs/wazero/api"

	"github.com/deskwire/extensions/wireformat"
)

const maxHTTPBodyBytes = 10 * 1024 * 1024

// dnsPinningTransport resolves a hostname once, validates the resulting IP
// against loopback/link-local/private ranges, then dials that specific IP —
// preventing a DNS-rebinding attack from redirecting a guest's permitted
// hostname to an internal address after the capability check already
// passed. Shared by http-request and tcp-connect.
type dnsPinningTransport struct {
	base *http.Transport
}

func (t *dnsPinningTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	hostname := req.URL.Hostname()
	ip, err := resolveAndValidate(req.Context(), hostname)
	if err != nil {
		return nil, fmt.Errorf("ssrf protection: %w", err)
	}
	port := portOf(req.URL)

	pinned := t.base.Clone()
	pinned.DialContext = func(dialCtx context.Context, network, _ string) (net.Conn, error) {
		d := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
		return d.DialContext(dialCtx, network, net.JoinHostPort(ip, port))
	}
	if req.URL.Scheme == "https" {
		if pinned.TLSClientConfig == nil {
			pinned.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		pinned.TLSClientConfig.ServerName = hostname
	}
	return pinned.RoundTrip(req)
}

func portOf(u *url.URL) string {
	if p := u.Port(); p != "" {
		return p
	}
	if u.Scheme == "https" {
		return "443"
	}
	return "80"
}

// ResolveAndValidate resolves hostname to an IP and rejects loopback,
// link-local, and private ranges, so a guest granted outbound HTTP/TCP
// cannot be tricked into reaching the host's own internal network. Shared
// by dnsPinningTransport (http-request) and wasmruntime's tcp-connect
// dial path.
func ResolveAndValidate(ctx context.Context, hostname string) (string, error) {
	return resolveAndValidate(ctx, hostname)
}

func resolveAndValidate(ctx context.Context, hostname string) (string, error) {
	if ip := net.ParseIP(hostname); ip != nil {
		if err := validateIP(ip); err != nil {
			return "", err
		}
		return ip.String(), nil
	}

	resolver := net.DefaultResolver
	addrs, err := resolver.LookupIPAddr(ctx, hostname)
	if err != nil {
		return "", fmt.Errorf("dns lookup failed: %w", err)
	}
	for _, a := range addrs {
		if validateIP(a.IP) == nil {
			return a.IP.String(), nil
		}
	}
	return "", fmt.Errorf("no acceptable address for %s", hostname)
}

func validateIP(ip net.IP) error {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsPrivate() || ip.IsUnspecified() {
		return fmt.Errorf("address %s is not a routable public address", ip)
	}
	return nil
}

func dnsPinnedClient() *http.Client {
	return &http.Client{
		Transport: &dnsPinningTransport{base: &http.Transport{
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: time.Second,
		}},
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("stopped after 10 redirects")
			}
			return nil
		},
	}
}

// httpRequestFn implements http-request(req) -> response.
func httpRequestFn(ctx context.Context, mod api.Module, stack []uint64, cfg Config) {
	var req wireformat.HTTPRequestWire
	if err := readRequest(mod, stack[0], &req); err != nil {
		stack[0] = writeResponse(ctx, mod, wireformat.HTTPResponseWire{Error: wireformat.NewErrorDetail("internal", err)})
		return
	}

	if err := cfg.Validator.CheckNetworkHTTP(); err != nil {
		stack[0] = writeResponse(ctx, mod, wireformat.HTTPResponseWire{Error: wireformat.NewErrorDetail("capability", err)})
		return
	}

	httpCtx, cancel := contextFromWire(ctx, req.Context)
	defer cancel()

	var body io.Reader
	if req.Body != "" {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			stack[0] = writeResponse(ctx, mod, wireformat.HTTPResponseWire{Error: wireformat.NewErrorDetail("config", err)})
			return
		}
		body = bytes.NewReader(decoded)
	}

	httpReq, err := http.NewRequestWithContext(httpCtx, req.Method, req.URL, body)
	if err != nil {
		stack[0] = writeResponse(ctx, mod, wireformat.HTTPResponseWire{Error: wireformat.NewErrorDetail("config", err)})
		return
	}
	for k, values := range req.Headers {
		for _, v := range values {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := dnsPinnedClient().Do(httpReq)
	if err != nil {
		slog.WarnContext(ctx, "hostsurface: http-request failed", "module", cfg.ModuleID, "url", req.URL, "error", err)
		stack[0] = writeResponse(ctx, mod, wireformat.HTTPResponseWire{Error: wireformat.NewErrorDetail("network", err)})
		return
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, maxHTTPBodyBytes+1)
	respBody, err := io.ReadAll(limited)
	if err != nil {
		stack[0] = writeResponse(ctx, mod, wireformat.HTTPResponseWire{Error: wireformat.NewErrorDetail("network", err)})
		return
	}
	truncated := false
	if len(respBody) > maxHTTPBodyBytes {
		respBody = respBody[:maxHTTPBodyBytes]
		truncated = true
	}

	headers := make(map[string][]string, len(resp.Header))
	for k, v := range resp.Header {
		headers[k] = v
	}

	stack[0] = writeResponse(ctx, mod, wireformat.HTTPResponseWire{
		StatusCode:    resp.StatusCode,
		Headers:       headers,
		Body:          base64.StdEncoding.EncodeToString(respBody),
		BodyTruncated: truncated,
	})
}

// websocketConnectFn implements websocket-connect(url) -> handle.
func websocketConnectFn(ctx context.Context, mod api.Module, stack []uint64, cfg Config) {
	var req wireformat.WebSocketConnectRequestWire
	if err := readRequest(mod, stack[0], &req); err != nil {
		stack[0] = writeResponse(ctx, mod, wireformat.WebSocketConnectResponseWire{Error: wireformat.NewErrorDetail("internal", err)})
		return
	}
	if err := cfg.Validator.CheckNetworkWebsocket(); err != nil {
		stack[0] = writeResponse(ctx, mod, wireformat.WebSocketConnectResponseWire{Error: wireformat.NewErrorDetail("capability", err)})
		return
	}

	connCtx, cancel := contextFromWire(ctx, req.Context)
	defer cancel()

	handle, err := cfg.WebsocketConnect(connCtx, req.URL)
	if err != nil {
		stack[0] = writeResponse(ctx, mod, wireformat.WebSocketConnectResponseWire{Error: wireformat.NewErrorDetail("network", err)})
		return
	}
	stack[0] = writeResponse(ctx, mod, wireformat.WebSocketConnectResponseWire{Handle: handle})
}

// websocketSendFn implements websocket-send(handle, message).
func websocketSendFn(ctx context.Context, mod api.Module, stack []uint64, cfg Config) {
	var req wireformat.WebSocketSendRequestWire
	if err := readRequest(mod, stack[0], &req); err != nil {
		stack[0] = writeResponse(ctx, mod, wireformat.AckResponseWire{Error: wireformat.NewErrorDetail("internal", err)})
		return
	}
	if err := cfg.WebsocketSend(req.Handle, req.Message); err != nil {
		stack[0] = writeResponse(ctx, mod, wireformat.AckResponseWire{Error: wireformat.NewErrorDetail("internal", err)})
		return
	}
	stack[0] = writeResponse(ctx, mod, wireformat.AckResponseWire{})
}

// websocketCloseFn implements websocket-close(handle).
func websocketCloseFn(ctx context.Context, mod api.Module, stack []uint64, cfg Config) {
	var req wireformat.HandleRequestWire
	if err := readRequest(mod, stack[0], &req); err != nil {
		stack[0] = writeResponse(ctx, mod, wireformat.AckResponseWire{Error: wireformat.NewErrorDetail("internal", err)})
		return
	}
	if err := cfg.WebsocketClose(req.Handle); err != nil {
		stack[0] = writeResponse(ctx, mod, wireformat.AckResponseWire{Error: wireformat.NewErrorDetail("internal", err)})
		return
	}
	stack[0] = writeResponse(ctx, mod, wireformat.AckResponseWire{})
}

// tcpConnectFn implements tcp-connect(host, port, use-tls, timeout-ms) ->
// handle. Grounded in the same SSRF-protected dial path as http-request.
func tcpConnectFn(ctx context.Context, mod api.Module, stack []uint64, cfg Config) {
	var req wireformat.TCPConnectRequestWire
	if err := readRequest(mod, stack[0], &req); err != nil {
		stack[0] = writeResponse(ctx, mod, wireformat.TCPConnectResponseWire{Error: wireformat.NewErrorDetail("internal", err)})
		return
	}
	if err := cfg.Validator.CheckNetworkTCP(); err != nil {
		stack[0] = writeResponse(ctx, mod, wireformat.TCPConnectResponseWire{Error: wireformat.NewErrorDetail("capability", err)})
		return
	}

	connCtx, cancel := contextFromWire(ctx, req.Context)
	defer cancel()

	handle, remote, local, tlsVersion, err := cfg.TCPConnect(connCtx, req.Host, req.Port, req.TLS, req.TimeoutMs)
	if err != nil {
		stack[0] = writeResponse(ctx, mod, wireformat.TCPConnectResponseWire{Error: wireformat.NewErrorDetail("network", err)})
		return
	}
	stack[0] = writeResponse(ctx, mod, wireformat.TCPConnectResponseWire{
		Handle:     handle,
		RemoteAddr: remote,
		LocalAddr:  local,
		TLS:        req.TLS,
		TLSVersion: tlsVersion,
	})
}

// tcpSendFn implements tcp-send(handle, bytes).
func tcpSendFn(ctx context.Context, mod api.Module, stack []uint64, cfg Config) {
	var req wireformat.TCPSendRequestWire
	if err := readRequest(mod, stack[0], &req); err != nil {
		stack[0] = writeResponse(ctx, mod, wireformat.AckResponseWire{Error: wireformat.NewErrorDetail("internal", err)})
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		stack[0] = writeResponse(ctx, mod, wireformat.AckResponseWire{Error: wireformat.NewErrorDetail("config", err)})
		return
	}
	if err := cfg.TCPSend(req.Handle, data); err != nil {
		stack[0] = writeResponse(ctx, mod, wireformat.AckResponseWire{Error: wireformat.NewErrorDetail("internal", err)})
		return
	}
	stack[0] = writeResponse(ctx, mod, wireformat.AckResponseWire{})
}

// tcpCloseFn implements tcp-close(handle).
func tcpCloseFn(ctx context.Context, mod api.Module, stack []uint64, cfg Config) {
	var req wireformat.HandleRequestWire
	if err := readRequest(mod, stack[0], &req); err != nil {
		stack[0] = writeResponse(ctx, mod, wireformat.AckResponseWire{Error: wireformat.NewErrorDetail("internal", err)})
		return
	}
	if err := cfg.TCPClose(req.Handle); err != nil {
		stack[0] = writeResponse(ctx, mod, wireformat.AckResponseWire{Error: wireformat.NewErrorDetail("internal", err)})
		return
	}
	stack[0] = writeResponse(ctx, mod, wireformat.AckResponseWire{})
}
