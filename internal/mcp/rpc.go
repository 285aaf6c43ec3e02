// Package mcp wires the Handshake state machine, Tool Registry, Execution
// Adapter and Operation Monitor into the MCP protocol surface named in §6:
// initialize/roots negotiation, tools/list, tools/call, the built-in
// await/status/sandboxed_shell tools, and notifications/progress. The
// JSON-RPC wire framing and transport (stdio reader/writer loop, HTTP+SSE
// bridge) are external collaborators per §1; this package is referenced
// only through the Session API below so any transport can drive it.
package mcp

import "encoding/json"

// RPCError is the JSON-RPC 2.0 error object, carrying the handshake and
// protocol error codes defined in §4.4 / §7.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string { return e.Message }

// Request is an inbound JSON-RPC 2.0 request or notification. ID is nil for
// notifications (e.g. notifications/initialized).
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is an outbound JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// Notification is an outbound JSON-RPC 2.0 notification (no id, no
// response expected): notifications/progress, notifications/sandbox/*, and
// the server-originated roots/list request.
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

func newNotification(method string, params any) Notification {
	return Notification{JSONRPC: "2.0", Method: method, Params: params}
}
