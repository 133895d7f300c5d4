package server

import "encoding/json"

// Frame types.
const (
	FrameRequest  = "req"
	FrameResponse = "res"
)

// Methods served over the websocket.
const (
	MethodIngest      = "ingest"
	MethodSearch      = "search"
	MethodConsolidate = "consolidate"
	MethodHealth      = "health"
	MethodStatus      = "status"
)

// Error codes.
const (
	ErrInvalidRequest = "INVALID_REQUEST"
	ErrUnknownMethod  = "UNKNOWN_METHOD"
	ErrRateLimited    = "RATE_LIMITED"
	ErrInternal       = "INTERNAL"
)

// Request invokes one method.
type Request struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response answers the request with the same ID.
type Response struct {
	Type    string      `json:"type"`
	ID      string      `json:"id"`
	OK      bool        `json:"ok"`
	Payload any         `json:"payload,omitempty"`
	Error   *ErrorShape `json:"error,omitempty"`
}

// ErrorShape describes a failed request.
type ErrorShape struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

func okResponse(id string, payload any) *Response {
	return &Response{Type: FrameResponse, ID: id, OK: true, Payload: payload}
}

func errorResponse(id, code, message string) *Response {
	return &Response{
		Type:  FrameResponse,
		ID:    id,
		Error: &ErrorShape{Code: code, Message: message, Retryable: code == ErrRateLimited},
	}
}
