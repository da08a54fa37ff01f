package mladapter

import "encoding/json"

// ErrorKind classifies why a call to the ML service failed.
type ErrorKind string

const (
	KindNetwork    ErrorKind = "network"
	KindTimeout    ErrorKind = "timeout"
	KindHTTPStatus ErrorKind = "http_status"
	KindDecode     ErrorKind = "decode"
	KindRequest    ErrorKind = "request"
)

// Result is either Ok with the service payload or Err with a kind and a
// human-readable message.
type Result struct {
	payload json.RawMessage
	kind    ErrorKind
	message string
}

func Ok(payload json.RawMessage) Result {
	return Result{payload: payload}
}

func Err(kind ErrorKind, message string) Result {
	if message == "" {
		message = string(kind)
	}
	return Result{kind: kind, message: message}
}

func (r Result) IsOk() bool {
	return r.kind == ""
}

func (r Result) Payload() json.RawMessage {
	return r.payload
}

func (r Result) Kind() ErrorKind {
	return r.kind
}

func (r Result) Message() string {
	return r.message
}

// Outcome is a short label for metrics.
func (r Result) Outcome() string {
	if r.IsOk() {
		return "ok"
	}
	return string(r.kind)
}
