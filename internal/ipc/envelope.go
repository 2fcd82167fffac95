package ipc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Request is one call frame. ID correlates the response on multiplexed transports.
type Request struct {
	ID   uint64          `json:"id"`
	Op   Op              `json:"op"`
	Args json.RawMessage `json:"args,omitempty"`
}

// Envelope is the uniform response of every operation. The JSON field names are shared
// with the backend.
type Envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

// Response is an Envelope as it travels on a multiplexed transport.
type Response struct {
	ID uint64 `json:"id"`
	Envelope
}

var errMissingSuccess = errors.New(`envelope has no "success" field`)

// wireEnvelope mirrors Envelope with pointer fields so absent keys are detectable.
type wireEnvelope struct {
	ID      *uint64         `json:"id"`
	Success *bool           `json:"success"`
	Message *string         `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// DecodeEnvelope parses a response frame. It rejects anything that is not a JSON object
// with a boolean "success" and, when present, a string "message".
func DecodeEnvelope(data []byte) (Envelope, error) {
	w, err := decodeWire(data)
	if err != nil {
		return Envelope{}, err
	}
	env := Envelope{Success: *w.Success, Result: w.Result}
	if w.Message != nil {
		env.Message = *w.Message
	}
	if isNullJSON(env.Result) {
		env.Result = nil
	}
	return env, nil
}

// DecodeResponse parses a response frame and returns its id along with the envelope.
func DecodeResponse(data []byte) (Response, error) {
	w, err := decodeWire(data)
	if err != nil {
		return Response{}, err
	}
	if w.ID == nil {
		return Response{}, errors.New(`response has no "id" field`)
	}
	env, _ := DecodeEnvelope(data)
	return Response{ID: *w.ID, Envelope: env}, nil
}

func decodeWire(data []byte) (*wireEnvelope, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, errors.New("response is not a JSON object")
	}
	var w wireEnvelope
	if err := json.Unmarshal(trimmed, &w); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if w.Success == nil {
		return nil, errMissingSuccess
	}
	return &w, nil
}

// OK builds a successful envelope carrying result. A nil result is omitted.
func OK(result any) (Envelope, error) {
	if result == nil {
		return Envelope{Success: true}, nil
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode result: %w", err)
	}
	return Envelope{Success: true, Result: raw}, nil
}

// Fail builds a failed envelope with a user-facing message.
func Fail(message string) Envelope {
	return Envelope{Success: false, Message: message}
}

func isNullJSON(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}
