package bus

import (
	"encoding/json"
	"fmt"
)

// Result wraps every helper reply.
type Result struct {
	Success bool            `json:"success"`
	Error   *string         `json:"error"`
	Result  json.RawMessage `json:"result"`
}

// Succeed wraps v in a successful Result.
func Succeed(v any) (Result, error) {
	raw, err := Encode(v)
	if err != nil {
		return Result{}, fmt.Errorf("encode result: %w", err)
	}
	return Result{Success: true, Result: raw}, nil
}

// Fail wraps err in a failed Result.
func Fail(err error) Result {
	msg := err.Error()
	return Result{Success: false, Error: &msg, Result: json.RawMessage("null")}
}

// Unwrap returns the result payload, or a *RemoteError when the far side
// reported failure.
func (r Result) Unwrap() (json.RawMessage, error) {
	if !r.Success {
		msg := "unknown error"
		if r.Error != nil {
			msg = *r.Error
		}
		return nil, &RemoteError{Message: msg}
	}
	return r.Result, nil
}

// RemoteError carries the error string of a success:false reply.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "remote: " + e.Message
}

// WorkerState answers SERVICE_WORKER_STATE.
type WorkerState struct {
	IsControllingFrame bool    `json:"isControllingFrame"`
	URL                *string `json:"url"`
	State              *string `json:"state"`
}

// RegistrationOptions mirrors the options passed to the host registration API.
type RegistrationOptions struct {
	Scope string `json:"scope,omitempty"`
}

// RegistrationRequest is the SERVICE_WORKER_REGISTRATION payload.
type RegistrationRequest struct {
	WorkerURL           string               `json:"workerUrl"`
	RegistrationOptions *RegistrationOptions `json:"registrationOptions"`
}

// RegistrationOutcome is the legacy SERVICE_WORKER_REGISTRATION result body:
// failures ride inside a successful Result.
type RegistrationOutcome struct {
	Error *string `json:"error"`
}

// WorkerQuery is the SERVICE_WORKER_QUERY payload.
type WorkerQuery struct {
	Topic   Topic           `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}
