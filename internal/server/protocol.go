package server

import "fmt"

// Control protocol commands. The set is closed; anything else is a protocol
// error answered on the connection, never propagated into the supervisor.
const (
	CmdStatus  = "status"
	CmdStart   = "start"
	CmdStop    = "stop"
	CmdRestart = "restart"
	CmdApply   = "apply"
)

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Request is the single JSON object a client sends per connection. Payload
// carries the target process id for start/stop/restart and must be null for
// status/apply.
type Request struct {
	Command string  `json:"command"`
	Payload *string `json:"payload"`
}

// Validate checks the request against the closed command set.
func (r Request) Validate() error {
	switch r.Command {
	case CmdStart, CmdStop, CmdRestart:
		if r.Payload == nil || *r.Payload == "" {
			return fmt.Errorf("command %q requires a process id payload", r.Command)
		}
	case CmdStatus, CmdApply:
		if r.Payload != nil {
			return fmt.Errorf("command %q takes no payload", r.Command)
		}
	default:
		return fmt.Errorf("unknown command %q", r.Command)
	}
	return nil
}

// Response is the single JSON object written back before the connection is
// closed. Payload is set on success, Message on failure (and for human
// confirmations Payload holds a string).
type Response struct {
	Status  string `json:"status"`
	Payload any    `json:"payload,omitempty"`
	Message string `json:"message,omitempty"`
}

func okResponse(payload any) Response {
	return Response{Status: StatusOK, Payload: payload}
}

func errResponse(format string, args ...any) Response {
	return Response{Status: StatusError, Message: fmt.Sprintf(format, args...)}
}
