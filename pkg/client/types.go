package client

import "time"

// Request is the single JSON object sent per control connection.
type Request struct {
	Command string  `json:"command"`
	Payload *string `json:"payload"`
}

// Response is the daemon's single JSON reply.
type Response struct {
	Status  string `json:"status"`
	Payload any    `json:"payload,omitempty"`
	Message string `json:"message,omitempty"`
}

// ProcessStatus is one row of the daemon's status table.
type ProcessStatus struct {
	ID        string    `json:"id"`
	Command   string    `json:"command"`
	State     string    `json:"state"`
	PID       int       `json:"pid,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
	Uptime    string    `json:"uptime,omitempty"`
	LastExit  string    `json:"last_exit,omitempty"`
	Restarts  int       `json:"restarts"`
}
