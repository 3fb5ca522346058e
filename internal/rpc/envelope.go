// Package rpc is the request/response channel between the gateway and the
// backend services: a named operation with a JSON payload goes out, exactly
// one result or typed error comes back.
package rpc

import (
	"encoding/json"
	"fmt"
	"time"
)

// Request is one call on the wire.
type Request struct {
	ID       string          `json:"id"`
	Op       string          `json:"op"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	ReplyTo  string          `json:"replyTo"`
	Deadline time.Time       `json:"deadline"`
}

// Response carries either Result or Error.
type Response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RemoteError    `json:"error,omitempty"`
}

// RemoteError is a business error reported by the serving side.
type RemoteError struct {
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode"`
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error %d: %s", e.StatusCode, e.Message)
}

// RequestKey is the mailbox a service consumes.
func RequestKey(service string) string { return "rpc:" + service + ":requests" }

// ReplyKey is the mailbox for the reply to one call.
func ReplyKey(id string) string { return "rpc:reply:" + id }
