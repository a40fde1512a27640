// Package channel answers control messages addressed to a running hider.
//
// A message is a small JSON object naming an action. The same Router serves
// in-process callers, the HTTP transport and the MCP tools, and it never
// fails across the boundary: every outcome, including malformed input, is a
// Response with success set accordingly.
package channel

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Actions understood by the router.
const (
	ActionToggle  = "toggleShorts"
	ActionStats   = "getStats"
	ActionRefresh = "refresh"
)

// Request is an incoming message.
type Request struct {
	Action string `json:"action"`
	Hidden *bool  `json:"hidden,omitempty"`
}

// Response is the reply to a Request.
type Response struct {
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	Count     *int   `json:"count,omitempty"`
	IsHiding  *bool  `json:"isHiding,omitempty"`
	Timestamp *int64 `json:"timestamp,omitempty"`
}

// Snapshot is what a target reports for getStats.
type Snapshot struct {
	Count      int
	IsHiding   bool
	LastUpdate time.Time
}

// Target is the hider a message is applied to.
type Target interface {
	SetHiding(ctx context.Context, hidden bool) error
	Stats(ctx context.Context) (Snapshot, error)
	Refresh(ctx context.Context) error
}

// Registry resolves page IDs to targets for transports serving several
// pages.
type Registry interface {
	// Target returns the target for id. An empty id selects the default.
	Target(id string) (Target, bool)
	// IDs lists the attached pages.
	IDs() []string
}

// ErrUnknownAction is wrapped by a ProtocolError for unrecognised actions.
var ErrUnknownAction = errors.New("Unknown action")

// ProtocolError reports a message that could not be understood.
type ProtocolError struct {
	Action string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Action == "" {
		return fmt.Sprintf("channel: %v", e.Err)
	}
	return fmt.Sprintf("channel: %s: %v", e.Action, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// OK returns a bare success response.
func OK() Response { return Response{Success: true} }

// Fail returns a failure response carrying msg.
func Fail(msg string) Response { return Response{Success: false, Error: msg} }

// StatsResponse builds the getStats reply. The timestamp is the last
// update in epoch milliseconds, or zero when nothing happened yet.
func StatsResponse(s Snapshot) Response {
	count, hiding := s.Count, s.IsHiding
	var ts int64
	if !s.LastUpdate.IsZero() {
		ts = s.LastUpdate.UnixMilli()
	}
	return Response{Success: true, Count: &count, IsHiding: &hiding, Timestamp: &ts}
}
