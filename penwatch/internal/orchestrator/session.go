package orchestrator

import (
	"context"
	"time"

	"github.com/hazyhaar/penwatch/penwatch/dom"
)

// Status is the lifecycle position of a Session.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusArmed      Status = "armed"
	StatusRequesting Status = "requesting"
	StatusFulfilled  Status = "fulfilled"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusFulfilled || s == StatusFailed || s == StatusCancelled
}

// Origin says what opened a session.
type Origin string

const (
	OriginDebounce Origin = "debounce" // the user paused after typing
	OriginMessage  Origin = "message"  // a PROMPT_FROM_POPUP style request
)

// Target is the active editable element of the page.
type Target struct {
	Node dom.Node
	Kind dom.Kind
}

// Session is one enhancement attempt. Snapshot is captured once and never
// replaced: a later edit cancels the session instead.
type Session struct {
	ID       string
	Target   dom.Node
	Snapshot string
	Status   Status
	Origin   Origin
	Created  time.Time

	cancel context.CancelFunc
	reply  chan MessageResult
}

// SessionInfo is a read-only view of a Session.
type SessionInfo struct {
	ID       string    `json:"id"`
	TargetID string    `json:"target_id"`
	Snapshot string    `json:"snapshot"`
	Status   Status    `json:"status"`
	Origin   Origin    `json:"origin"`
	Created  time.Time `json:"created"`
}

func (s *Session) info() *SessionInfo {
	if s == nil {
		return nil
	}
	si := &SessionInfo{ID: s.ID, Snapshot: s.Snapshot, Status: s.Status, Origin: s.Origin, Created: s.Created}
	if s.Target != nil {
		si.TargetID = s.Target.ID()
	}
	return si
}

// MessageResult answers EnhanceActive.
type MessageResult struct {
	Injected bool
	Enhanced bool
	Err      error
}

// Snapshot is a point-in-time view of an Orchestrator.
type Snapshot struct {
	URL            string       `json:"url"`
	TargetID       string       `json:"target_id,omitempty"`
	TargetKind     string       `json:"target_kind,omitempty"`
	FocusedAt      time.Time    `json:"focused_at,omitzero"`
	Monitor        string       `json:"monitor"`
	LastEnhanced   string       `json:"last_enhanced,omitempty"`
	Session        *SessionInfo `json:"session,omitempty"`
	Writing        bool         `json:"writing"`
	OverlayVisible bool         `json:"overlay_visible"`
	OverlayMode    string       `json:"overlay_mode,omitempty"`
}
