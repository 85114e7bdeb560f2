package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SessionState is a step in the call-session lifecycle
type SessionState string

const (
	SessionCreated             SessionState = "created"
	SessionCredentialRequested SessionState = "credential_requested"
	SessionDispatched          SessionState = "dispatched"
	SessionRinging             SessionState = "ringing"
	SessionActive              SessionState = "active"
	SessionEnded               SessionState = "ended"
	SessionFailed              SessionState = "failed"
)

// CallOutcome is the terminal result of an ended session
type CallOutcome string

const (
	OutcomeAnswered CallOutcome = "answered"
	OutcomeMissed   CallOutcome = "missed"
	OutcomeBusy     CallOutcome = "busy"
	OutcomeDeclined CallOutcome = "declined"
	OutcomeFailed   CallOutcome = "failed"
)

// FailReason categorizes why a session entered the failed state
type FailReason string

const (
	FailReasonCredentialIssuance FailReason = "credential_issuance"
	FailReasonDispatch           FailReason = "dispatch"
	FailReasonTimeout            FailReason = "timeout"
)

// CallType distinguishes how a call was initiated and carried
type CallType string

const (
	CallTypeScheduled CallType = "scheduled"
	CallTypeAdHoc     CallType = "adhoc"
)

// stateRank orders the lifecycle; transitions may only increase rank.
// Terminal states share the top rank so neither can follow the other.
var stateRank = map[SessionState]int{
	SessionCreated:             0,
	SessionCredentialRequested: 1,
	SessionDispatched:          2,
	SessionRinging:             3,
	SessionActive:              4,
	SessionEnded:               5,
	SessionFailed:              5,
}

// CallSession records one call attempt from creation to terminal outcome
type CallSession struct {
	ID          uuid.UUID    `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	HouseholdID uuid.UUID    `json:"household_id" gorm:"type:uuid;not null;index"`
	RelativeID  uuid.UUID    `json:"relative_id" gorm:"type:uuid;not null;index"`
	Provider    string       `json:"provider" gorm:"size:32;not null;default:'elevenlabs'"`
	CallType    CallType     `json:"call_type" gorm:"size:16;not null;default:'adhoc'"`
	State       SessionState `json:"state" gorm:"size:24;not null;default:'created';index"`
	// ProviderConversationID is set once when the conversation token is
	// issued and never changes afterwards.
	ProviderConversationID *string         `json:"provider_conversation_id" gorm:"size:128;index"`
	Outcome                *CallOutcome    `json:"outcome" gorm:"size:16"`
	FailReason             *FailReason     `json:"fail_reason" gorm:"size:32"`
	DurationSeconds        *int            `json:"duration_seconds"`
	Summary                json.RawMessage `json:"summary,omitempty" gorm:"type:jsonb"`
	// DispatchError keeps the last push delivery failure for observability;
	// a failed dispatch does not fail the session.
	DispatchError *string    `json:"dispatch_error,omitempty" gorm:"size:512"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at"`
	UpdatedAt     time.Time  `json:"updated_at"`

	Household Household `json:"-" gorm:"foreignKey:HouseholdID"`
	Relative  Relative  `json:"-" gorm:"foreignKey:RelativeID"`
}

// IsTerminal reports whether the session has reached a final state
func (s *CallSession) IsTerminal() bool {
	return s.State.IsTerminal()
}

// IsTerminal reports whether the state is final
func (st SessionState) IsTerminal() bool {
	return st == SessionEnded || st == SessionFailed
}

// Valid reports whether the state is a known lifecycle step
func (st SessionState) Valid() bool {
	_, ok := stateRank[st]
	return ok
}

// CanTransition reports whether moving from st to next is legal.
// States only advance; a move to a terminal state is legal from any
// non-terminal state; everything else must strictly increase rank.
func (st SessionState) CanTransition(next SessionState) bool {
	if !st.Valid() || !next.Valid() {
		return false
	}
	if st.IsTerminal() {
		return false
	}
	if next.IsTerminal() {
		return true
	}
	return stateRank[next] > stateRank[st]
}

// Valid reports whether the outcome is one of the closed set
func (o CallOutcome) Valid() bool {
	switch o {
	case OutcomeAnswered, OutcomeMissed, OutcomeBusy, OutcomeDeclined, OutcomeFailed:
		return true
	}
	return false
}
