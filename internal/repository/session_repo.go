package repository

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/careline/careline-api/internal/model"
)

// SessionRepository handles database operations for call sessions
type SessionRepository struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create inserts a new call session in the created state
func (r *SessionRepository) Create(session *model.CallSession) error {
	return r.db.Create(session).Error
}

// FindByID loads a session
func (r *SessionRepository) FindByID(id uuid.UUID) (*model.CallSession, error) {
	var session model.CallSession
	if err := r.db.First(&session, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

// HasLiveSession reports whether the relative already has a session in
// a non-terminal state
func (r *SessionRepository) HasLiveSession(relativeID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.Model(&model.CallSession{}).
		Where("relative_id = ? AND state NOT IN ?", relativeID,
			[]model.SessionState{model.SessionEnded, model.SessionFailed}).
		Count(&count).Error
	return count > 0, err
}

// TransitionUpdate carries the column changes applied together with a
// state transition.
type TransitionUpdate struct {
	ProviderConversationID *string
	Outcome                *model.CallOutcome
	FailReason             *model.FailReason
	DurationSeconds        *int
	Summary                json.RawMessage
	DispatchError          *string
	StartedAt              *time.Time
	EndedAt                *time.Time
}

// Transition applies an optimistic state change: the UPDATE only
// matches while the session is still in fromState, so two racing
// callbacks cannot both win. Returns false when the row was not in
// fromState anymore.
func (r *SessionRepository) Transition(id uuid.UUID, fromState, toState model.SessionState, upd TransitionUpdate) (bool, error) {
	changes := map[string]interface{}{
		"state":      toState,
		"updated_at": time.Now(),
	}
	if upd.ProviderConversationID != nil {
		changes["provider_conversation_id"] = *upd.ProviderConversationID
	}
	if upd.Outcome != nil {
		changes["outcome"] = *upd.Outcome
	}
	if upd.FailReason != nil {
		changes["fail_reason"] = *upd.FailReason
	}
	if upd.DurationSeconds != nil {
		changes["duration_seconds"] = *upd.DurationSeconds
	}
	if upd.Summary != nil {
		changes["summary"] = upd.Summary
	}
	if upd.DispatchError != nil {
		changes["dispatch_error"] = *upd.DispatchError
	}
	if upd.StartedAt != nil {
		changes["started_at"] = *upd.StartedAt
	}
	if upd.EndedAt != nil {
		changes["ended_at"] = *upd.EndedAt
	}

	res := r.db.Model(&model.CallSession{}).
		Where("id = ? AND state = ?", id, fromState).
		Updates(changes)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// AttachSummary adds a late-arriving summary to a terminal session
// without touching its state
func (r *SessionRepository) AttachSummary(id uuid.UUID, summary json.RawMessage) error {
	return r.db.Model(&model.CallSession{}).
		Where("id = ? AND state IN ?", id,
			[]model.SessionState{model.SessionEnded, model.SessionFailed}).
		Update("summary", summary).Error
}

// FindStuck returns non-terminal sessions that have not progressed
// since the cutoff; input to the reconciliation pass
func (r *SessionRepository) FindStuck(cutoff time.Time) ([]model.CallSession, error) {
	var sessions []model.CallSession
	err := r.db.
		Where("state IN ? AND updated_at < ?",
			[]model.SessionState{model.SessionDispatched, model.SessionRinging, model.SessionActive},
			cutoff).
		Find(&sessions).Error
	return sessions, err
}

// ListByHousehold returns recent sessions for the family dashboard
func (r *SessionRepository) ListByHousehold(householdID uuid.UUID, limit int) ([]model.CallSession, error) {
	var sessions []model.CallSession
	err := r.db.
		Where("household_id = ?", householdID).
		Order("created_at DESC").
		Limit(limit).
		Find(&sessions).Error
	return sessions, err
}
