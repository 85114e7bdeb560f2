package service

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/careline/careline-api/internal/apperr"
	"github.com/careline/careline-api/internal/model"
	"github.com/careline/careline-api/internal/repository"
	"github.com/careline/careline-api/internal/security"
	"github.com/careline/careline-api/pkg/auth"
	"github.com/careline/careline-api/pkg/convai"
	"github.com/careline/careline-api/pkg/push"
)

// SessionStore is the persistence surface for call sessions; satisfied
// by repository.SessionRepository.
type SessionStore interface {
	Create(session *model.CallSession) error
	FindByID(id uuid.UUID) (*model.CallSession, error)
	HasLiveSession(relativeID uuid.UUID) (bool, error)
	Transition(id uuid.UUID, fromState, toState model.SessionState, upd repository.TransitionUpdate) (bool, error)
	AttachSummary(id uuid.UUID, summary json.RawMessage) error
	FindStuck(cutoff time.Time) ([]model.CallSession, error)
	ListByHousehold(householdID uuid.UUID, limit int) ([]model.CallSession, error)
}

// TokenBroker requests conversation credentials from the voice
// provider; satisfied by convai.Client.
type TokenBroker interface {
	RequestToken(ctx context.Context, req convai.TokenRequest) (*convai.TokenResult, error)
	FetchConversation(ctx context.Context, conversationID string) (*convai.ConversationStatus, error)
}

// PushDispatcher wakes the elder device; satisfied by push.Dispatcher.
type PushDispatcher interface {
	Notify(ctx context.Context, session *model.CallSession, target *model.RelativeDevice, note push.Notification) (*push.DeliveryResult, error)
}

// CallService sequences pairing lookups, the token broker, push
// dispatch and the session state machine behind the two public call
// operations, and runs the reconciliation pass for stuck sessions
type CallService struct {
	sessions   SessionStore
	devices    DeviceStore
	households HouseholdStore
	broker     TokenBroker
	dispatcher PushDispatcher
	gate       *security.Gate
	publisher  EventPublisher
	timeout    time.Duration
}

func NewCallService(
	sessions SessionStore,
	devices DeviceStore,
	households HouseholdStore,
	broker TokenBroker,
	dispatcher PushDispatcher,
	gate *security.Gate,
	publisher EventPublisher,
	timeout time.Duration,
) *CallService {
	return &CallService{
		sessions:   sessions,
		devices:    devices,
		households: households,
		broker:     broker,
		dispatcher: dispatcher,
		gate:       gate,
		publisher:  publisher,
		timeout:    timeout,
	}
}

// StartCall creates a session for the relative, obtains a conversation
// token, and wakes the device. Credential failure is fatal to the
// attempt (session marked failed, no dispatch); dispatch failure is
// recorded but the session proceeds, since the device may be reachable
// through an already-open in-app channel.
func (s *CallService) StartCall(ctx context.Context, claims *auth.Claims, req model.StartCallRequest) (*model.CallSession, error) {
	if claims.IsDevice() {
		return nil, apperr.Forbidden("devices cannot start calls")
	}
	if err := s.gate.RequireMember(req.HouseholdID, claims.UserID); err != nil {
		return nil, err
	}

	relative, err := s.households.FindRelative(req.HouseholdID, req.RelativeID)
	if err != nil {
		return nil, apperr.Validation("relative does not belong to this household")
	}

	// Fast path only; the partial unique index on live sessions is
	// what holds the one-call-per-relative invariant under concurrency.
	live, err := s.sessions.HasLiveSession(req.RelativeID)
	if err != nil {
		return nil, apperr.Internal("failed to check live sessions").WithCause(err)
	}
	if live {
		return nil, apperr.Validation("a call is already in progress for this relative")
	}

	callType := req.CallType
	if callType == "" {
		callType = model.CallTypeAdHoc
	}

	session := &model.CallSession{
		HouseholdID: req.HouseholdID,
		RelativeID:  req.RelativeID,
		Provider:    "elevenlabs",
		CallType:    callType,
		State:       model.SessionCreated,
	}
	if err := s.sessions.Create(session); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// Lost the insert race to a concurrent start.
			return nil, apperr.Validation("a call is already in progress for this relative")
		}
		return nil, apperr.Internal("failed to create session").WithCause(err)
	}

	token, err := s.broker.RequestToken(ctx, convai.TokenRequest{
		SessionID:    session.ID.String(),
		HouseholdID:  session.HouseholdID.String(),
		RelativeID:   session.RelativeID.String(),
		RelativeName: relative.DisplayName,
		Locale:       relative.Locale,
	})
	if err != nil {
		reason := model.FailReasonCredentialIssuance
		now := time.Now()
		if _, ferr := s.sessions.Transition(session.ID, model.SessionCreated, model.SessionFailed, repository.TransitionUpdate{
			FailReason: &reason,
			EndedAt:    &now,
		}); ferr != nil {
			log.Printf("⚠️ Failed to mark session %s failed: %v", session.ID, ferr)
		}
		return nil, err
	}

	ok, err := s.sessions.Transition(session.ID, model.SessionCreated, model.SessionCredentialRequested, repository.TransitionUpdate{
		ProviderConversationID: &token.ConversationID,
	})
	if err != nil || !ok {
		return nil, apperr.Internal("failed to record conversation credential").WithCause(err)
	}
	session.State = model.SessionCredentialRequested
	session.ProviderConversationID = &token.ConversationID

	// Resolve the push target at dispatch time; bindings rotate and
	// must never be cached across calls.
	var dispatchErr *string
	target, err := s.devices.FindByRelative(req.HouseholdID, req.RelativeID)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		log.Printf("📭 No paired device for relative %s, relying on in-app channel", req.RelativeID)
	case err != nil:
		return nil, apperr.Internal("failed to resolve push target").WithCause(err)
	default:
		note := push.Notification{
			Title: "Incoming call",
			Body:  "CareLine is calling " + relative.DisplayName,
			Data: push.StringifyData(map[string]interface{}{
				"type":         "incoming_call",
				"session_id":   session.ID,
				"relative_id":  session.RelativeID,
				"conversation": token.ConversationID,
				"token":        token.Token,
			}),
		}
		if _, derr := s.dispatcher.Notify(ctx, session, target, note); derr != nil {
			msg := apperr.From(derr).Message
			dispatchErr = &msg
		}
	}

	ok, err = s.sessions.Transition(session.ID, model.SessionCredentialRequested, model.SessionDispatched, repository.TransitionUpdate{
		DispatchError: dispatchErr,
	})
	if err != nil || !ok {
		return nil, apperr.Internal("failed to record dispatch").WithCause(err)
	}
	session.State = model.SessionDispatched
	session.DispatchError = dispatchErr

	s.publish(session, model.WSEventCallStarted)

	return session, nil
}

// MarkRinging records the device's acknowledgement of the incoming call
func (s *CallService) MarkRinging(ctx context.Context, claims *auth.Claims, sessionID uuid.UUID) (*model.CallSession, error) {
	return s.advance(claims, sessionID, model.SessionRinging, repository.TransitionUpdate{})
}

// AttachConversation records the provider conversation id reported by
// the device. Some client SDK versions open the conversation themselves
// and only learn the id after connecting.
func (s *CallService) AttachConversation(ctx context.Context, claims *auth.Claims, sessionID uuid.UUID, conversationID string) (*model.CallSession, error) {
	session, err := s.load(claims, sessionID)
	if err != nil {
		return nil, err
	}
	if session.IsTerminal() {
		return nil, apperr.InvalidTransition(string(session.State), string(session.State))
	}
	if session.ProviderConversationID != nil && *session.ProviderConversationID != conversationID {
		return nil, apperr.Validation("session is already bound to a different conversation")
	}
	if session.ProviderConversationID != nil {
		return session, nil
	}
	ok, err := s.sessions.Transition(session.ID, session.State, session.State, repository.TransitionUpdate{
		ProviderConversationID: &conversationID,
	})
	if err != nil || !ok {
		return nil, apperr.Internal("failed to attach conversation").WithCause(err)
	}
	session.ProviderConversationID = &conversationID
	return session, nil
}

// MarkActive records the established conversation. The session must
// already carry its provider conversation id.
func (s *CallService) MarkActive(ctx context.Context, claims *auth.Claims, sessionID uuid.UUID) (*model.CallSession, error) {
	session, err := s.load(claims, sessionID)
	if err != nil {
		return nil, err
	}
	if session.ProviderConversationID == nil {
		return nil, apperr.InvalidTransition(string(session.State), string(model.SessionActive))
	}
	now := time.Now()
	return s.transition(session, model.SessionActive, repository.TransitionUpdate{StartedAt: &now})
}

// ReportOutcome finalizes the session with its terminal outcome
func (s *CallService) ReportOutcome(ctx context.Context, claims *auth.Claims, sessionID uuid.UUID, req model.ReportOutcomeRequest) (*model.CallSession, error) {
	if !req.Outcome.Valid() {
		return nil, apperr.Validation("unknown call outcome")
	}
	if req.Outcome != model.OutcomeAnswered && req.DurationSeconds != nil {
		return nil, apperr.Validation("duration is only recorded for answered calls")
	}

	session, err := s.load(claims, sessionID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	upd := repository.TransitionUpdate{
		Outcome: &req.Outcome,
		EndedAt: &now,
	}
	if req.Outcome == model.OutcomeAnswered {
		upd.DurationSeconds = req.DurationSeconds
	}
	if req.Summary != nil {
		upd.Summary = req.Summary
	}

	finalized, err := s.transition(session, model.SessionEnded, upd)
	if err != nil {
		return nil, err
	}

	s.publish(finalized, model.WSEventCallEnded)
	return finalized, nil
}

// AttachConversationSummary stores a late-arriving post-call summary on
// an already-terminal session
func (s *CallService) AttachConversationSummary(ctx context.Context, claims *auth.Claims, sessionID uuid.UUID, summary json.RawMessage) error {
	session, err := s.load(claims, sessionID)
	if err != nil {
		return err
	}
	if !session.IsTerminal() {
		return apperr.Validation("summary can only be attached to a finished session")
	}
	if err := s.sessions.AttachSummary(session.ID, summary); err != nil {
		return apperr.Internal("failed to attach summary").WithCause(err)
	}
	return nil
}

// ListSessions returns recent sessions for a household dashboard
func (s *CallService) ListSessions(ctx context.Context, claims *auth.Claims, householdID uuid.UUID, limit int) ([]model.CallSession, error) {
	if claims.IsDevice() {
		return nil, apperr.Forbidden("devices cannot list sessions")
	}
	if err := s.gate.RequireMember(householdID, claims.UserID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	sessions, err := s.sessions.ListByHousehold(householdID, limit)
	if err != nil {
		return nil, apperr.Internal("failed to list sessions").WithCause(err)
	}
	return sessions, nil
}

// Reconcile force-finalizes sessions stuck past the timeout. Push
// delivery and client callbacks are both unreliable; without this pass
// an unanswered wake would leave the session open forever. The provider
// is consulted first so a conversation that genuinely finished is
// recorded with its real outcome instead of a timeout.
func (s *CallService) Reconcile(ctx context.Context) {
	stuck, err := s.sessions.FindStuck(time.Now().Add(-s.timeout))
	if err != nil {
		log.Printf("⚠️ Reconcile: failed to list stuck sessions: %v", err)
		return
	}

	for i := range stuck {
		session := &stuck[i]

		if session.ProviderConversationID != nil {
			status, err := s.broker.FetchConversation(ctx, *session.ProviderConversationID)
			if err == nil && status.Done() {
				s.finalizeFromProvider(session, status)
				continue
			}
		}

		reason := model.FailReasonTimeout
		now := time.Now()
		ok, err := s.sessions.Transition(session.ID, session.State, model.SessionFailed, repository.TransitionUpdate{
			FailReason: &reason,
			EndedAt:    &now,
		})
		if err != nil {
			log.Printf("⚠️ Reconcile: failed to time out session %s: %v", session.ID, err)
			continue
		}
		if !ok {
			// A callback landed between the query and the update; the
			// optimistic check keeps the record consistent.
			continue
		}
		session.State = model.SessionFailed
		session.FailReason = &reason
		log.Printf("⏰ Session %s timed out after %s", session.ID, s.timeout)
		s.publish(session, model.WSEventCallEnded)
	}
}

// RunReconciler loops the reconciliation pass until the context ends
func (s *CallService) RunReconciler(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("🔄 Session reconciler started (interval %s, timeout %s)", interval, s.timeout)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Reconcile(ctx)
		}
	}
}

// finalizeFromProvider records a provider-confirmed completion
func (s *CallService) finalizeFromProvider(session *model.CallSession, status *convai.ConversationStatus) {
	outcome := model.OutcomeAnswered
	now := time.Now()
	upd := repository.TransitionUpdate{
		Outcome:         &outcome,
		DurationSeconds: &status.DurationSeconds,
		EndedAt:         &now,
	}
	if status.Summary != nil {
		upd.Summary = status.Summary
	}
	ok, err := s.sessions.Transition(session.ID, session.State, model.SessionEnded, upd)
	if err != nil || !ok {
		log.Printf("⚠️ Reconcile: failed to finalize session %s from provider: %v", session.ID, err)
		return
	}
	session.State = model.SessionEnded
	session.Outcome = &outcome
	session.DurationSeconds = &status.DurationSeconds
	log.Printf("✅ Session %s finalized from provider status", session.ID)
	s.publish(session, model.WSEventCallEnded)
}

// load fetches the session and verifies the caller may act on it
func (s *CallService) load(claims *auth.Claims, sessionID uuid.UUID) (*model.CallSession, error) {
	session, err := s.sessions.FindByID(sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("session")
		}
		return nil, apperr.Internal("failed to load session").WithCause(err)
	}
	if err := s.gate.RequireSessionAccess(claims, session); err != nil {
		return nil, err
	}
	if claims.IsDevice() {
		// Device callbacks double as liveness signals.
		if err := s.devices.TouchLastSeen(claims.DeviceID); err != nil {
			log.Printf("⚠️ Failed to touch last_seen for device %s: %v", claims.DeviceID, err)
		}
	}
	return session, nil
}

// advance is load + transition for simple forward steps
func (s *CallService) advance(claims *auth.Claims, sessionID uuid.UUID, to model.SessionState, upd repository.TransitionUpdate) (*model.CallSession, error) {
	session, err := s.load(claims, sessionID)
	if err != nil {
		return nil, err
	}
	return s.transition(session, to, upd)
}

// transition validates the state change and applies it optimistically;
// a concurrent update that moved the session first surfaces as an
// InvalidTransition against the fresh state
func (s *CallService) transition(session *model.CallSession, to model.SessionState, upd repository.TransitionUpdate) (*model.CallSession, error) {
	if !session.State.CanTransition(to) {
		return nil, apperr.InvalidTransition(string(session.State), string(to))
	}
	ok, err := s.sessions.Transition(session.ID, session.State, to, upd)
	if err != nil {
		return nil, apperr.Internal("failed to update session").WithCause(err)
	}
	if !ok {
		current, err := s.sessions.FindByID(session.ID)
		if err != nil {
			return nil, apperr.InvalidTransition(string(session.State), string(to))
		}
		return nil, apperr.InvalidTransition(string(current.State), string(to))
	}

	refreshed, err := s.sessions.FindByID(session.ID)
	if err != nil {
		return nil, apperr.Internal("failed to reload session").WithCause(err)
	}
	return refreshed, nil
}

// publish fans a session event out to the household channel
func (s *CallService) publish(session *model.CallSession, eventType model.WSEventType) {
	if s.publisher == nil {
		return
	}
	s.publisher.PublishToHousehold(session.HouseholdID, &model.WSEvent{
		Type: eventType,
		Payload: model.CallEventPayload{
			SessionID:       session.ID,
			HouseholdID:     session.HouseholdID,
			RelativeID:      session.RelativeID,
			State:           session.State,
			Outcome:         session.Outcome,
			FailReason:      session.FailReason,
			DurationSeconds: session.DurationSeconds,
		},
	})
}
