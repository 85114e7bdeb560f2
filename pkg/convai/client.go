// Package convai talks to the conversational-AI voice provider: it
// brokers short-lived conversation tokens for call sessions and reads
// back conversation status for reconciliation. The conversation content
// itself never passes through this service.
package convai

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/careline/careline-api/internal/apperr"
	"github.com/careline/careline-api/internal/config"
)

// Client is the HTTP client for the voice provider's agent API
type Client struct {
	http    *resty.Client
	agentID string
}

// NewClient creates a provider client from configuration
func NewClient(cfg config.VoiceConfig) *Client {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetHeader("Content-Type", "application/json").
		SetHeader("xi-api-key", cfg.APIKey)

	return &Client{
		http:    client,
		agentID: cfg.AgentID,
	}
}

// TokenRequest carries the session context the provider surfaces back
// during the conversation (personalization and transcript correlation)
type TokenRequest struct {
	SessionID    string
	HouseholdID  string
	RelativeID   string
	RelativeName string
	Locale       string
}

// TokenResult is the short-lived credential the device uses to open the
// voice session directly with the provider
type TokenResult struct {
	Token          string
	ConversationID string
}

type tokenRequestBody struct {
	AgentID          string            `json:"agent_id"`
	ContextVariables map[string]string `json:"context_variables"`
}

type tokenResponseBody struct {
	Token          string `json:"token"`
	ConversationID string `json:"conversation_id"`
}

// RequestToken asks the provider for a conversation token scoped to the
// session
func (c *Client) RequestToken(ctx context.Context, req TokenRequest) (*TokenResult, error) {
	body := tokenRequestBody{
		AgentID: c.agentID,
		ContextVariables: map[string]string{
			"session_id":    req.SessionID,
			"household_id":  req.HouseholdID,
			"relative_id":   req.RelativeID,
			"relative_name": req.RelativeName,
			"locale":        req.Locale,
		},
	}

	var tokenResp tokenResponseBody
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&tokenResp).
		Post("/v1/convai/conversation/token")
	if err != nil {
		return nil, apperr.Upstream("voice provider unreachable").WithCause(err)
	}
	if resp.IsError() {
		log.Printf("⚠️ Voice provider rejected token request: status %d", resp.StatusCode())
		return nil, apperr.Upstream(fmt.Sprintf("voice provider rejected token request (status %d)", resp.StatusCode())).
			WithCause(fmt.Errorf("provider response: %s", resp.String()))
	}
	if tokenResp.Token == "" || tokenResp.ConversationID == "" {
		return nil, apperr.Upstream("voice provider returned incomplete token response")
	}

	return &TokenResult{
		Token:          tokenResp.Token,
		ConversationID: tokenResp.ConversationID,
	}, nil
}

// ConversationStatus is the provider's view of a conversation, polled
// by the reconciliation pass for sessions that never reported back
type ConversationStatus struct {
	ConversationID  string          `json:"conversation_id"`
	Status          string          `json:"status"` // initiated, in-progress, done, failed
	DurationSeconds int             `json:"call_duration_secs"`
	Summary         json.RawMessage `json:"analysis,omitempty"`
}

// Done reports whether the provider considers the conversation finished
func (s *ConversationStatus) Done() bool {
	return s.Status == "done"
}

// FetchConversation reads the current status of a conversation
func (c *Client) FetchConversation(ctx context.Context, conversationID string) (*ConversationStatus, error) {
	var status ConversationStatus
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&status).
		Get("/v1/convai/conversations/" + conversationID)
	if err != nil {
		return nil, apperr.Upstream("voice provider unreachable").WithCause(err)
	}
	if resp.IsError() {
		return nil, apperr.Upstream(fmt.Sprintf("voice provider conversation lookup failed (status %d)", resp.StatusCode()))
	}
	return &status, nil
}
