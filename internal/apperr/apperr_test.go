package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	cases := map[*Error]int{
		Validation("bad"):           http.StatusBadRequest,
		NotFound("session"):         http.StatusNotFound,
		Forbidden("no"):             http.StatusForbidden,
		RateLimited(30):             http.StatusTooManyRequests,
		InvalidTransition("a", "b"): http.StatusConflict,
		Upstream("provider down"):   http.StatusBadGateway,
		Delivery("gateway refused"): http.StatusBadGateway,
		Internal("boom"):            http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, err.HTTPStatus(), "code %s", err.Code)
	}
}

func TestFrom(t *testing.T) {
	t.Run("passes application errors through", func(t *testing.T) {
		err := NotFound("device")
		assert.Equal(t, err, From(err))
	})

	t.Run("unwraps wrapped application errors", func(t *testing.T) {
		err := fmt.Errorf("handler: %w", Forbidden("nope"))
		assert.Equal(t, CodeForbidden, From(err).Code)
	})

	t.Run("unknown errors become internal without leaking the message", func(t *testing.T) {
		appErr := From(errors.New("pq: connection refused"))
		assert.Equal(t, CodeInternal, appErr.Code)
		assert.NotContains(t, appErr.Message, "pq:")
	})
}

func TestIs(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", RateLimited(10))
	assert.True(t, Is(err, CodeRateLimited))
	assert.False(t, Is(err, CodeNotFound))
	assert.False(t, Is(errors.New("plain"), CodeInternal))
}

func TestWithCause(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := Internal("failed to save").WithCause(cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "dial tcp")
}
