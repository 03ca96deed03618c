package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopline-io/loopline/internal/auth"
)

func authedContext(t *testing.T, e *echo.Echo, body string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	signed, _, err := auth.GenerateToken("user-1", "org-1", "secret", time.Hour)
	require.NoError(t, err)
	token, err := jwt.Parse(signed, func(token *jwt.Token) (interface{}, error) {
		return []byte("secret"), nil
	})
	require.NoError(t, err)

	e.Validator = NewValidator()
	req := httptest.NewRequest(http.MethodPost, "/messages/send", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("user", token)
	return c, rec
}

func TestSendRejectsMissingDestination(t *testing.T) {
	t.Parallel()

	h := NewSendHandler(slog.Default(), nil)
	e := echo.New()
	c, rec := authedContext(t, e, `{"text":"hi"}`)

	assert.NoError(t, h.Send(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp SendResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, "to or conversation_id")
}

func TestSendRejectsMissingContent(t *testing.T) {
	t.Parallel()

	h := NewSendHandler(slog.Default(), nil)
	e := echo.New()
	c, rec := authedContext(t, e, `{"to":"15551230000"}`)

	assert.NoError(t, h.Send(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendRejectsInvalidFields(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{"bad media url", `{"to":"15551230000","media_url":"not a url"}`},
		{"unknown transport", `{"to":"15551230000","text":"hi","transport":"carrier-pigeon"}`},
		{"malformed conversation id", `{"conversation_id":"not-a-uuid","text":"hi"}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			h := NewSendHandler(slog.Default(), nil)
			e := echo.New()
			c, rec := authedContext(t, e, tc.body)

			assert.NoError(t, h.Send(c))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestSendRequiresAuth(t *testing.T) {
	t.Parallel()

	h := NewSendHandler(slog.Default(), nil)
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/messages/send", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.Send(c)
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
}
