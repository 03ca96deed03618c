package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"

	"github.com/loopline-io/loopline/internal/config"
	"github.com/loopline-io/loopline/internal/observability"
)

func newTestHandler() *Handler {
	cfg := config.MetaConfig{AppSecret: "app-secret", VerifyToken: "verify-me"}
	return NewHandler(slog.Default(), cfg, nil, nil, observability.NewNopMetrics())
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyChallengeEcho(t *testing.T) {
	t.Parallel()

	h := newTestHandler()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet,
		"/webhooks/messenger?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=chal-123", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("provider")
	c.SetParamValues("messenger")

	assert.NoError(t, h.Verify(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "chal-123", rec.Body.String())
}

func TestVerifyRejectsWrongToken(t *testing.T) {
	t.Parallel()

	h := newTestHandler()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet,
		"/webhooks/messenger?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=chal-123", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	assert.NoError(t, h.Verify(c))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestReceiveRejectsTamperedBody(t *testing.T) {
	t.Parallel()

	h := newTestHandler()
	original := []byte(`{"entry":[]}`)
	signature := sign("app-secret", original)
	tampered := []byte(`{"entry":[1]}`)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/messenger", bytes.NewReader(tampered))
	req.Header.Set(signatureHeader, signature)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("provider")
	c.SetParamValues("messenger")

	assert.NoError(t, h.Receive(c))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestReceiveRejectsMissingSignature(t *testing.T) {
	t.Parallel()

	h := newTestHandler()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/messenger", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("provider")
	c.SetParamValues("messenger")

	assert.NoError(t, h.Receive(c))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestValidSignature(t *testing.T) {
	t.Parallel()

	h := newTestHandler()
	body := []byte(`{"entry":[]}`)
	assert.True(t, h.validSignature(body, sign("app-secret", body)))
	assert.False(t, h.validSignature(body, sign("other-secret", body)))
	assert.False(t, h.validSignature(body, "no-prefix"))
}
