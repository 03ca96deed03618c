package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func TestGenerateTokenAndOrgIDFromContext(t *testing.T) {
	secret := "test-secret"
	signed, expiresAt, err := GenerateToken("user-1", "org-42", secret, time.Hour)
	assert.NoError(t, err)
	assert.NotEmpty(t, signed)
	assert.True(t, expiresAt.After(time.Now()))

	token, err := jwt.Parse(signed, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	assert.NoError(t, err)
	assert.True(t, token.Valid)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("user", token)

	orgID, err := OrgIDFromContext(c)
	assert.NoError(t, err)
	assert.Equal(t, "org-42", orgID)
}

func TestGenerateTokenValidation(t *testing.T) {
	_, _, err := GenerateToken("", "org-1", "secret", time.Hour)
	assert.Error(t, err)

	_, _, err = GenerateToken("user-1", "org-1", "", time.Hour)
	assert.Error(t, err)

	_, _, err = GenerateToken("user-1", "org-1", "secret", 0)
	assert.Error(t, err)
}

func TestOrgIDFromContextMissingToken(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	_, err := OrgIDFromContext(c)
	assert.Error(t, err)
}
