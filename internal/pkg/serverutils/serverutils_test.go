package serverutils

import (
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"research-chat-be/pkg/rag/chaterr"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCode  int
		wantRetry bool
		wantData  bool
	}{
		{name: "fiber error", err: fiber.ErrUnauthorized, wantCode: 401},
		{name: "invalid", err: fmt.Errorf("%w: empty", chaterr.ErrInvalidRequest), wantCode: 400},
		{name: "not found", err: chaterr.ErrNotFound, wantCode: 404},
		{name: "ownership", err: chaterr.ErrOwnershipViolation, wantCode: 403},
		{name: "timeout", err: &chaterr.TurnError{Stage: chaterr.StageGeneration, Err: chaterr.ErrGenerationTimeout}, wantCode: 504, wantRetry: true, wantData: true},
		{name: "no data", err: chaterr.ErrNoDataTimeout, wantCode: 504},
		{name: "retrieval", err: &chaterr.TurnError{Stage: chaterr.StageRetrieval, Err: chaterr.ErrRetrievalFailure}, wantCode: 502, wantRetry: true, wantData: true},
		{name: "unknown", err: errors.New("boom"), wantCode: 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, data := StatusFor(tt.err)
			assert.Equal(t, tt.wantCode, code)
			if !tt.wantData {
				assert.Nil(t, data)
				return
			}
			require.NotNil(t, data)
			assert.Equal(t, tt.wantRetry, data.Retryable)
		})
	}
}

func TestValidateRequest(t *testing.T) {
	type req struct {
		Name string `validate:"required"`
	}
	assert.NoError(t, ValidateRequest(req{Name: "x"}))
	assert.ErrorIs(t, ValidateRequest(req{}), chaterr.ErrInvalidRequest)
}

func signed(t *testing.T, secret string, method jwt.SigningMethod, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestJwtMiddleware(t *testing.T) {
	const secret = "s3cret"
	exp := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name     string
		secret   string
		header   string
		wantCode int
		wantUser string
	}{
		{name: "disabled passes through", secret: "", wantCode: 200, wantUser: "body-user"},
		{name: "missing token", secret: secret, wantCode: 401},
		{name: "valid token", secret: secret, header: "Bearer " + signed(t, secret, jwt.SigningMethodHS256, jwt.MapClaims{"user_id": "u1", "exp": exp}), wantCode: 200, wantUser: "u1"},
		{name: "wrong secret", secret: secret, header: "Bearer " + signed(t, "other", jwt.SigningMethodHS256, jwt.MapClaims{"user_id": "u1", "exp": exp}), wantCode: 401},
		{name: "no user claim", secret: secret, header: "Bearer " + signed(t, secret, jwt.SigningMethodHS256, jwt.MapClaims{"exp": exp}), wantCode: 401},
		{name: "expired", secret: secret, header: "Bearer " + signed(t, secret, jwt.SigningMethodHS256, jwt.MapClaims{"user_id": "u1", "exp": time.Now().Add(-time.Hour).Unix()}), wantCode: 401},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Use(ErrorHandlerMiddleware())
			app.Get("/me", JwtMiddleware(tt.secret), func(ctx *fiber.Ctx) error {
				return ctx.SendString(UserID(ctx, "body-user"))
			})

			req := httptest.NewRequest("GET", "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCode, resp.StatusCode)

			if tt.wantUser != "" {
				body, err := io.ReadAll(resp.Body)
				require.NoError(t, err)
				assert.Equal(t, tt.wantUser, string(body))
			}
		})
	}
}
