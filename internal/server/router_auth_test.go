package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MarcoPoloResearchLab/avatarmirror/internal/auth"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type stubTokenValidator struct {
	subject     string
	validateErr error
	seen        []string
}

func (s *stubTokenValidator) ValidateToken(token string) (jwt.RegisteredClaims, error) {
	s.seen = append(s.seen, token)
	if s.validateErr != nil {
		return jwt.RegisteredClaims{}, s.validateErr
	}
	return jwt.RegisteredClaims{Subject: s.subject}, nil
}

func TestAuthorizeRequestLogsExpiredTokenAtInfoLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodPost, "/hooks/comments", http.NoBody)
	request.Header.Set("Authorization", "Bearer expired-token")
	ctx.Request = request

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		tokens: &stubTokenValidator{validateErr: auth.ErrExpiredHookToken},
		logger: zap.New(core),
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != zapcore.InfoLevel {
		t.Fatalf("expected info level for expired token, got %s", entry.Level)
	}
	if entry.Message != "token validation failed" {
		t.Fatalf("unexpected log message: %q", entry.Message)
	}
	hasExpired := false
	for _, field := range entry.Context {
		if field.Type == zapcore.ErrorType && errors.Is(field.Interface.(error), auth.ErrExpiredHookToken) {
			hasExpired = true
			break
		}
	}
	if !hasExpired {
		t.Fatalf("expected expired token error context, got %v", entry.Context)
	}
}

func TestAuthorizeRequestLogsUnexpectedTokenErrorAtWarnLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodPost, "/hooks/comments", http.NoBody)
	request.Header.Set("Authorization", "Bearer invalid-token")
	ctx.Request = request

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		tokens: &stubTokenValidator{validateErr: errors.New("signature mismatch")},
		logger: zap.New(core),
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 || entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected one warn entry, got %v", entries)
	}
}

func TestAuthorizeRequestTokenSources(t *testing.T) {
	gin.SetMode(gin.TestMode)
	testCases := []struct {
		name       string
		target     string
		header     string
		wantStatus int
		wantToken  string
	}{
		{name: "bearer header", target: "/hooks/comments", header: "Bearer abc", wantStatus: http.StatusOK, wantToken: "abc"},
		{name: "query parameter", target: "/events/avatars?access_token=xyz", wantStatus: http.StatusOK, wantToken: "xyz"},
		{name: "basic header", target: "/hooks/comments?access_token=xyz", header: "Basic abc", wantStatus: http.StatusUnauthorized},
		{name: "missing", target: "/hooks/comments", wantStatus: http.StatusUnauthorized},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			ctx, _ := gin.CreateTestContext(recorder)
			request := httptest.NewRequest(http.MethodGet, testCase.target, http.NoBody)
			if testCase.header != "" {
				request.Header.Set("Authorization", testCase.header)
			}
			ctx.Request = request

			validator := &stubTokenValidator{subject: "blog.example"}
			handler := &httpHandler{tokens: validator, logger: zap.NewNop()}
			handler.authorizeRequest(ctx)

			if testCase.wantStatus == http.StatusUnauthorized {
				if recorder.Code != http.StatusUnauthorized {
					t.Fatalf("expected 401, got %d", recorder.Code)
				}
				return
			}
			if ctx.IsAborted() {
				t.Fatalf("expected request to pass")
			}
			if len(validator.seen) != 1 || validator.seen[0] != testCase.wantToken {
				t.Fatalf("unexpected tokens %v", validator.seen)
			}
			if ctx.GetString(hookSubjectContextKey) != "blog.example" {
				t.Fatalf("expected subject in context")
			}
		})
	}
}
