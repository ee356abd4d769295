package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func preflight(t *testing.T, allowedOrigins []string, origin string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(corsMiddleware(allowedOrigins))
	router.OPTIONS("/notifications", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	request := httptest.NewRequest(http.MethodOptions, "/notifications", http.NoBody)
	request.Header.Set("Origin", origin)
	request.Header.Set("Access-Control-Request-Method", http.MethodGet)
	request.Header.Set("Access-Control-Request-Headers", "Authorization")

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	return recorder
}

func TestCORSMiddlewareAllowsConfiguredOrigin(t *testing.T) {
	recorder := preflight(t, []string{"https://app.example.com"}, "https://app.example.com")

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, recorder.Code)
	}
	if recorder.Header().Get("Access-Control-Allow-Origin") != "https://app.example.com" {
		t.Fatalf("expected origin to be echoed, got %q", recorder.Header().Get("Access-Control-Allow-Origin"))
	}
	allowHeaders := recorder.Header().Get("Access-Control-Allow-Headers")
	if !strings.Contains(strings.ToLower(allowHeaders), "authorization") {
		t.Fatalf("expected Access-Control-Allow-Headers to include Authorization, got %q", allowHeaders)
	}
	if recorder.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatalf("expected credentials to be enabled")
	}
}

func TestCORSMiddlewareRejectsUnknownOrigin(t *testing.T) {
	recorder := preflight(t, []string{"https://app.example.com"}, "https://evil.example.com")
	if recorder.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("unexpected allow origin %q", recorder.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestOriginCheckerAdmitsConfiguredAndHeaderlessClients(t *testing.T) {
	check := originChecker([]string{"https://app.example.com"})
	cases := map[string]bool{
		"https://app.example.com":  true,
		"":                         true,
		"https://evil.example.com": false,
	}
	for origin, expected := range cases {
		request := httptest.NewRequest(http.MethodGet, "/ws", http.NoBody)
		if origin != "" {
			request.Header.Set("Origin", origin)
		}
		if got := check(request); got != expected {
			t.Fatalf("origin %q: expected %v, got %v", origin, expected, got)
		}
	}
}
