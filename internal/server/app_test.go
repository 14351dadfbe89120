package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/chatline/internal/logging"
)

func TestNewAppInMemory(t *testing.T) {
	cfg := testConfig()
	cfg.Port = "127.0.0.1:0"

	app, err := NewApp(context.Background(), cfg, true, logging.NewNop())
	require.NoError(t, err)
	require.NotNil(t, app.Hub())

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNewAppRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	cfg := NewConfigFromEnv().Sanitize()
	require.Empty(t, cfg.JWTSecret, "no built-in secret")

	for _, memory := range []bool{true, false} {
		app, err := NewApp(context.Background(), cfg, memory, logging.NewNop())
		assert.ErrorIs(t, err, ErrMissingSecret)
		assert.Nil(t, app)
	}
}

func TestAppRunStopsOnCancel(t *testing.T) {
	cfg := testConfig()
	cfg.Port = "127.0.0.1:0"

	app, err := NewApp(context.Background(), cfg, true, logging.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestAppRunReportsListenFailure(t *testing.T) {
	cfg := testConfig()
	cfg.Port = "256.0.0.1:bad"

	app, err := NewApp(context.Background(), cfg, true, logging.NewNop())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- app.Run(context.Background()) }()

	select {
	case err := <-done:
		assert.ErrorContains(t, err, "http server")
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after listen failure")
	}
}
