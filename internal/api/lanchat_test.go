package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLanChatApp(t *testing.T) {
	ta := newTestApp(t, nil)
	app := ta.app

	assert.NotNil(t, app, "expected app to be initialized")
	assert.NotNil(t, app.mux, "expected server to be initialized")
	assert.NotNil(t, app.log, "expected logger to be set")
	assert.Equal(t, ta.db, app.db, "expected db to be set")
	assert.Equal(t, ta.notifier, app.notifier, "expected notifier to be set")
	assert.Equal(t, "localhost:0", app.mux.Addr, "expected server address to match config")
	assert.Equal(t, []string{"http://localhost:3000"}, app.allowedOrigins)
	assert.EqualValues(t, 1024, app.maxUpload)
}

func TestLanChatApp_StartShutdown(t *testing.T) {
	ta := newTestApp(t, nil)

	errCh := make(chan error, 1)
	go func() {
		errCh <- ta.app.Start()
	}()

	// give ListenAndServe a moment to bind
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, ta.app.Shutdown(ctx))

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, http.ErrServerClosed)
	case <-time.After(time.Second):
		t.Fatal("expected Start to return after Shutdown")
	}
}
