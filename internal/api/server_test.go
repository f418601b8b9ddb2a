package api

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signaldispatcher/internal/accounts"
	"signaldispatcher/internal/dispatch"
	"signaldispatcher/internal/notify"
	"signaldispatcher/internal/process"
)

func TestNewServer_RejectsInvalidPort(t *testing.T) {
	adapter := &fakeAdapter{}
	notifier := notify.NewLogNotifier(zerolog.Nop())
	registry := accounts.NewWithAccounts(map[string]*accounts.Account{
		"main": {Name: "main", Adapter: adapter, Processor: process.New("main", adapter, notifier)},
	})
	d := dispatch.New(1, registry.Get, notifier)

	_, err := NewServer(ServerConfig{Port: -1}, d, registry, zerolog.Nop())
	require.Error(t, err)
}

func TestServer_StartAndShutdown(t *testing.T) {
	adapter := &fakeAdapter{}
	notifier := notify.NewLogNotifier(zerolog.Nop())
	registry := accounts.NewWithAccounts(map[string]*accounts.Account{
		"main": {Name: "main", Adapter: adapter, Processor: process.New("main", adapter, notifier)},
	})
	d := dispatch.New(1, registry.Get, notifier)

	server, err := NewServer(ServerConfig{Port: 18372}, d, registry, zerolog.Nop())
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	// Give the listener a moment to bind before probing/shutting down.
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, server.Shutdown(ctx))

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop in time")
	}
}
