package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/dispatchvoice/internal/call"
)

func TestCallManager_IdleOperations(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig(t))
	m := f.app.Calls()

	if info := m.Info(); info.CallID != "" || info.Active {
		t.Errorf("Info before first call = %+v", info)
	}
	if err := m.EndCall(context.Background()); !errors.Is(err, call.ErrNoCall) {
		t.Errorf("EndCall err = %v, want ErrNoCall", err)
	}
	if err := m.Stop(context.Background()); err != nil {
		t.Errorf("Stop without call: %v", err)
	}
	if err := m.Wait(); err != nil {
		t.Errorf("Wait without call: %v", err)
	}
}

func TestCallManager_StartEndRestart(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig(t))
	m := f.app.Calls()

	first, err := m.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := m.Start(context.Background()); !errors.Is(err, call.ErrCallActive) {
		t.Errorf("second Start err = %v, want ErrCallActive", err)
	}
	eventually(t, "greeting", func() bool { return len(f.player.Played()) >= 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.EndCall(ctx); err != nil {
		t.Fatalf("EndCall: %v", err)
	}
	if info := m.Info(); info.Active || info.CallID != first.CallID {
		t.Errorf("Info after end = %+v", info)
	}

	// A fresh stream for the next call.
	f.source.Stream = nil
	second, err := m.Start(context.Background())
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if second.CallID == first.CallID {
		t.Error("restart reused the call ID")
	}
}

func TestCallManager_SetConfigRejectsInvalid(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig(t))
	cfg := call.DefaultConfig()
	cfg.PollInterval = 0
	if err := f.app.Calls().SetConfig(cfg); err == nil {
		t.Error("expected validation error")
	}
}
