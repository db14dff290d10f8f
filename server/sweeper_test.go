package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/giantswarm/mcp-authserver/internal/testutil"
	"github.com/giantswarm/mcp-authserver/storage"
	"github.com/giantswarm/mcp-authserver/storage/memory"
	"github.com/giantswarm/mcp-authserver/storage/mock"
)

func TestSweeper_SweepOnce(t *testing.T) {
	ctx := context.Background()
	srv, store, clock := setupTestServer(t)
	client := saveTestClient(t, store)

	if _, err := srv.IssueCode(ctx, client.ClientID, testRedirectURI, "", "", "", ""); err != nil {
		t.Fatalf("IssueCode() error = %v", err)
	}
	pair := issueTestPair(t, srv, client.ClientID, "", "")

	sweeper := NewSweeper(store, time.Hour, nil)
	sweeper.SetClock(clock.Now)

	if got := sweeper.SweepOnce(ctx); got.Total() != 0 {
		t.Fatalf("SweepOnce() removed %d live records", got.Total())
	}

	// Past code and access token expiry, before refresh expiry.
	clock.Advance(2 * time.Hour)
	got := sweeper.SweepOnce(ctx)
	if got.Codes != 1 || got.AccessTokens != 1 || got.RefreshTokens != 0 {
		t.Errorf("SweepOnce() = %+v, want 1 code and 1 access token", got)
	}
	if _, err := srv.ValidateRefreshToken(ctx, pair.RefreshToken); err != nil {
		t.Errorf("refresh token should survive the sweep: %v", err)
	}

	clock.Advance(30 * 24 * time.Hour)
	if got := sweeper.SweepOnce(ctx); got.RefreshTokens != 1 {
		t.Errorf("SweepOnce() = %+v, want 1 refresh token", got)
	}
}

func TestSweeper_GracePeriod(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	clock := testutil.NewMockTime(testStart)

	access, refresh := testutil.GenerateTestTokenPair("client", testStart)
	if err := store.SaveTokenPair(ctx, access, refresh); err != nil {
		t.Fatalf("SaveTokenPair() error = %v", err)
	}

	sweeper := NewSweeper(store, time.Hour, nil)
	sweeper.SetClock(clock.Now)
	sweeper.SetGracePeriod(5 * time.Second)

	clock.Advance(time.Hour + 4*time.Second)
	if got := sweeper.SweepOnce(ctx); got.AccessTokens != 0 {
		t.Errorf("access token inside grace period was swept")
	}
	clock.Advance(time.Second)
	if got := sweeper.SweepOnce(ctx); got.AccessTokens != 1 {
		t.Errorf("SweepOnce() = %+v, want 1 access token", got)
	}
}

func TestSweeper_StartStop(t *testing.T) {
	ms := mock.New(memory.New())
	swept := make(chan struct{}, 1)
	ms.SweepFunc = func(ctx context.Context, now time.Time) (storage.SweepResult, error) {
		select {
		case swept <- struct{}{}:
		default:
		}
		return storage.SweepResult{}, nil
	}

	sweeper := NewSweeper(ms, 10*time.Millisecond, nil)
	sweeper.Start()
	sweeper.Start()

	select {
	case <-swept:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not run")
	}

	sweeper.Stop()
	sweeper.Stop()
}

func TestSweeper_StopBeforeStart(t *testing.T) {
	sweeper := NewSweeper(memory.New(), 0, nil)
	if sweeper.interval != DefaultSweepInterval {
		t.Errorf("interval = %v, want %v", sweeper.interval, DefaultSweepInterval)
	}
	sweeper.Stop()
}

func TestSweeper_StoreError(t *testing.T) {
	ms := mock.New(memory.New())
	ms.SweepFunc = func(ctx context.Context, now time.Time) (storage.SweepResult, error) {
		return storage.SweepResult{}, errors.New("sweep failed")
	}

	sweeper := NewSweeper(ms, time.Hour, nil)
	if got := sweeper.SweepOnce(context.Background()); got.Total() != 0 {
		t.Errorf("SweepOnce() = %+v, want empty result", got)
	}
}
