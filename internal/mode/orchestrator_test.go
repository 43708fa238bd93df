package mode

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"aether-trading-bot/internal/database"
)

type fakeModeStore struct {
	state   *database.ModeState
	history []*database.ModeChange
	writes  int
}

func (f *fakeModeStore) GetModeState(ctx context.Context) (*database.ModeState, error) {
	return f.state, nil
}

func (f *fakeModeStore) SetModeState(ctx context.Context, fromMode, toMode, changedBy, reason string) error {
	f.writes++
	f.state = &database.ModeState{
		CurrentMode:   toMode,
		LastChangedAt: time.Now().UTC(),
		ChangedBy:     changedBy,
		Reason:        reason,
	}
	f.history = append(f.history, &database.ModeChange{
		FromMode:  fromMode,
		ToMode:    toMode,
		ChangedBy: changedBy,
		Reason:    reason,
	})
	return nil
}

func (f *fakeModeStore) GetModeHistory(ctx context.Context, limit int) ([]*database.ModeChange, error) {
	return f.history, nil
}

func newTestOrchestrator() (*Orchestrator, *fakeModeStore) {
	store := &fakeModeStore{state: &database.ModeState{CurrentMode: database.ModePaper}}
	return NewOrchestrator(store, zerolog.Nop()), store
}

func TestSetModeRejectsInvalid(t *testing.T) {
	o, _ := newTestOrchestrator()

	if _, err := o.SetMode(context.Background(), "DEMO", true, "ops", "test"); err == nil {
		t.Fatal("invalid mode must fail")
	}
}

func TestSetModeLiveRequiresConfirmation(t *testing.T) {
	o, store := newTestOrchestrator()

	if _, err := o.SetMode(context.Background(), database.ModeLive, false, "ops", "go live"); err == nil {
		t.Fatal("unconfirmed LIVE switch must fail")
	}
	if store.writes != 0 {
		t.Fatal("a refused switch must not touch the store")
	}
	if mode, _ := o.GetCurrentMode(context.Background()); mode != database.ModePaper {
		t.Fatalf("mode = %s, want PAPER untouched", mode)
	}
}

func TestSetModeSameModeIsNoOp(t *testing.T) {
	o, store := newTestOrchestrator()

	state, err := o.SetMode(context.Background(), database.ModePaper, false, "ops", "redundant")
	if err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	if state.CurrentMode != database.ModePaper {
		t.Fatalf("mode = %s", state.CurrentMode)
	}
	if store.writes != 0 || len(store.history) != 0 {
		t.Fatal("a same-mode set must write no history row")
	}
}

func TestSetModeLiveConfirmed(t *testing.T) {
	o, store := newTestOrchestrator()

	state, err := o.SetMode(context.Background(), database.ModeLive, true, "alice", "rollout")
	if err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	if state.CurrentMode != database.ModeLive {
		t.Fatalf("mode = %s, want LIVE", state.CurrentMode)
	}
	if state.ChangedBy != "alice" || state.Reason != "rollout" {
		t.Errorf("attribution = %s/%s", state.ChangedBy, state.Reason)
	}

	if len(store.history) != 1 {
		t.Fatalf("history rows = %d, want 1", len(store.history))
	}
	change := store.history[0]
	if change.FromMode != database.ModePaper || change.ToMode != database.ModeLive {
		t.Errorf("transition = %s -> %s", change.FromMode, change.ToMode)
	}
}

func TestSetModeBackToPaperNeedsNoConfirmation(t *testing.T) {
	o, _ := newTestOrchestrator()

	if _, err := o.SetMode(context.Background(), database.ModeLive, true, "ops", "rollout"); err != nil {
		t.Fatalf("go live: %v", err)
	}
	state, err := o.SetMode(context.Background(), database.ModePaper, false, "ops", "back off")
	if err != nil {
		t.Fatalf("downgrade to PAPER must never need confirmation: %v", err)
	}
	if state.CurrentMode != database.ModePaper {
		t.Fatalf("mode = %s, want PAPER", state.CurrentMode)
	}
}
