package sweeper_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/basket/sprintd/internal/board"
	"github.com/basket/sprintd/internal/bus"
	"github.com/basket/sprintd/internal/store"
	"github.com/basket/sprintd/internal/sweeper"
)

// waitFor polls check at short intervals until it returns true or the
// deadline elapses, avoiding a fixed sleep that would make the test flaky.
func waitFor(t *testing.T, deadline time.Duration, check func() bool) {
	t.Helper()
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		if check() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

type fakeReclaimer struct {
	mu    sync.Mutex
	calls int
	ids   []string
}

func (f *fakeReclaimer) ReclaimExpired(now time.Time) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.ids
}

func (f *fakeReclaimer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestSweeper_CallsReclaimExpiredOnEachTick(t *testing.T) {
	s, _ := store.New(t.TempDir())
	b := bus.New()
	bd := board.New(s, b, nil)
	reclaimer := &fakeReclaimer{ids: []string{"task-1"}}

	sw := sweeper.New(sweeper.Config{
		Board:     bd,
		Scheduler: reclaimer,
		Logger:    slog.Default(),
		Interval:  20 * time.Millisecond,
	})
	sw.Start(context.Background())
	defer sw.Stop()

	waitFor(t, 2*time.Second, func() bool {
		return reclaimer.callCount() >= 3
	})
}

func TestSweeper_RecomputesFinalizeDepsForEverySprint(t *testing.T) {
	s, _ := store.New(t.TempDir())
	b := bus.New()
	bd := board.New(s, b, nil)

	if _, err := bd.CreateSprint(board.CreateSprintInput{Name: "sprint-a"}); err != nil {
		t.Fatalf("create sprint: %v", err)
	}
	if _, err := bd.CreateSprint(board.CreateSprintInput{Name: "sprint-b"}); err != nil {
		t.Fatalf("create sprint: %v", err)
	}

	reclaimer := &fakeReclaimer{}
	sw := sweeper.New(sweeper.Config{
		Board:     bd,
		Scheduler: reclaimer,
		Logger:    slog.Default(),
		Interval:  15 * time.Millisecond,
	})
	sw.Start(context.Background())
	defer sw.Stop()

	// No assertion beyond "doesn't error and keeps ticking" is possible
	// without a finalize-gated task fixture; this exercises the sweep path
	// across multiple sprints without panicking or deadlocking the board.
	waitFor(t, 2*time.Second, func() bool {
		return reclaimer.callCount() >= 2
	})
}

func TestSweeper_StopWaitsForLoopExit(t *testing.T) {
	s, _ := store.New(t.TempDir())
	b := bus.New()
	bd := board.New(s, b, nil)
	reclaimer := &fakeReclaimer{}

	sw := sweeper.New(sweeper.Config{
		Board:     bd,
		Scheduler: reclaimer,
		Interval:  10 * time.Millisecond,
	})
	sw.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	sw.Stop()

	callsAtStop := reclaimer.callCount()
	time.Sleep(50 * time.Millisecond)
	if reclaimer.callCount() != callsAtStop {
		t.Fatalf("expected no further ticks after Stop, calls went from %d to %d", callsAtStop, reclaimer.callCount())
	}
}
