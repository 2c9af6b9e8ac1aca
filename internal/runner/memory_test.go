package runner

import (
	"strings"
	"testing"

	"github.com/basket/sprintd/internal/board"
	"github.com/basket/sprintd/internal/store"
)

func newTestMemory(t *testing.T) *Memory {
	t.Helper()
	s, err := store.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return NewMemory(s)
}

func TestMemory_RecordSuccessProducesSummarySection(t *testing.T) {
	m := newTestMemory(t)
	outcome := Outcome{Success: true, PartialResult: "wrote the file"}
	if err := m.Record("dev", outcome, Invocation{Prompt: "write a file"}); err != nil {
		t.Fatal(err)
	}

	postscript := m.LoadPostscript("dev")
	if !strings.Contains(postscript, "Summary") {
		t.Fatalf("expected Summary section, got: %s", postscript)
	}
	if !strings.Contains(postscript, "wrote the file") {
		t.Fatalf("expected result text in memory, got: %s", postscript)
	}
}

func TestMemory_RecordFailureProducesInterruptedSection(t *testing.T) {
	m := newTestMemory(t)
	outcome := Outcome{Success: false, ErrorType: board.ErrTimeout, ErrorMessage: "agent timed out"}
	if err := m.Record("dev", outcome, Invocation{Prompt: "do a thing"}); err != nil {
		t.Fatal(err)
	}

	postscript := m.LoadPostscript("dev")
	if !strings.Contains(postscript, "INTERRUPTED") {
		t.Fatalf("expected INTERRUPTED section, got: %s", postscript)
	}
	if !strings.Contains(postscript, "agent timed out") {
		t.Fatalf("expected error message recorded, got: %s", postscript)
	}
}

func TestMemory_TrimsToLastNSections(t *testing.T) {
	m := newTestMemory(t)
	for i := 0; i < maxMemorySections+3; i++ {
		if err := m.Record("dev", Outcome{Success: true, PartialResult: "ok"}, Invocation{Prompt: "p"}); err != nil {
			t.Fatal(err)
		}
	}
	sections, err := store.Read(m.store, m.jsonPath("dev"), []memorySection{})
	if err != nil {
		t.Fatal(err)
	}
	if len(sections) != maxMemorySections {
		t.Fatalf("expected %d sections retained, got %d", maxMemorySections, len(sections))
	}
}

func TestMemory_LoadPostscript_NoHistoryYieldsEmpty(t *testing.T) {
	m := newTestMemory(t)
	if got := m.LoadPostscript("nobody"); got != "" {
		t.Fatalf("expected empty postscript for unseen agent, got %q", got)
	}
}
