package runner

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/basket/sprintd/internal/store"
)

// maxMemorySections bounds how many past runs' sections are kept per agent;
// older ones are dropped newest-section-first-kept, i.e. a sliding window.
const maxMemorySections = 5

// memorySection is one run's worth of memory: either a completed run's
// summary or an interrupted run's failure note.
type memorySection struct {
	Timestamp time.Time `json:"timestamp"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
}

// Memory persists a small, bounded per-agent memory of recent runs,
// rendered as markdown and injected as a postscript onto the next prompt so
// an agent picks up context from its own recent history without needing the
// full chat log replayed.
type Memory struct {
	store *store.Store
}

// NewMemory returns a Memory rooted at s.
func NewMemory(s *store.Store) *Memory {
	return &Memory{store: s}
}

func (m *Memory) jsonPath(agent string) string {
	return m.store.Path("memory", agent, "sections.json")
}

func (m *Memory) mdPath(agent string) string {
	return m.store.Path("memory", agent, "memory.md")
}

// Record appends a section derived from outcome: a Summary/Context section
// on success, an INTERRUPTED section (carrying the error message) on
// failure or timeout.
func (m *Memory) Record(agent string, outcome Outcome, inv Invocation) error {
	section := memorySection{Timestamp: time.Now()}
	if outcome.Success {
		section.Title = "Summary"
		section.Body = fmt.Sprintf("Prompt: %s\n\nResult: %s", inv.Prompt, outcome.PartialResult)
	} else {
		section.Title = "INTERRUPTED"
		section.Body = fmt.Sprintf("Prompt: %s\n\nError (%s): %s\nPartial output: %s",
			inv.Prompt, outcome.ErrorType, outcome.ErrorMessage, outcome.PartialResult)
	}

	sections, err := store.Update(m.store, m.jsonPath(agent), []memorySection{}, func(sections []memorySection) ([]memorySection, error) {
		sections = append(sections, section)
		if len(sections) > maxMemorySections {
			sections = sections[len(sections)-maxMemorySections:]
		}
		return sections, nil
	})
	if err != nil {
		return err
	}

	return m.renderMarkdown(agent, sections)
}

// renderMarkdown writes a human-readable .md rendering of sections
// alongside the canonical JSON, newest section first.
func (m *Memory) renderMarkdown(agent string, sections []memorySection) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# Memory: %s\n\n", agent)
	for i := len(sections) - 1; i >= 0; i-- {
		s := sections[i]
		fmt.Fprintf(&b, "## %s (%s)\n\n%s\n\n", s.Title, s.Timestamp.Format(time.RFC3339), s.Body)
	}

	path := m.mdPath(agent)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

// LoadPostscript returns the rendered memory markdown to append to the next
// prompt sent to agent, or "" if there is none yet.
func (m *Memory) LoadPostscript(agent string) string {
	data, err := os.ReadFile(m.mdPath(agent))
	if err != nil {
		return ""
	}
	return string(data)
}
