package scheduler

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/basket/sprintd/internal/board"
	"github.com/basket/sprintd/internal/store"
)

const seedPromptTemplate = `You are working on task %s: %s

Read the discussion log below, then do the work described. When finished,
write your result and update the task's status to done or questions.

--- discussion ---
%s
--- end discussion ---
`

const resumePromptTemplate = `You hit a timeout on a previous attempt. If you already did part of the
work, continue from where you left off; otherwise restart. Original task:
%s`

// resumePromptChars bounds how much of the original task description is
// echoed back into a resume prompt.
const resumePromptChars = 500

func discussionPath(s *store.Store, taskID string) string {
	return s.Path("discussions", taskID+".md")
}

func seedPromptPath(s *store.Store, taskID string) string {
	return s.Path("discussions", taskID+"_seed.md")
}

// composePrompt reads the task's discussion file and its per-task seed
// prompt, creating the seed on first use, so retries of the same task reuse
// the exact wording instead of rebuilding it differently each time.
func composePrompt(s *store.Store, task board.Task) (string, error) {
	discussion, err := os.ReadFile(discussionPath(s, task.ID))
	if err != nil && !os.IsNotExist(err) {
		return "", err
	}

	seedPath := seedPromptPath(s, task.ID)
	seed, err := os.ReadFile(seedPath)
	if err == nil {
		return string(seed), nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}

	prompt := fmt.Sprintf(seedPromptTemplate, task.ID, task.Title, strings.TrimSpace(string(discussion)))
	if err := os.MkdirAll(filepath.Dir(seedPath), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(seedPath, []byte(prompt), 0o644); err != nil {
		return "", err
	}
	return prompt, nil
}

// resumePrompt builds the prompt used for the attempt following a timeout
// that recovered a session id, per the trigger contract's step 8.
func resumePrompt(task board.Task) string {
	desc := task.Description
	if desc == "" {
		desc = task.Title
	}
	if len(desc) > resumePromptChars {
		desc = desc[:resumePromptChars]
	}
	return fmt.Sprintf(resumePromptTemplate, desc)
}
