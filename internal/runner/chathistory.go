package runner

import (
	"github.com/basket/sprintd/internal/store"
)

// maxChatHistoryEntries bounds the per-agent history file so a long-lived
// agent doesn't grow its record without limit.
const maxChatHistoryEntries = 1000

// ChatHistory persists an append-only, size-capped log of terminated
// invocations per agent, one JSON array file per agent name.
type ChatHistory struct {
	store *store.Store
}

// NewChatHistory returns a ChatHistory rooted at s.
func NewChatHistory(s *store.Store) *ChatHistory {
	return &ChatHistory{store: s}
}

func (h *ChatHistory) path(agent string) string {
	return h.store.Path("chat_history", agent+".json")
}

// Append records entry for agent, trimming the oldest entries once the file
// exceeds maxChatHistoryEntries.
func (h *ChatHistory) Append(agent string, entry ChatHistoryEntry) error {
	_, err := store.Update(h.store, h.path(agent), []ChatHistoryEntry{}, func(entries []ChatHistoryEntry) ([]ChatHistoryEntry, error) {
		entries = append(entries, entry)
		if len(entries) > maxChatHistoryEntries {
			entries = entries[len(entries)-maxChatHistoryEntries:]
		}
		return entries, nil
	})
	return err
}

// Load returns the full history recorded for agent, oldest first.
func (h *ChatHistory) Load(agent string) ([]ChatHistoryEntry, error) {
	return store.Read(h.store, h.path(agent), []ChatHistoryEntry{})
}
