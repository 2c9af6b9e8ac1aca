package board

import (
	"hash/fnv"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/basket/sprintd/internal/store"
)

const failuresFileName = "agent_failures.json"

// maxFailureRecords bounds the global failure log: unlike chat history,
// failures accumulate across every agent and task, so without a cap this
// file grows without limit over a long-running orchestrator's lifetime.
const maxFailureRecords = 2000

var numericRun = regexp.MustCompile(`[0-9]+`)

// Fingerprint normalizes an error message (strip digits that vary run to
// run, like ports, pids or byte offsets, collapse whitespace, lowercase)
// then hashes it, so two occurrences of "the same" error compare equal even
// when they embed incidental numbers.
func Fingerprint(errorType ErrorType, message string) string {
	norm := strings.ToLower(strings.TrimSpace(message))
	norm = numericRun.ReplaceAllString(norm, "#")
	norm = strings.Join(strings.Fields(norm), " ")

	h := fnv.New64a()
	h.Write([]byte(string(errorType)))
	h.Write([]byte{0})
	h.Write([]byte(norm))
	return strconv.FormatUint(h.Sum64(), 16)
}

func (bd *Board) failuresPath() string {
	return bd.store.Path(failuresFileName)
}

// RecordFailureInput gathers the fields needed to append a terminal-failure
// record.
type RecordFailureInput struct {
	TaskID    string
	Agent     string
	ErrorType ErrorType
	Message   string
	Traceback string

	// Fingerprint, if set, is persisted as-is instead of being recomputed
	// from ErrorType/Message. The scheduler sets this when it dead-letters
	// a poisoned task: ErrorType/Message are overridden to the "[poison]"
	// unknown-error form for display, but the fingerprint carried forward
	// into Task.LastErrorFingerprint must stay the original error's, or a
	// poison streak would go undetected the moment it's first reported.
	Fingerprint string
}

// RecordFailure appends an AgentFailure record, persists its fingerprint
// onto the task as the new poison-pill comparison point (Task.IsPoison), and
// returns the record so the caller can inspect it further.
func (bd *Board) RecordFailure(in RecordFailureInput) (AgentFailure, error) {
	now := time.Now().UTC()
	fp := in.Fingerprint
	if fp == "" {
		fp = Fingerprint(in.ErrorType, in.Message)
	}
	rec := AgentFailure{
		ID:          "F" + strconv.FormatInt(now.UnixNano(), 36),
		TaskID:      in.TaskID,
		Agent:       in.Agent,
		ErrorType:   in.ErrorType,
		Message:     in.Message,
		Traceback:   in.Traceback,
		Fingerprint: fp,
		Timestamp:   now,
		Resolved:    false,
	}

	_, err := store.Update(bd.store, bd.failuresPath(), []AgentFailure{}, func(list []AgentFailure) ([]AgentFailure, error) {
		list = append(list, rec)
		if len(list) > maxFailureRecords {
			list = list[len(list)-maxFailureRecords:]
		}
		return list, nil
	})
	if err != nil {
		return AgentFailure{}, err
	}
	if in.TaskID != "" {
		if err := bd.setLastErrorFingerprint(in.TaskID, fp); err != nil {
			return rec, err
		}
	}
	bd.publishBoardChanged(now.Unix())
	return rec, nil
}

// ListFailures returns failures, optionally filtered by resolved state.
// resolved == nil means unfiltered.
func (bd *Board) ListFailures(resolved *bool) ([]AgentFailure, error) {
	list, err := store.Read[[]AgentFailure](bd.store, bd.failuresPath(), []AgentFailure{})
	if err != nil {
		return nil, err
	}
	if resolved == nil {
		return list, nil
	}
	out := make([]AgentFailure, 0, len(list))
	for _, f := range list {
		if f.Resolved == *resolved {
			out = append(out, f)
		}
	}
	return out, nil
}

// ResolveFailure marks a failure record resolved, e.g. because the operator
// explicitly retried the task or the task independently reached a terminal
// status.
func (bd *Board) ResolveFailure(id string) error {
	_, err := store.Update(bd.store, bd.failuresPath(), []AgentFailure{}, func(list []AgentFailure) ([]AgentFailure, error) {
		for i := range list {
			if list[i].ID == id {
				list[i].Resolved = true
				return list, nil
			}
		}
		return list, nil
	})
	if err != nil {
		return err
	}
	bd.publishBoardChanged(time.Now().UTC().Unix())
	return nil
}

// ResolveFailuresForTask marks every unresolved failure for taskID
// resolved, used when the engine detects the task independently reached
// done/cancelled after a failure was already classified (the
// post-completion suppression path never records a failure in the first
// place, but an operator retry that succeeds should still clean up any
// earlier terminal failure records for the same task).
func (bd *Board) ResolveFailuresForTask(taskID string) error {
	_, err := store.Update(bd.store, bd.failuresPath(), []AgentFailure{}, func(list []AgentFailure) ([]AgentFailure, error) {
		for i := range list {
			if list[i].TaskID == taskID && !list[i].Resolved {
				list[i].Resolved = true
			}
		}
		return list, nil
	})
	return err
}
