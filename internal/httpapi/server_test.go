package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/basket/sprintd/internal/audit"
	"github.com/basket/sprintd/internal/board"
	"github.com/basket/sprintd/internal/bus"
	"github.com/basket/sprintd/internal/runner"
	"github.com/basket/sprintd/internal/scheduler"
	"github.com/basket/sprintd/internal/store"
)

type fakeInvoker struct {
	outcome runner.Outcome
}

func (f *fakeInvoker) Invoke(ctx context.Context, inv runner.Invocation, on func(runner.StreamEvent)) runner.Outcome {
	on(runner.StreamEvent{Type: "assistant", Text: "working"})
	return f.outcome
}

func newTestServer(t *testing.T) (*Server, *board.Board, *store.Store) {
	t.Helper()
	s, err := store.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	b := bus.New()
	bd := board.New(s, b, nil)
	r := &runner.Runner{
		Gateway:   &fakeInvoker{outcome: runner.Outcome{Success: true, PartialResult: "done"}},
		Alternate: &fakeInvoker{outcome: runner.Outcome{Success: true, PartialResult: "done"}},
		Bus:       b,
	}
	sched := scheduler.New(bd, b, s, r, nil)
	srv := New(bd, b, sched, Options{})
	return srv, bd, s
}

func mustRegisterEmployee(t *testing.T, s *store.Store, name string, emp board.Employee) {
	t.Helper()
	reg := map[string]board.Employee{name: emp}
	data, err := json.Marshal(reg)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(s.Path("employees.json"), data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestCreateTask_Single(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doJSON(t, srv, "POST", "/api/tasks-list", map[string]string{
		"title": "a", "author": "op", "executor": "dev",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var task board.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &task); err != nil {
		t.Fatal(err)
	}
	if task.Title != "a" {
		t.Fatalf("unexpected task: %+v", task)
	}
}

func TestCreateTask_Batch(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doJSON(t, srv, "POST", "/api/tasks-list", []map[string]string{
		{"title": "a", "author": "op", "executor": "dev"},
		{"title": "b", "author": "op", "executor": "dev"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var tasks []board.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &tasks); err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
}

func TestCreateTask_MissingFields(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doJSON(t, srv, "POST", "/api/tasks-list", map[string]string{"title": "a"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestListTasks(t *testing.T) {
	srv, bd, _ := newTestServer(t)
	if _, err := bd.CreateTask(board.CreateTaskInput{Title: "a", Author: "op", Executor: "dev"}); err != nil {
		t.Fatal(err)
	}
	rec := doJSON(t, srv, "GET", "/api/tasks-list", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var tasks []board.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &tasks); err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(tasks))
	}
}

func TestTriggerTask_NotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)
	req := httptest.NewRequest("POST", "/api/tasks-list/T999/trigger", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestTriggerTask_Success(t *testing.T) {
	srv, bd, s := newTestServer(t)
	mustRegisterEmployee(t, s, "dev", board.Employee{Role: "engineer", Model: "composer"})

	task, err := bd.CreateTask(board.CreateTaskInput{Title: "a", Author: "op", Executor: "dev"})
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest("POST", "/api/tasks-list/"+task.ID+"/trigger", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUpdateTaskStatus_InvalidValue(t *testing.T) {
	srv, bd, _ := newTestServer(t)
	task, _ := bd.CreateTask(board.CreateTaskInput{Title: "a", Author: "op", Executor: "dev"})
	rec := doJSON(t, srv, "PUT", "/api/tasks-list/"+task.ID+"/status", map[string]string{"status": "bogus"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestUpdateTaskStatus_Valid(t *testing.T) {
	srv, bd, _ := newTestServer(t)
	task, _ := bd.CreateTask(board.CreateTaskInput{Title: "a", Author: "op", Executor: "dev"})
	rec := doJSON(t, srv, "PUT", "/api/tasks-list/"+task.ID+"/status", map[string]string{"status": "cancelled"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCreateSprintAndUpdate(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doJSON(t, srv, "POST", "/api/sprints", map[string]string{"title": "s1", "created_by": "op"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var sprint board.Sprint
	if err := json.Unmarshal(rec.Body.Bytes(), &sprint); err != nil {
		t.Fatal(err)
	}

	ready := true
	rec = doJSON(t, srv, "PUT", "/api/sprints/"+sprint.ID, map[string]interface{}{"ready_to_execute": ready})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var updated board.Sprint
	if err := json.Unmarshal(rec.Body.Bytes(), &updated); err != nil {
		t.Fatal(err)
	}
	if !updated.ReadyToExecute {
		t.Fatal("expected ready_to_execute true")
	}
}

func TestListAndResolveFailures(t *testing.T) {
	srv, bd, _ := newTestServer(t)
	task, _ := bd.CreateTask(board.CreateTaskInput{Title: "a", Author: "op", Executor: "dev"})
	fail, err := bd.RecordFailure(board.RecordFailureInput{TaskID: task.ID, Agent: "dev", ErrorType: board.ErrUnknown, Message: "boom"})
	if err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, srv, "GET", "/api/agent-failures", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Failures []board.AgentFailure `json:"failures"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Failures) != 1 {
		t.Fatalf("expected 1 failure, got %d", len(body.Failures))
	}

	req := httptest.NewRequest("DELETE", "/api/agent-failures/"+fail.ID, nil)
	rec2 := httptest.NewRecorder()
	srv.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec2.Code, rec2.Body.String())
	}

	rec = doJSON(t, srv, "GET", "/api/agent-failures?resolved=false", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Failures) != 0 {
		t.Fatalf("expected the failure to be resolved, got %d unresolved", len(body.Failures))
	}
}

func TestBoardEventsSSE_EmitsOnMutation(t *testing.T) {
	srv, bd, _ := newTestServer(t)

	req := httptest.NewRequest("GET", "/api/board-events", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		srv.ServeHTTP(rec, req)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	if _, err := bd.CreateTask(board.CreateTaskInput{Title: "a", Author: "op", Executor: "dev"}); err != nil {
		t.Fatal(err)
	}

	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	body := rec.Body.String()
	if !strings.Contains(body, "board_changed") && !strings.Contains(body, "\"type\"") {
		t.Fatalf("expected an SSE event in body, got: %q", body)
	}
}

func TestAgentStreamSSE_ReplaysThenTails(t *testing.T) {
	srv, _, _ := newTestServer(t)
	b := srv.bus
	b.PublishStreamEvent("dev", "assistant", runner.StreamEvent{Type: "assistant", Text: "hello"})

	req := httptest.NewRequest("GET", "/api/agent-stream/dev", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	scanner := bufio.NewScanner(strings.NewReader(rec.Body.String()))
	found := false
	for scanner.Scan() {
		if strings.Contains(scanner.Text(), "hello") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected replay to include the earlier event, got: %q", rec.Body.String())
	}
}

func TestAuthMiddleware_RejectsMissingKey(t *testing.T) {
	s, err := store.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	b := bus.New()
	bd := board.New(s, b, nil)
	sched := scheduler.New(bd, b, s, &runner.Runner{Bus: b}, nil)
	srv := New(bd, b, sched, Options{Auth: AuthConfig{Enabled: true, Key: "secret"}})

	req := httptest.NewRequest("GET", "/api/tasks-list", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAuthMiddleware_AcceptsValidKey(t *testing.T) {
	s, err := store.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	b := bus.New()
	bd := board.New(s, b, nil)
	sched := scheduler.New(bd, b, s, &runner.Runner{Bus: b}, nil)
	srv := New(bd, b, sched, Options{Auth: AuthConfig{Enabled: true, Key: "secret"}})

	req := httptest.NewRequest("GET", "/api/tasks-list", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestObservabilityEvents_NotConfigured(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest("GET", "/api/observability/events", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501 with no ledger configured, got %d", rec.Code)
	}
}

func TestObservabilityEvents_ReplaysRecordedTransitions(t *testing.T) {
	s, err := store.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	b := bus.New()
	bd := board.New(s, b, nil)
	ledger, err := audit.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer ledger.Close()

	sched := scheduler.New(bd, b, s, &runner.Runner{
		Gateway:   &fakeInvoker{outcome: runner.Outcome{Success: true, PartialResult: "done"}},
		Alternate: &fakeInvoker{outcome: runner.Outcome{Success: true, PartialResult: "done"}},
		Bus:       b,
	}, nil)
	sched.SetAudit(ledger)
	srv := New(bd, b, sched, Options{Audit: ledger})

	mustRegisterEmployee(t, s, "agent-x", board.Employee{Name: "agent-x", Role: "dev", Runtime: "claude-code"})
	task, err := bd.CreateTask(board.CreateTaskInput{Title: "t", Executor: "agent-x"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sched.Trigger(context.Background(), task.ID); err != nil {
		t.Fatalf("trigger: %v", err)
	}

	req := httptest.NewRequest("GET", "/api/observability/events?task_id="+task.ID, nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Events []audit.TaskEvent `json:"events"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Events) == 0 {
		t.Fatal("expected at least one recorded transition")
	}
}
