package board

import "testing"

func TestCreateSprint_CreatesEmptyFinalizeTask(t *testing.T) {
	bd := newTestBoard(t)

	sprint, finalize, err := bd.CreateSprint(CreateSprintInput{Title: "S", CreatedBy: "op"})
	if err != nil {
		t.Fatal(err)
	}
	if sprint.ID != "S001" {
		t.Fatalf("expected S001, got %s", sprint.ID)
	}
	if !finalize.IsFinalize {
		t.Fatal("expected finalize task flag set")
	}
	if len(finalize.DependsOn) != 0 {
		t.Fatalf("expected empty depends_on for a zero-sibling sprint, got %v", finalize.DependsOn)
	}
	runnable, err := bd.IsRunnable(finalize.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !runnable {
		t.Fatal("expected finalize task with zero siblings to be immediately runnable")
	}
}

func TestCreateTask_LinksToFinalizeDependsOn(t *testing.T) {
	bd := newTestBoard(t)
	sprint, finalize, err := bd.CreateSprint(CreateSprintInput{Title: "S", CreatedBy: "op"})
	if err != nil {
		t.Fatal(err)
	}

	task, err := bd.CreateTask(CreateTaskInput{Title: "a", Author: "op", Executor: "dev", SprintID: sprint.ID})
	if err != nil {
		t.Fatal(err)
	}

	got, err := bd.GetTask(finalize.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.DependsOn) != 1 || got.DependsOn[0] != task.ID {
		t.Fatalf("expected finalize depends_on == [%s], got %v", task.ID, got.DependsOn)
	}
}

func TestUpdateTaskStatus_FinalizeDoneCompletesSprint(t *testing.T) {
	bd := newTestBoard(t)
	sprint, finalize, err := bd.CreateSprint(CreateSprintInput{Title: "S", CreatedBy: "op"})
	if err != nil {
		t.Fatal(err)
	}
	task, err := bd.CreateTask(CreateTaskInput{Title: "a", Author: "op", Executor: "dev", SprintID: sprint.ID})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := bd.UpdateTaskStatus(task.ID, StatusDone); err != nil {
		t.Fatal(err)
	}
	if _, err := bd.UpdateTaskStatus(finalize.ID, StatusDone); err != nil {
		t.Fatal(err)
	}

	got, err := bd.GetSprint(sprint.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != SprintCompleted {
		t.Fatalf("expected sprint completed, got %s", got.Status)
	}
}

func TestUpdateTaskStatus_FinalizeDoneButSiblingPendingDoesNotComplete(t *testing.T) {
	bd := newTestBoard(t)
	sprint, finalize, err := bd.CreateSprint(CreateSprintInput{Title: "S", CreatedBy: "op"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := bd.CreateTask(CreateTaskInput{Title: "a", Author: "op", Executor: "dev", SprintID: sprint.ID}); err != nil {
		t.Fatal(err)
	}

	// Force the finalize task done even though its sibling is still new —
	// an operator override shouldn't be possible in practice (the sibling
	// blocks it via depends_on) but the sprint-completion check must still
	// hold the invariant defensively.
	if _, err := bd.UpdateTaskStatus(finalize.ID, StatusDone); err != nil {
		t.Fatal(err)
	}
	got, err := bd.GetSprint(sprint.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status == SprintCompleted {
		t.Fatal("expected sprint to remain active while a sibling is pending")
	}
}

func TestRecomputeFinalizeDeps_MatchesSiblingSet(t *testing.T) {
	bd := newTestBoard(t)
	sprint, finalize, err := bd.CreateSprint(CreateSprintInput{Title: "S", CreatedBy: "op"})
	if err != nil {
		t.Fatal(err)
	}
	a, _ := bd.CreateTask(CreateTaskInput{Title: "a", Author: "op", Executor: "dev", SprintID: sprint.ID})
	b, _ := bd.CreateTask(CreateTaskInput{Title: "b", Author: "op", Executor: "dev", SprintID: sprint.ID})

	if err := bd.RecomputeFinalizeDeps(sprint.ID); err != nil {
		t.Fatal(err)
	}
	got, err := bd.GetTask(finalize.ID)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]bool{a.ID: true, b.ID: true}
	if len(got.DependsOn) != 2 {
		t.Fatalf("expected 2 deps, got %v", got.DependsOn)
	}
	for _, d := range got.DependsOn {
		if !want[d] {
			t.Fatalf("unexpected dependency %s", d)
		}
	}
}

func TestSetSprintReady_PersistsFlag(t *testing.T) {
	bd := newTestBoard(t)
	sprint, _, err := bd.CreateSprint(CreateSprintInput{Title: "S", CreatedBy: "op"})
	if err != nil {
		t.Fatal(err)
	}
	updated, err := bd.SetSprintReady(sprint.ID, true)
	if err != nil {
		t.Fatal(err)
	}
	if !updated.ReadyToExecute {
		t.Fatal("expected ready_to_execute true")
	}
}
