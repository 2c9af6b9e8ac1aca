package board

import (
	"encoding/json"
	"os"
	"testing"
)

func TestResolveExecutor_NotFound(t *testing.T) {
	bd := newTestBoard(t)
	_, err := bd.ResolveExecutor("nobody")
	if err != ErrNoExecutor {
		t.Fatalf("expected ErrNoExecutor, got %v", err)
	}
}

func TestResolveExecutor_FoundIncludesName(t *testing.T) {
	bd := newTestBoard(t)
	reg := employeeRegistryFile{
		"developer": Employee{Role: "engineer", Model: "sonnet", Workdir: "/tmp/proj"},
	}
	data, _ := json.Marshal(reg)
	if err := os.WriteFile(bd.employeesPath(), data, 0o644); err != nil {
		t.Fatal(err)
	}

	emp, err := bd.ResolveExecutor("developer")
	if err != nil {
		t.Fatal(err)
	}
	if emp.Name != "developer" {
		t.Fatalf("expected name populated from key, got %q", emp.Name)
	}
	if !emp.UsesGateway() {
		t.Fatal("expected sonnet model to use gateway path")
	}
}

func TestEmployee_UsesGateway_AlternateModel(t *testing.T) {
	emp := Employee{Model: "composer"}
	if emp.UsesGateway() {
		t.Fatal("expected composer model to use the alternate path")
	}
}
