package board

import "github.com/basket/sprintd/internal/store"

const employeesFileName = "employees.json"

// employeeRegistryFile is the on-disk shape of employees.json: a map from
// employee name to record. The registry itself is an external collaborator
// (populated by the out-of-scope employee-CRUD UI); the engine only reads
// it at trigger time.
type employeeRegistryFile map[string]Employee

func (bd *Board) employeesPath() string {
	return bd.store.Path(employeesFileName)
}

// ResolveExecutor looks up a task's executor in the employee registry. It
// returns ErrNoExecutor if the name has no entry, which the scheduler maps
// to the no_executor trigger rejection.
func (bd *Board) ResolveExecutor(name string) (Employee, error) {
	reg, err := store.Read[employeeRegistryFile](bd.store, bd.employeesPath(), employeeRegistryFile{})
	if err != nil {
		return Employee{}, err
	}
	emp, ok := reg[name]
	if !ok {
		return Employee{}, ErrNoExecutor
	}
	emp.Name = name
	return emp, nil
}

// ListEmployees returns the full registry, named.
func (bd *Board) ListEmployees() (map[string]Employee, error) {
	reg, err := store.Read[employeeRegistryFile](bd.store, bd.employeesPath(), employeeRegistryFile{})
	if err != nil {
		return nil, err
	}
	out := make(map[string]Employee, len(reg))
	for name, emp := range reg {
		emp.Name = name
		out[name] = emp
	}
	return out, nil
}
