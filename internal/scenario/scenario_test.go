package scenario

import (
	"os"
	"path/filepath"
	"testing"

	"orgsim/internal/domain"
)

func TestDefaultValidates(t *testing.T) {
	sc := Default()
	if err := sc.Validate(); err != nil {
		t.Fatalf("default scenario invalid: %v", err)
	}
	if len(sc.Departments) != 6 {
		t.Fatalf("default departments: got %d, want 6", len(sc.Departments))
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "company.yaml")
	content := `
company: Test Co
departments:
  - department: DevOps
    manager: Ada Lovelace
    staff: 2
  - department: Operations
    manager: Grace Hopper
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write scenario: %v", err)
	}

	sc, err := Load(path)
	if err != nil {
		t.Fatalf("load scenario: %v", err)
	}
	if sc.Company != "Test Co" {
		t.Fatalf("company: got %q, want Test Co", sc.Company)
	}
	if len(sc.Departments) != 2 {
		t.Fatalf("departments: got %d, want 2", len(sc.Departments))
	}
	first := sc.Departments[0]
	if first.Department != domain.DepartmentDevOps || first.Manager != "Ada Lovelace" || first.Staff != 2 {
		t.Fatalf("first department: got %+v", first)
	}
	if sc.Departments[1].Staff != 0 {
		t.Fatalf("absent staff count: got %d, want 0", sc.Departments[1].Staff)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name string
		sc   Scenario
	}{
		{
			name: "unknown department",
			sc: Scenario{Departments: []Department{
				{Department: domain.Department("Piracy"), Manager: "Anne Bonny"},
			}},
		},
		{
			name: "duplicate department",
			sc: Scenario{Departments: []Department{
				{Department: domain.DepartmentDevOps, Manager: "A"},
				{Department: domain.DepartmentDevOps, Manager: "B"},
			}},
		},
		{
			name: "empty manager",
			sc: Scenario{Departments: []Department{
				{Department: domain.DepartmentDevOps},
			}},
		},
		{
			name: "negative staff",
			sc: Scenario{Departments: []Department{
				{Department: domain.DepartmentDevOps, Manager: "A", Staff: -1},
			}},
		},
		{
			name: "no departments",
			sc:   Scenario{},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.sc.Validate(); err == nil {
				t.Fatal("validation passed for invalid scenario")
			}
		})
	}
}
