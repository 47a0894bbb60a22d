package scenario

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"orgsim/internal/domain"
)

// Scenario describes the staffing of a simulated company: which
// departments exist, who manages each, and how many staff agents
// report to them.
type Scenario struct {
	Company     string       `yaml:"company"`
	Departments []Department `yaml:"departments"`
}

type Department struct {
	Department domain.Department `yaml:"department"`
	Manager    string            `yaml:"manager"`
	Staff      int               `yaml:"staff"`
}

// Default returns the built-in company roster.
func Default() Scenario {
	return Scenario{
		Company: "Example Software Co.",
		Departments: []Department{
			{Department: domain.DepartmentEngineering, Manager: "Sarah Chen"},
			{Department: domain.DepartmentSales, Manager: "Mike Rodriguez"},
			{Department: domain.DepartmentDevOps, Manager: "Jordan Smith", Staff: 3},
			{Department: domain.DepartmentInfoSec, Manager: "Alex Thompson", Staff: 2},
			{Department: domain.DepartmentNetworking, Manager: "Lisa Park", Staff: 2},
			{Department: domain.DepartmentOperations, Manager: "David Wilson", Staff: 3},
		},
	}
}

func Load(path string) (Scenario, error) {
	bytes, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("read scenario file %s: %w", path, err)
	}
	var sc Scenario
	if err := yaml.Unmarshal(bytes, &sc); err != nil {
		return Scenario{}, fmt.Errorf("decode scenario file: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return Scenario{}, fmt.Errorf("scenario file %s: %w", path, err)
	}
	return sc, nil
}

func (s Scenario) Validate() error {
	if len(s.Departments) == 0 {
		return fmt.Errorf("no departments defined")
	}
	seen := make(map[domain.Department]bool)
	for i, dept := range s.Departments {
		if !dept.Department.Valid() {
			return fmt.Errorf("department %d: unknown department %q", i, dept.Department)
		}
		if seen[dept.Department] {
			return fmt.Errorf("department %s listed twice", dept.Department)
		}
		seen[dept.Department] = true
		if dept.Manager == "" {
			return fmt.Errorf("department %s: manager name is empty", dept.Department)
		}
		if dept.Staff < 0 {
			return fmt.Errorf("department %s: staff count %d is negative", dept.Department, dept.Staff)
		}
	}
	return nil
}
