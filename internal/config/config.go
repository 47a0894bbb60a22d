package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Simulation    SimulationConfig    `toml:"simulation"`
	Probabilities ProbabilitiesConfig `toml:"probabilities"`
	Journal       JournalConfig       `toml:"journal"`
	Scenario      ScenarioConfig      `toml:"scenario"`
	Path          string              `toml:"-"`
}

type SimulationConfig struct {
	WorkingHoursStart int     `toml:"working_hours_start"`
	WorkingHoursEnd   int     `toml:"working_hours_end"`
	SpeedMultiplier   float64 `toml:"speed_multiplier"`
	Autonomous        bool    `toml:"autonomous"`
	MaxSteps          int     `toml:"max_steps"`
	StepIntervalMS    int     `toml:"step_interval_ms"`
	OffHoursWaitMS    int     `toml:"off_hours_wait_ms"`
}

type ProbabilitiesConfig struct {
	DevOpsActivity      float64 `toml:"devops_activity"`
	InfoSecActivity     float64 `toml:"infosec_activity"`
	NetworkingActivity  float64 `toml:"networking_activity"`
	OperationsActivity  float64 `toml:"operations_activity"`
	DailyRoutine        float64 `toml:"daily_routine"`
	Chatter             float64 `toml:"chatter"`
	NewProject          float64 `toml:"new_project"`
	SecurityIncident    float64 `toml:"security_incident"`
	InfrastructureIssue float64 `toml:"infrastructure_issue"`
	CustomerRequest     float64 `toml:"customer_request"`
	HealthSummary       float64 `toml:"health_summary"`
}

type JournalConfig struct {
	DBPath string `toml:"db_path"`
}

type ScenarioConfig struct {
	Path string `toml:"path"`
}

// Default returns the configuration used when no file overrides it.
func Default() Config {
	return Config{
		Simulation: SimulationConfig{
			WorkingHoursStart: 9,
			WorkingHoursEnd:   18,
			SpeedMultiplier:   1.0,
			Autonomous:        true,
			MaxSteps:          0,
			StepIntervalMS:    60000,
			OffHoursWaitMS:    300000,
		},
		Probabilities: ProbabilitiesConfig{
			DevOpsActivity:      0.3,
			InfoSecActivity:     0.2,
			NetworkingActivity:  0.25,
			OperationsActivity:  0.4,
			DailyRoutine:        0.1,
			Chatter:             0.15,
			NewProject:          0.05,
			SecurityIncident:    0.03,
			InfrastructureIssue: 0.04,
			CustomerRequest:     0.06,
			HealthSummary:       0.1,
		},
		Journal: JournalConfig{
			DBPath: "data/orgsim.db",
		},
	}
}

// Load reads the TOML file at path and decodes it on top of Default,
// so absent keys keep their defaults. An empty path means the default
// location, and a missing file there is not an error.
func Load(path string) (Config, error) {
	usingDefault := path == ""
	resolved := path
	if resolved == "" {
		resolved = defaultConfigPath()
	}
	if strings.HasPrefix(resolved, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return Config{}, fmt.Errorf("resolve home directory: %w", err)
		}
		trimmed := strings.TrimPrefix(resolved, "~")
		trimmed = strings.TrimPrefix(trimmed, "\\")
		trimmed = strings.TrimPrefix(trimmed, "/")
		resolved = filepath.Join(home, trimmed)
	}
	resolved = filepath.Clean(resolved)

	cfg := Default()
	cfg.Path = resolved

	bytes, err := os.ReadFile(resolved)
	if err != nil {
		if usingDefault && os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config file %s: %w", resolved, err)
	}
	if _, err := toml.Decode(string(bytes), &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config file: %w", err)
	}
	return cfg, nil
}

// Normalize clamps out-of-range values in place and returns one
// warning per correction.
func (c *Config) Normalize() []string {
	var warnings []string

	sim := &c.Simulation
	if sim.WorkingHoursStart < 0 || sim.WorkingHoursStart > 23 {
		warnings = append(warnings, fmt.Sprintf("working_hours_start %d out of range, using 9", sim.WorkingHoursStart))
		sim.WorkingHoursStart = 9
	}
	if sim.WorkingHoursEnd < 0 || sim.WorkingHoursEnd > 23 {
		warnings = append(warnings, fmt.Sprintf("working_hours_end %d out of range, using 18", sim.WorkingHoursEnd))
		sim.WorkingHoursEnd = 18
	}
	if sim.WorkingHoursStart >= sim.WorkingHoursEnd {
		warnings = append(warnings, fmt.Sprintf("working hours %d-%d empty, using 9-18", sim.WorkingHoursStart, sim.WorkingHoursEnd))
		sim.WorkingHoursStart = 9
		sim.WorkingHoursEnd = 18
	}
	if sim.SpeedMultiplier <= 0 {
		warnings = append(warnings, fmt.Sprintf("speed_multiplier %v not positive, using 1.0", sim.SpeedMultiplier))
		sim.SpeedMultiplier = 1.0
	}
	if sim.MaxSteps < 0 {
		warnings = append(warnings, fmt.Sprintf("max_steps %d negative, using 0 (unbounded)", sim.MaxSteps))
		sim.MaxSteps = 0
	}
	if sim.StepIntervalMS <= 0 {
		warnings = append(warnings, fmt.Sprintf("step_interval_ms %d not positive, using 60000", sim.StepIntervalMS))
		sim.StepIntervalMS = 60000
	}
	if sim.OffHoursWaitMS <= 0 {
		warnings = append(warnings, fmt.Sprintf("off_hours_wait_ms %d not positive, using 300000", sim.OffHoursWaitMS))
		sim.OffHoursWaitMS = 300000
	}

	clampProb := func(name string, v *float64) {
		if *v < 0 {
			warnings = append(warnings, fmt.Sprintf("probability %s %v below 0, using 0", name, *v))
			*v = 0
		}
		if *v > 1 {
			warnings = append(warnings, fmt.Sprintf("probability %s %v above 1, using 1", name, *v))
			*v = 1
		}
	}
	p := &c.Probabilities
	clampProb("devops_activity", &p.DevOpsActivity)
	clampProb("infosec_activity", &p.InfoSecActivity)
	clampProb("networking_activity", &p.NetworkingActivity)
	clampProb("operations_activity", &p.OperationsActivity)
	clampProb("daily_routine", &p.DailyRoutine)
	clampProb("chatter", &p.Chatter)
	clampProb("new_project", &p.NewProject)
	clampProb("security_incident", &p.SecurityIncident)
	clampProb("infrastructure_issue", &p.InfrastructureIssue)
	clampProb("customer_request", &p.CustomerRequest)
	clampProb("health_summary", &p.HealthSummary)

	if c.Journal.DBPath == "" {
		warnings = append(warnings, "journal db_path empty, using data/orgsim.db")
		c.Journal.DBPath = "data/orgsim.db"
	}
	return warnings
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".orgsim/config.toml"
	}
	return filepath.Join(home, ".orgsim", "config.toml")
}
