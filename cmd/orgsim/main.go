package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"orgsim/internal/config"
	"orgsim/internal/department/devops"
	"orgsim/internal/department/generic"
	"orgsim/internal/department/infosec"
	"orgsim/internal/department/networking"
	"orgsim/internal/department/ops"
	"orgsim/internal/domain"
	"orgsim/internal/journal"
	sqlitejournal "orgsim/internal/journal/sqlite"
	"orgsim/internal/messaging/inproc"
	"orgsim/internal/orchestrator"
	"orgsim/internal/scenario"
)

// companyAgent is what every department implementation provides: a
// roster record, a daily routine, and an inbox loop with a clean stop.
type companyAgent interface {
	Record() domain.Agent
	RunDailyRoutine(ctx context.Context) error
	Start(ctx context.Context)
	Wait()
}

func main() {
	configPath := flag.String("config", "", "path to config.toml (default: ~/.orgsim/config.toml)")
	dbPathFlag := flag.String("db", "", "sqlite journal path override")
	scenarioFlag := flag.String("scenario", "", "scenario yaml path override")
	speedFlag := flag.Float64("speed", 0, "speed multiplier override (0 keeps config value)")
	maxStepsFlag := flag.Int("max-steps", -1, "stop after this many steps, 0 for unbounded (-1 keeps config value)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *dbPathFlag != "" {
		cfg.Journal.DBPath = *dbPathFlag
	}
	if *scenarioFlag != "" {
		cfg.Scenario.Path = *scenarioFlag
	}
	if *speedFlag > 0 {
		cfg.Simulation.SpeedMultiplier = *speedFlag
	}
	if *maxStepsFlag >= 0 {
		cfg.Simulation.MaxSteps = *maxStepsFlag
	}
	for _, warning := range cfg.Normalize() {
		log.Printf("config: %s", warning)
	}

	sc := scenario.Default()
	if cfg.Scenario.Path != "" {
		sc, err = scenario.Load(cfg.Scenario.Path)
		if err != nil {
			log.Fatalf("load scenario: %v", err)
		}
	}

	dbPath := filepath.Clean(cfg.Journal.DBPath)
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("create journal directory: %v", err)
		}
	}
	store, err := sqlitejournal.Open(dbPath)
	if err != nil {
		log.Fatalf("open journal store: %v", err)
	}
	defer func() {
		_ = store.Close()
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("migrate journal store: %v", err)
	}

	bus := inproc.New(256)
	svc := orchestrator.New(bus, store, orchestratorConfig(cfg), log.Default())

	agents := buildCompany(sc, bus, store, log.Default())
	for _, a := range agents {
		if err := svc.RegisterMember(a); err != nil {
			log.Fatalf("register %s: %v", a.Record().Name, err)
		}
		a.Start(ctx)
	}

	log.Printf(
		"orgsim started company=%q agents=%d db=%s autonomous=%v max_steps=%d",
		sc.Company,
		len(agents),
		dbPath,
		cfg.Simulation.Autonomous,
		cfg.Simulation.MaxSteps,
	)

	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("simulation stopped: %v", err)
	}

	cancel()
	for _, a := range agents {
		a.Wait()
	}
	log.Printf("orgsim finished after %d steps", svc.Step())
}

// buildCompany instantiates the scenario roster. Managers come first
// within each department so targeted company events reach them.
func buildCompany(sc scenario.Scenario, bus *inproc.Bus, sink journal.Recorder, logger *log.Logger) []companyAgent {
	var agents []companyAgent
	for _, dept := range sc.Departments {
		manager := newDepartmentAgent(dept.Department, dept.Manager, uuid.Nil, bus, sink, logger)
		agents = append(agents, manager)
		managerID := manager.Record().ID
		for i := 1; i <= dept.Staff; i++ {
			name := fmt.Sprintf("%s Agent %d", dept.Department, i)
			agents = append(agents, newDepartmentAgent(dept.Department, name, managerID, bus, sink, logger))
		}
	}
	return agents
}

func newDepartmentAgent(dept domain.Department, name string, managerID uuid.UUID, bus *inproc.Bus, sink journal.Recorder, logger *log.Logger) companyAgent {
	switch dept {
	case domain.DepartmentDevOps:
		return devops.New(name, managerID, bus, bus, sink, logger)
	case domain.DepartmentInfoSec:
		return infosec.New(name, managerID, bus, bus, sink, logger)
	case domain.DepartmentNetworking:
		return networking.New(name, managerID, bus, sink, logger)
	case domain.DepartmentOperations:
		return ops.New(name, managerID, bus, bus, sink, logger)
	default:
		return generic.New(name, dept, managerID, bus, sink, logger)
	}
}

func orchestratorConfig(cfg config.Config) orchestrator.Config {
	return orchestrator.Config{
		WorkingHoursStart: cfg.Simulation.WorkingHoursStart,
		WorkingHoursEnd:   cfg.Simulation.WorkingHoursEnd,
		SpeedMultiplier:   cfg.Simulation.SpeedMultiplier,
		Autonomous:        cfg.Simulation.Autonomous,
		MaxSteps:          cfg.Simulation.MaxSteps,
		StepInterval:      durationMS(cfg.Simulation.StepIntervalMS),
		OffHoursWait:      durationMS(cfg.Simulation.OffHoursWaitMS),
		Probabilities: orchestrator.Probabilities{
			Activity: map[domain.Department]float64{
				domain.DepartmentDevOps:     cfg.Probabilities.DevOpsActivity,
				domain.DepartmentInfoSec:    cfg.Probabilities.InfoSecActivity,
				domain.DepartmentNetworking: cfg.Probabilities.NetworkingActivity,
				domain.DepartmentOperations: cfg.Probabilities.OperationsActivity,
			},
			DailyRoutine:        cfg.Probabilities.DailyRoutine,
			Chatter:             cfg.Probabilities.Chatter,
			NewProject:          cfg.Probabilities.NewProject,
			SecurityIncident:    cfg.Probabilities.SecurityIncident,
			InfrastructureIssue: cfg.Probabilities.InfrastructureIssue,
			CustomerRequest:     cfg.Probabilities.CustomerRequest,
			HealthSummary:       cfg.Probabilities.HealthSummary,
		},
	}
}

func durationMS(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
