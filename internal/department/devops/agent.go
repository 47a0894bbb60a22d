package devops

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"orgsim/internal/domain"
	"orgsim/internal/journal"
)

var (
	ErrServerNotFound     = errors.New("server not found")
	ErrDeploymentNotFound = errors.New("deployment not found")
	ErrRollbackNotAllowed = errors.New("rollback allowed only from failed deployments")
)

type MessageQueue interface {
	Register(agentID uuid.UUID) chan domain.Message
	Unregister(agentID uuid.UUID)
}

type Messenger interface {
	Send(msg domain.Message) error
}

// Agent runs the DevOps department: deployment pipelines, the server
// fleet, monitoring and backups. All state behind mu; detached
// deployment executors write results back only through updateDeployment.
type Agent struct {
	rec    domain.Agent
	queue  MessageQueue
	bus    Messenger
	sink   journal.Recorder
	logger *log.Logger

	mu              sync.Mutex
	rng             *rand.Rand
	deployments     map[uuid.UUID]*Deployment
	servers         map[string]*Server
	serverOrder     []string
	monitoring      MonitoringState
	backups         BackupState
	stepFailureRate float64

	wg sync.WaitGroup
}

func New(name string, managerID uuid.UUID, queue MessageQueue, bus Messenger, sink journal.Recorder, logger *log.Logger) *Agent {
	if logger == nil {
		logger = log.Default()
	}
	a := &Agent{
		rec:         domain.NewAgent(name, domain.DepartmentDevOps, managerID),
		queue:       queue,
		bus:         bus,
		sink:        sink,
		logger:      logger,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		deployments: make(map[uuid.UUID]*Deployment),
		servers:     make(map[string]*Server),
		monitoring: MonitoringState{
			PrometheusUp:   true,
			GrafanaUp:      true,
			AlertmanagerUp: true,
			LastUpdate:     time.Now().UTC(),
		},
		backups: BackupState{
			LastBackup:    time.Now().UTC(),
			LastSuccess:   true,
			RetentionDays: 30,
		},
		stepFailureRate: 0.05,
	}
	a.seedFleet()
	return a
}

func (a *Agent) Record() domain.Agent {
	return a.rec
}

// Start registers the agent's inbox and consumes it until ctx ends.
func (a *Agent) Start(ctx context.Context) {
	ch := a.queue.Register(a.rec.ID)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.queue.Unregister(a.rec.ID)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if err := a.Process(ctx, msg); err != nil {
					a.logEvent(ctx, journal.SeverityError, "handler_failed", "message handler failed: "+err.Error(), map[string]string{
						"kind": msg.Kind,
					})
				}
			}
		}
	}()
}

// Wait blocks until the inbox loop and all detached deployment
// executors have finished.
func (a *Agent) Wait() {
	a.wg.Wait()
}

func (a *Agent) Process(ctx context.Context, msg domain.Message) error {
	switch msg.Kind {
	case domain.KindDeployRequest:
		return a.handleDeployRequest(ctx, msg)
	case domain.KindHealthCheck:
		return a.handleHealthCheck(ctx)
	case domain.KindScaleRequest:
		return a.handleScaleRequest(ctx)
	case domain.KindBackupRequest:
		return a.handleBackupRequest(ctx)
	case domain.KindInfrastructureAlert:
		a.logEvent(ctx, journal.SeverityWarning, "infrastructure_alert", msg.Content, nil)
		return nil
	default:
		a.logEvent(ctx, journal.SeverityInfo, "unrecognized_kind", "ignoring message kind "+msg.Kind, nil)
		return nil
	}
}

// RunDailyRoutine walks the department checklist: health check,
// backup, scale check.
func (a *Agent) RunDailyRoutine(ctx context.Context) error {
	routine := []string{
		domain.KindHealthCheck,
		domain.KindBackupRequest,
		domain.KindScaleRequest,
	}
	for _, kind := range routine {
		msg := domain.NewMessage(a.rec.ID, a.rec.ID, kind, "daily "+kind, domain.PriorityNormal)
		if err := a.Process(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (a *Agent) handleDeployRequest(ctx context.Context, msg domain.Message) error {
	var req domain.DeployRequestPayload
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			a.logEvent(ctx, journal.SeverityWarning, "bad_payload", "deploy request payload unreadable: "+err.Error(), nil)
			return nil
		}
	}
	if req.ProjectID == uuid.Nil {
		a.logEvent(ctx, journal.SeverityWarning, "deploy_rejected", "deploy request without project id", nil)
		return nil
	}
	if req.Environment == "" {
		req.Environment = "staging"
	}

	id := a.SubmitDeployment(ctx, req.ProjectID, req.Environment)
	a.logEvent(ctx, journal.SeverityInfo, "deploy_started", "deployment "+shortID(id)+" started for "+req.Environment, map[string]string{
		"deployment": id.String(),
		"project":    req.ProjectID.String(),
	})
	return nil
}

func (a *Agent) logEvent(ctx context.Context, severity journal.Severity, kind, message string, detail map[string]string) {
	ev := journal.Event{
		Department: a.rec.Department,
		ActorID:    a.rec.ID,
		Actor:      a.rec.Name,
		Severity:   severity,
		Kind:       kind,
		Message:    message,
		Detail:     detail,
	}
	if a.sink == nil || a.sink.Record(ctx, ev) != nil {
		a.logger.Printf("devops %s: %s", kind, message)
	}
}

// escalate notifies the agent's manager over the bus. No manager or
// no bus means nothing to do.
func (a *Agent) escalate(ctx context.Context, reference, note string) {
	if a.bus == nil || a.rec.ManagerID == uuid.Nil {
		return
	}
	msg := domain.NewMessage(a.rec.ID, a.rec.ManagerID, domain.KindEscalationNotice, note, domain.PriorityUrgent)
	msg.Payload = domain.EncodePayload(domain.EscalationPayload{
		Origin:    string(a.rec.Department),
		Reference: reference,
		Note:      note,
	})
	if err := a.bus.Send(msg); err != nil {
		a.logEvent(ctx, journal.SeverityWarning, "escalation_failed", "manager unreachable: "+err.Error(), nil)
	}
}

func shortID(id uuid.UUID) string {
	s := id.String()
	if len(s) > 8 {
		return s[:8]
	}
	return s
}
