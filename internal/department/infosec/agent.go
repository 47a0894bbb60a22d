package infosec

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"orgsim/internal/domain"
	"orgsim/internal/journal"
)

var (
	ErrIncidentNotFound = errors.New("incident not found")
	ErrIncidentClosed   = errors.New("incident already closed")
)

type MessageQueue interface {
	Register(agentID uuid.UUID) chan domain.Message
	Unregister(agentID uuid.UUID)
}

type Messenger interface {
	Send(msg domain.Message) error
}

type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityInfo     Severity = "INFO"
)

type IncidentStatus string

const (
	IncidentOpen          IncidentStatus = "open"
	IncidentInvestigating IncidentStatus = "investigating"
	IncidentMitigating    IncidentStatus = "mitigating"
	IncidentResolved      IncidentStatus = "resolved"
	IncidentClosed        IncidentStatus = "closed"
)

type Incident struct {
	ID              uuid.UUID      `json:"id"`
	Title           string         `json:"title"`
	Description     string         `json:"description"`
	Severity        Severity       `json:"severity"`
	Status          IncidentStatus `json:"status"`
	AssignedTo      uuid.UUID      `json:"assigned_to"`
	ResolutionSteps []string       `json:"resolution_steps"`
	AffectedSystems []string       `json:"affected_systems"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Agent runs the InfoSec department: incident response, vulnerability
// scanning, the derived security posture, controls and compliance.
type Agent struct {
	rec    domain.Agent
	queue  MessageQueue
	bus    Messenger
	sink   journal.Recorder
	logger *log.Logger

	mu         sync.Mutex
	rng        *rand.Rand
	posture    Posture
	incidents  map[uuid.UUID]*Incident
	compliance Compliance

	wg sync.WaitGroup
}

func New(name string, managerID uuid.UUID, queue MessageQueue, bus Messenger, sink journal.Recorder, logger *log.Logger) *Agent {
	if logger == nil {
		logger = log.Default()
	}
	return &Agent{
		rec:        domain.NewAgent(name, domain.DepartmentInfoSec, managerID),
		queue:      queue,
		bus:        bus,
		sink:       sink,
		logger:     logger,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		posture:    defaultPosture(),
		incidents:  make(map[uuid.UUID]*Incident),
		compliance: defaultCompliance(),
	}
}

func (a *Agent) Record() domain.Agent {
	return a.rec
}

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

func (a *Agent) Wait() {
	a.wg.Wait()
}

func (a *Agent) Process(ctx context.Context, msg domain.Message) error {
	switch msg.Kind {
	case domain.KindVulnerabilityScan:
		return a.handleScanRequest(ctx, msg)
	case domain.KindIncidentReport:
		return a.handleIncidentReport(ctx, msg)
	case domain.KindThreatCheck:
		return a.handleThreatCheck(ctx)
	case domain.KindComplianceAudit:
		return a.handleComplianceAudit(ctx)
	case domain.KindSecurityUpdate:
		return a.handleSecurityUpdate(ctx)
	default:
		a.logEvent(ctx, journal.SeverityInfo, "unrecognized_kind", "ignoring message kind "+msg.Kind, nil)
		return nil
	}
}

// RunDailyRoutine walks the department checklist: threat monitoring,
// vulnerability scan, control update, compliance audit.
func (a *Agent) RunDailyRoutine(ctx context.Context) error {
	routine := []string{
		domain.KindThreatCheck,
		domain.KindVulnerabilityScan,
		domain.KindSecurityUpdate,
		domain.KindComplianceAudit,
	}
	for _, kind := range routine {
		msg := domain.NewMessage(a.rec.ID, a.rec.ID, kind, "daily "+kind, domain.PriorityNormal)
		if err := a.Process(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (a *Agent) handleIncidentReport(ctx context.Context, msg domain.Message) error {
	var report domain.SecurityIncidentPayload
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &report); err != nil {
			a.logEvent(ctx, journal.SeverityWarning, "bad_payload", "incident payload unreadable: "+err.Error(), nil)
		}
	}
	if report.Title == "" {
		report.Title = "Security Incident"
	}
	severity := Severity(report.Severity)
	if severity == "" {
		severity = SeverityHigh
	}
	systems := report.AffectedSystems
	if len(systems) == 0 {
		systems = []string{"unknown"}
	}

	incident := a.OpenIncident(report.Title, msg.Content, severity, systems)
	if severity == SeverityCritical {
		a.logEvent(ctx, journal.SeverityCritical, "incident_opened", "critical incident: "+incident.Title, map[string]string{
			"incident": incident.ID.String(),
		})
		a.escalate(ctx, incident.ID.String(), "critical security incident: "+incident.Title)
	} else {
		a.logEvent(ctx, journal.SeverityWarning, "incident_opened", "incident reported: "+incident.Title, map[string]string{
			"incident": incident.ID.String(),
		})
	}
	return nil
}

// OpenIncident records a new incident assigned to this agent.
func (a *Agent) OpenIncident(title, description string, severity Severity, affected []string) Incident {
	now := time.Now().UTC()
	incident := &Incident{
		ID:              uuid.New(),
		Title:           title,
		Description:     description,
		Severity:        severity,
		Status:          IncidentOpen,
		AssignedTo:      a.rec.ID,
		ResolutionSteps: []string{"Initial assessment"},
		AffectedSystems: affected,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	a.mu.Lock()
	a.incidents[incident.ID] = incident
	a.mu.Unlock()
	return *incident
}

// ResolveIncident appends a resolution step and marks the incident
// resolved. Closed incidents stay closed.
func (a *Agent) ResolveIncident(id uuid.UUID, note string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	incident, ok := a.incidents[id]
	if !ok {
		return ErrIncidentNotFound
	}
	if incident.Status == IncidentClosed {
		return ErrIncidentClosed
	}
	if note != "" {
		incident.ResolutionSteps = append(incident.ResolutionSteps, note)
	}
	incident.Status = IncidentResolved
	incident.UpdatedAt = time.Now().UTC()
	return nil
}

func (a *Agent) CloseIncident(id uuid.UUID) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	incident, ok := a.incidents[id]
	if !ok {
		return ErrIncidentNotFound
	}
	if incident.Status == IncidentClosed {
		return ErrIncidentClosed
	}
	incident.Status = IncidentClosed
	incident.UpdatedAt = time.Now().UTC()
	return nil
}

func (a *Agent) Incident(id uuid.UUID) (Incident, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	incident, ok := a.incidents[id]
	if !ok {
		return Incident{}, ErrIncidentNotFound
	}
	out := *incident
	out.ResolutionSteps = append([]string(nil), incident.ResolutionSteps...)
	out.AffectedSystems = append([]string(nil), incident.AffectedSystems...)
	return out, nil
}

func (a *Agent) Incidents() []Incident {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Incident, 0, len(a.incidents))
	for _, incident := range a.incidents {
		c := *incident
		c.ResolutionSteps = append([]string(nil), incident.ResolutionSteps...)
		c.AffectedSystems = append([]string(nil), incident.AffectedSystems...)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
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
		a.logger.Printf("infosec %s: %s", kind, message)
	}
}

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
