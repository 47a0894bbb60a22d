// Package orchestrator drives the simulation: it owns the roster,
// advances discrete steps during working hours, rolls the configured
// probabilities and turns company events into bus messages.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"orgsim/internal/domain"
	"orgsim/internal/journal"
)

var ErrDuplicateAgent = errors.New("agent already registered")

type Bus interface {
	Send(msg domain.Message) error
}

// Member is the slice of a department agent the orchestrator drives.
// Message handling stays behind the bus; the orchestrator only reads
// the record and invokes maintenance.
type Member interface {
	Record() domain.Agent
	RunDailyRoutine(ctx context.Context) error
}

// Probabilities are per-step roll thresholds in [0, 1]. The four
// company events share a single roll, so their sum is the chance that
// any company event fires on a step.
type Probabilities struct {
	Activity            map[domain.Department]float64
	DailyRoutine        float64
	Chatter             float64
	NewProject          float64
	SecurityIncident    float64
	InfrastructureIssue float64
	CustomerRequest     float64
	HealthSummary       float64
}

type Config struct {
	WorkingHoursStart int
	WorkingHoursEnd   int
	SpeedMultiplier   float64
	Autonomous        bool
	MaxSteps          int
	StepInterval      time.Duration
	OffHoursWait      time.Duration
	Probabilities     Probabilities
}

func (c Config) withDefaults() Config {
	if c.WorkingHoursStart == 0 && c.WorkingHoursEnd == 0 {
		c.WorkingHoursStart, c.WorkingHoursEnd = 9, 18
	}
	if c.SpeedMultiplier <= 0 {
		c.SpeedMultiplier = 1.0
	}
	if c.StepInterval <= 0 {
		c.StepInterval = time.Minute
	}
	if c.OffHoursWait <= 0 {
		c.OffHoursWait = 5 * time.Minute
	}
	return c
}

type Service struct {
	bus    Bus
	sink   journal.Recorder
	cfg    Config
	logger *log.Logger

	mu       sync.RWMutex
	members  []Member
	byID     map[uuid.UUID]Member
	projects []uuid.UUID
	step     int

	rng *rand.Rand
	now func() time.Time
}

func New(bus Bus, sink journal.Recorder, cfg Config, logger *log.Logger) *Service {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		bus:    bus,
		sink:   sink,
		cfg:    cfg,
		logger: logger,
		byID:   make(map[uuid.UUID]Member),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		now:    time.Now,
	}
}

// RegisterMember adds an agent to the roster. Roster order decides
// which agent in a department receives targeted company events.
func (s *Service) RegisterMember(m Member) error {
	rec := m.Record()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[rec.ID]; exists {
		return fmt.Errorf("%s: %w", rec.Name, ErrDuplicateAgent)
	}
	s.byID[rec.ID] = m
	s.members = append(s.members, m)
	return nil
}

// Run advances simulation steps until ctx is cancelled or MaxSteps is
// reached. Off-hours waits do not consume steps.
func (s *Service) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if s.cfg.MaxSteps > 0 && s.Step() >= s.cfg.MaxSteps {
			s.journal(ctx, s.Step(), journal.SeverityInfo, "run_complete",
				fmt.Sprintf("simulation finished after %d steps", s.Step()), nil)
			return nil
		}

		if hour := s.now().Hour(); !withinWorkingHours(hour, s.cfg.WorkingHoursStart, s.cfg.WorkingHoursEnd) {
			s.journal(ctx, s.Step(), journal.SeverityDebug, "off_hours",
				fmt.Sprintf("outside working hours (%d-%d), agents resting", s.cfg.WorkingHoursStart, s.cfg.WorkingHoursEnd), nil)
			if err := sleepContext(ctx, s.cfg.OffHoursWait); err != nil {
				return err
			}
			continue
		}

		step := s.advanceStep()
		s.runStep(ctx, step)

		interval := time.Duration(float64(s.cfg.StepInterval) / s.cfg.SpeedMultiplier)
		if err := sleepContext(ctx, interval); err != nil {
			return err
		}
	}
}

// withinWorkingHours reports whether hour falls in [start, end). The
// window does not wrap midnight.
func withinWorkingHours(hour, start, end int) bool {
	return hour >= start && hour < end
}

func (s *Service) advanceStep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.step++
	return s.step
}

func (s *Service) runStep(ctx context.Context, step int) {
	if s.cfg.Autonomous {
		s.driveAgents(ctx, step)
		s.driveChatter(ctx, step)
		s.driveCompanyEvent(ctx, step)
	}
	if s.roll() < s.cfg.Probabilities.HealthSummary {
		s.healthSummary(ctx, step)
	}
}

// driveAgents rolls per-member activity and maintenance. A failing
// routine is journaled and the sweep continues with the next member.
func (s *Service) driveAgents(ctx context.Context, step int) {
	for _, m := range s.snapshotMembers() {
		rec := m.Record()
		if s.roll() < s.cfg.Probabilities.Activity[rec.Department] {
			s.journalFor(ctx, step, rec, journal.SeverityDebug, "department_activity", activityLine(rec.Department), nil)
		}
		if s.roll() < s.cfg.Probabilities.DailyRoutine {
			if err := m.RunDailyRoutine(ctx); err != nil {
				s.journalFor(ctx, step, rec, journal.SeverityError, "routine_failed", "daily routine failed: "+err.Error(), nil)
			}
		}
	}
}

func activityLine(dept domain.Department) string {
	switch dept {
	case domain.DepartmentDevOps:
		return "performing infrastructure maintenance"
	case domain.DepartmentInfoSec:
		return "conducting security scan"
	case domain.DepartmentNetworking:
		return "optimizing network performance"
	case domain.DepartmentOperations:
		return "processing support tickets"
	default:
		return "working the department queue"
	}
}

// driveChatter routes one synthetic message between two distinct
// members picked uniformly at random.
func (s *Service) driveChatter(ctx context.Context, step int) {
	if s.roll() >= s.cfg.Probabilities.Chatter {
		return
	}
	members := s.snapshotMembers()
	if len(members) < 2 {
		return
	}
	i := s.rng.Intn(len(members))
	j := s.rng.Intn(len(members) - 1)
	if j >= i {
		j++
	}
	from, to := members[i].Record(), members[j].Record()

	kinds := []string{
		domain.KindStatusUpdate,
		domain.KindCollaborationRequest,
		domain.KindIssueReport,
		domain.KindResourceRequest,
	}
	kind := kinds[s.rng.Intn(len(kinds))]
	content := fmt.Sprintf("Automated %s from %s department", strings.ReplaceAll(kind, "_", " "), from.Department)

	s.send(ctx, step, domain.NewMessage(from.ID, to.ID, kind, content, domain.PriorityNormal))
	s.journalFor(ctx, step, from, journal.SeverityDebug, "chatter", content, map[string]string{
		"to": string(to.Department),
	})
}

// driveCompanyEvent rolls once against the cumulative event ladder, so
// at most one company event fires per step.
func (s *Service) driveCompanyEvent(ctx context.Context, step int) {
	p := s.cfg.Probabilities
	roll := s.roll()
	switch {
	case roll < p.NewProject:
		s.eventNewProject(ctx, step)
	case roll < p.NewProject+p.SecurityIncident:
		s.eventSecurityIncident(ctx, step)
	case roll < p.NewProject+p.SecurityIncident+p.InfrastructureIssue:
		s.eventInfrastructureIssue(ctx, step)
	case roll < p.NewProject+p.SecurityIncident+p.InfrastructureIssue+p.CustomerRequest:
		s.eventCustomerRequest(ctx, step)
	}
}

func (s *Service) eventNewProject(ctx context.Context, step int) {
	projectID := uuid.New()
	s.mu.Lock()
	s.projects = append(s.projects, projectID)
	name := fmt.Sprintf("project-%d", len(s.projects))
	s.mu.Unlock()

	s.journal(ctx, step, journal.SeverityInfo, "new_project", "new customer project received: "+name, map[string]string{
		"project_id": projectID.String(),
	})

	payload := domain.EncodePayload(domain.ProjectAssignmentPayload{ProjectID: projectID, ProjectName: name})
	for _, dept := range []domain.Department{domain.DepartmentEngineering, domain.DepartmentOperations} {
		rec, ok := s.firstInDepartment(dept)
		if !ok {
			continue
		}
		msg := domain.NewMessage(uuid.Nil, rec.ID, domain.KindProjectAssignment, "Assigned to "+name, domain.PriorityNormal)
		msg.Payload = payload
		s.send(ctx, step, msg)
	}
}

func (s *Service) eventSecurityIncident(ctx context.Context, step int) {
	rec, ok := s.firstInDepartment(domain.DepartmentInfoSec)
	if !ok {
		return
	}
	s.journal(ctx, step, journal.SeverityWarning, "security_event", "security incident detected, notifying InfoSec", nil)

	msg := domain.NewMessage(uuid.Nil, rec.ID, domain.KindIncidentReport,
		"Security incident: Suspicious activity detected on customer portal", domain.PriorityHigh)
	msg.Payload = domain.EncodePayload(domain.SecurityIncidentPayload{
		Title:           "Security Incident - Suspicious Activity",
		Severity:        "HIGH",
		AffectedSystems: []string{"customer-portal"},
	})
	s.send(ctx, step, msg)
}

func (s *Service) eventInfrastructureIssue(ctx context.Context, step int) {
	rec, ok := s.firstInDepartment(domain.DepartmentDevOps)
	if !ok {
		return
	}
	s.journal(ctx, step, journal.SeverityWarning, "infrastructure_event", "infrastructure issue detected, notifying DevOps", nil)

	msg := domain.NewMessage(uuid.Nil, rec.ID, domain.KindInfrastructureAlert,
		"High CPU usage detected on web servers", domain.PriorityHigh)
	s.send(ctx, step, msg)
}

func (s *Service) eventCustomerRequest(ctx context.Context, step int) {
	rec, ok := s.firstInDepartment(domain.DepartmentOperations)
	if !ok {
		return
	}
	s.journal(ctx, step, journal.SeverityInfo, "customer_event", "customer support request received", nil)

	msg := domain.NewMessage(uuid.Nil, rec.ID, domain.KindCreateTicket,
		"Customer reports website loading slowly", domain.PriorityNormal)
	msg.Payload = domain.EncodePayload(domain.TicketPayload{
		Title:      "Website Performance Issue",
		Priority:   "NORMAL",
		CustomerID: fmt.Sprintf("cust-%06d", s.rng.Intn(1000000)),
	})
	s.send(ctx, step, msg)
}

func (s *Service) healthSummary(ctx context.Context, step int) {
	s.mu.RLock()
	total := len(s.members)
	projects := len(s.projects)
	counts := make(map[domain.Department]int)
	for _, m := range s.members {
		counts[m.Record().Department]++
	}
	s.mu.RUnlock()

	detail := map[string]string{
		"agents":   strconv.Itoa(total),
		"projects": strconv.Itoa(projects),
	}
	for dept, n := range counts {
		detail[string(dept)] = strconv.Itoa(n)
	}
	s.journal(ctx, step, journal.SeverityInfo, "health_summary",
		fmt.Sprintf("%d agents across %d departments, %d active projects", total, len(counts), projects), detail)
}

func (s *Service) firstInDepartment(dept domain.Department) (domain.Agent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.members {
		if rec := m.Record(); rec.Department == dept {
			return rec, true
		}
	}
	return domain.Agent{}, false
}

func (s *Service) snapshotMembers() []Member {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Member(nil), s.members...)
}

func (s *Service) send(ctx context.Context, step int, msg domain.Message) {
	if err := s.bus.Send(msg); err != nil {
		s.journal(ctx, step, journal.SeverityWarning, "delivery_failed", "message delivery failed: "+err.Error(), map[string]string{
			"kind": msg.Kind,
			"to":   msg.To.String(),
		})
	}
}

// Step returns the number of completed simulation steps.
func (s *Service) Step() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.step
}

// Projects returns the ids of projects opened so far.
func (s *Service) Projects() []uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]uuid.UUID(nil), s.projects...)
}

// Roster returns the registered agent records in registration order.
func (s *Service) Roster() []domain.Agent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Agent, 0, len(s.members))
	for _, m := range s.members {
		out = append(out, m.Record())
	}
	return out
}

func (s *Service) roll() float64 {
	return s.rng.Float64()
}

func (s *Service) journal(ctx context.Context, step int, severity journal.Severity, kind, message string, detail map[string]string) {
	ev := journal.Event{
		Step:     step,
		Severity: severity,
		Kind:     kind,
		Message:  message,
		Detail:   detail,
	}
	if s.sink == nil || s.sink.Record(ctx, ev) != nil {
		s.logger.Printf("orchestrator %s: %s", kind, message)
	}
}

func (s *Service) journalFor(ctx context.Context, step int, rec domain.Agent, severity journal.Severity, kind, message string, detail map[string]string) {
	ev := journal.Event{
		Step:       step,
		Department: rec.Department,
		ActorID:    rec.ID,
		Actor:      rec.Name,
		Severity:   severity,
		Kind:       kind,
		Message:    message,
		Detail:     detail,
	}
	if s.sink == nil || s.sink.Record(ctx, ev) != nil {
		s.logger.Printf("orchestrator %s: %s", kind, message)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
