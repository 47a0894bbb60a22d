package orchestrator

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"orgsim/internal/domain"
	"orgsim/internal/journal"
)

type fakeBus struct {
	mu   sync.Mutex
	sent []domain.Message
	err  error
}

func (b *fakeBus) Send(msg domain.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.sent = append(b.sent, msg)
	return nil
}

func (b *fakeBus) messages() []domain.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.Message(nil), b.sent...)
}

type fakeMember struct {
	rec domain.Agent

	mu       sync.Mutex
	routines int
	fail     error
}

func newFakeMember(name string, dept domain.Department) *fakeMember {
	return &fakeMember{rec: domain.NewAgent(name, dept, uuid.Nil)}
}

func (m *fakeMember) Record() domain.Agent { return m.rec }

func (m *fakeMember) RunDailyRoutine(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routines++
	return m.fail
}

func (m *fakeMember) routineRuns() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.routines
}

func newTestService(t *testing.T, bus Bus, cfg Config) (*Service, *journal.Memory) {
	t.Helper()

	sink := journal.NewMemory(1024)
	s := New(bus, sink, cfg, log.New(io.Discard, "", 0))
	s.now = func() time.Time { return time.Date(2025, 3, 4, 12, 0, 0, 0, time.UTC) }
	return s, sink
}

func hasEvent(events []journal.Event, kind string) bool {
	for _, ev := range events {
		if ev.Kind == kind {
			return true
		}
	}
	return false
}

func TestWithinWorkingHours(t *testing.T) {
	cases := []struct {
		hour, start, end int
		want             bool
	}{
		{8, 9, 18, false},
		{9, 9, 18, true},
		{12, 9, 18, true},
		{17, 9, 18, true},
		{18, 9, 18, false},
		{23, 9, 18, false},
		{0, 9, 18, false},
		{0, 0, 24, true},
		{23, 0, 24, true},
	}
	for _, tc := range cases {
		if got := withinWorkingHours(tc.hour, tc.start, tc.end); got != tc.want {
			t.Errorf("withinWorkingHours(%d, %d, %d) = %v, want %v", tc.hour, tc.start, tc.end, got, tc.want)
		}
	}
}

func TestRegisterMemberRejectsDuplicate(t *testing.T) {
	s, _ := newTestService(t, &fakeBus{}, Config{})
	m := newFakeMember("Jordan Smith", domain.DepartmentDevOps)

	if err := s.RegisterMember(m); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := s.RegisterMember(m); !errors.Is(err, ErrDuplicateAgent) {
		t.Fatalf("duplicate register: got %v, want ErrDuplicateAgent", err)
	}
	if len(s.Roster()) != 1 {
		t.Fatalf("roster: %d", len(s.Roster()))
	}
}

func TestRunStopsAtMaxSteps(t *testing.T) {
	s, sink := newTestService(t, &fakeBus{}, Config{
		MaxSteps:     3,
		StepInterval: time.Millisecond,
		OffHoursWait: time.Millisecond,
	})

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if s.Step() != 3 {
		t.Fatalf("steps: got %d, want 3", s.Step())
	}
	if !hasEvent(sink.Events(), "run_complete") {
		t.Fatal("run_complete not journaled")
	}
}

func TestOffHoursDoesNotConsumeSteps(t *testing.T) {
	s, sink := newTestService(t, &fakeBus{}, Config{
		MaxSteps:     2,
		StepInterval: time.Millisecond,
		OffHoursWait: time.Millisecond,
	})
	s.now = func() time.Time { return time.Date(2025, 3, 4, 3, 0, 0, 0, time.UTC) }

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := s.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("run off-hours: got %v, want deadline exceeded", err)
	}
	if s.Step() != 0 {
		t.Fatalf("steps advanced off-hours: %d", s.Step())
	}
	if !hasEvent(sink.Events(), "off_hours") {
		t.Fatal("off_hours not journaled")
	}
}

func TestNewProjectAssignsEngineeringAndOperations(t *testing.T) {
	bus := &fakeBus{}
	s, sink := newTestService(t, bus, Config{
		Autonomous: true,
		Probabilities: Probabilities{
			NewProject: 1,
		},
	})
	eng1 := newFakeMember("Sarah Chen", domain.DepartmentEngineering)
	eng2 := newFakeMember("Engineering Agent 1", domain.DepartmentEngineering)
	ops := newFakeMember("David Wilson", domain.DepartmentOperations)
	for _, m := range []*fakeMember{eng1, eng2, ops} {
		if err := s.RegisterMember(m); err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	s.runStep(context.Background(), 1)

	msgs := bus.messages()
	if len(msgs) != 2 {
		t.Fatalf("messages: got %d, want 2", len(msgs))
	}
	if msgs[0].To != eng1.rec.ID || msgs[1].To != ops.rec.ID {
		t.Fatalf("recipients: %s, %s", msgs[0].To, msgs[1].To)
	}
	for _, msg := range msgs {
		if msg.Kind != domain.KindProjectAssignment || msg.From != uuid.Nil {
			t.Fatalf("assignment message: %+v", msg)
		}
	}
	if len(s.Projects()) != 1 {
		t.Fatalf("projects: %d", len(s.Projects()))
	}
	if !hasEvent(sink.Events(), "new_project") {
		t.Fatal("new_project not journaled")
	}
}

func TestSecurityIncidentRoutesToInfoSec(t *testing.T) {
	bus := &fakeBus{}
	s, _ := newTestService(t, bus, Config{
		Autonomous: true,
		Probabilities: Probabilities{
			SecurityIncident: 1,
		},
	})
	sec := newFakeMember("Alex Thompson", domain.DepartmentInfoSec)
	if err := s.RegisterMember(newFakeMember("Jordan Smith", domain.DepartmentDevOps)); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := s.RegisterMember(sec); err != nil {
		t.Fatalf("register: %v", err)
	}

	s.runStep(context.Background(), 1)

	msgs := bus.messages()
	if len(msgs) != 1 {
		t.Fatalf("messages: got %d, want 1", len(msgs))
	}
	msg := msgs[0]
	if msg.To != sec.rec.ID || msg.Kind != domain.KindIncidentReport || msg.Priority != domain.PriorityHigh {
		t.Fatalf("incident message: %+v", msg)
	}
	if !strings.Contains(string(msg.Payload), "customer-portal") {
		t.Fatalf("incident payload: %s", msg.Payload)
	}
}

func TestInfrastructureIssueRoutesToDevOps(t *testing.T) {
	bus := &fakeBus{}
	s, _ := newTestService(t, bus, Config{
		Autonomous: true,
		Probabilities: Probabilities{
			InfrastructureIssue: 1,
		},
	})
	devops := newFakeMember("Jordan Smith", domain.DepartmentDevOps)
	if err := s.RegisterMember(devops); err != nil {
		t.Fatalf("register: %v", err)
	}

	s.runStep(context.Background(), 1)

	msgs := bus.messages()
	if len(msgs) != 1 || msgs[0].To != devops.rec.ID || msgs[0].Kind != domain.KindInfrastructureAlert {
		t.Fatalf("alert messages: %+v", msgs)
	}
}

func TestCustomerRequestRoutesToOperations(t *testing.T) {
	bus := &fakeBus{}
	s, _ := newTestService(t, bus, Config{
		Autonomous: true,
		Probabilities: Probabilities{
			CustomerRequest: 1,
		},
	})
	ops := newFakeMember("David Wilson", domain.DepartmentOperations)
	if err := s.RegisterMember(ops); err != nil {
		t.Fatalf("register: %v", err)
	}

	s.runStep(context.Background(), 1)

	msgs := bus.messages()
	if len(msgs) != 1 || msgs[0].To != ops.rec.ID || msgs[0].Kind != domain.KindCreateTicket {
		t.Fatalf("ticket messages: %+v", msgs)
	}
	if !strings.Contains(string(msgs[0].Payload), "cust-") {
		t.Fatalf("ticket payload: %s", msgs[0].Payload)
	}
}

func TestChatterPicksDistinctPair(t *testing.T) {
	bus := &fakeBus{}
	s, _ := newTestService(t, bus, Config{
		Autonomous: true,
		Probabilities: Probabilities{
			Chatter: 1,
		},
	})
	a := newFakeMember("Sarah Chen", domain.DepartmentEngineering)
	b := newFakeMember("Mike Rodriguez", domain.DepartmentSales)
	if err := s.RegisterMember(a); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := s.RegisterMember(b); err != nil {
		t.Fatalf("register: %v", err)
	}

	for step := 1; step <= 20; step++ {
		s.runStep(context.Background(), step)
	}

	msgs := bus.messages()
	if len(msgs) != 20 {
		t.Fatalf("chatter messages: got %d, want 20", len(msgs))
	}
	validKinds := map[string]bool{
		domain.KindStatusUpdate:         true,
		domain.KindCollaborationRequest: true,
		domain.KindIssueReport:          true,
		domain.KindResourceRequest:      true,
	}
	for _, msg := range msgs {
		if msg.From == msg.To {
			t.Fatalf("chatter to self: %+v", msg)
		}
		if !validKinds[msg.Kind] {
			t.Fatalf("chatter kind: %q", msg.Kind)
		}
		if !strings.HasPrefix(msg.Content, "Automated ") {
			t.Fatalf("chatter content: %q", msg.Content)
		}
	}
}

func TestRoutineFailureDoesNotStopTheSweep(t *testing.T) {
	s, sink := newTestService(t, &fakeBus{}, Config{
		Autonomous: true,
		Probabilities: Probabilities{
			DailyRoutine: 1,
		},
	})
	broken := newFakeMember("Jordan Smith", domain.DepartmentDevOps)
	broken.fail = errors.New("backup store unreachable")
	healthy := newFakeMember("Alex Thompson", domain.DepartmentInfoSec)
	if err := s.RegisterMember(broken); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := s.RegisterMember(healthy); err != nil {
		t.Fatalf("register: %v", err)
	}

	s.runStep(context.Background(), 1)

	if broken.routineRuns() != 1 || healthy.routineRuns() != 1 {
		t.Fatalf("routine runs: broken=%d healthy=%d", broken.routineRuns(), healthy.routineRuns())
	}
	var logged bool
	for _, ev := range sink.Events() {
		if ev.Kind == "routine_failed" && ev.Severity == journal.SeverityError {
			logged = true
		}
	}
	if !logged {
		t.Fatal("routine failure not journaled")
	}
}

func TestNonAutonomousStepStillSummarizesHealth(t *testing.T) {
	bus := &fakeBus{}
	s, sink := newTestService(t, bus, Config{
		Autonomous: false,
		Probabilities: Probabilities{
			Chatter:       1,
			NewProject:    1,
			HealthSummary: 1,
		},
	})
	if err := s.RegisterMember(newFakeMember("Sarah Chen", domain.DepartmentEngineering)); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := s.RegisterMember(newFakeMember("David Wilson", domain.DepartmentOperations)); err != nil {
		t.Fatalf("register: %v", err)
	}

	s.runStep(context.Background(), 1)

	if len(bus.messages()) != 0 {
		t.Fatalf("messages sent in manual mode: %+v", bus.messages())
	}
	if !hasEvent(sink.Events(), "health_summary") {
		t.Fatal("health_summary not journaled")
	}
}

func TestDeliveryFailureIsJournaled(t *testing.T) {
	bus := &fakeBus{err: errors.New("recipient queue is full")}
	s, sink := newTestService(t, bus, Config{
		Autonomous: true,
		Probabilities: Probabilities{
			CustomerRequest: 1,
		},
	})
	if err := s.RegisterMember(newFakeMember("David Wilson", domain.DepartmentOperations)); err != nil {
		t.Fatalf("register: %v", err)
	}

	s.runStep(context.Background(), 1)

	var warned bool
	for _, ev := range sink.Events() {
		if ev.Kind == "delivery_failed" && ev.Severity == journal.SeverityWarning {
			warned = true
		}
	}
	if !warned {
		t.Fatal("delivery failure not journaled")
	}
}

func TestActivityRollsJournalPerDepartment(t *testing.T) {
	s, sink := newTestService(t, &fakeBus{}, Config{
		Autonomous: true,
		Probabilities: Probabilities{
			Activity: map[domain.Department]float64{
				domain.DepartmentDevOps: 1,
			},
		},
	})
	devops := newFakeMember("Jordan Smith", domain.DepartmentDevOps)
	sales := newFakeMember("Mike Rodriguez", domain.DepartmentSales)
	if err := s.RegisterMember(devops); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := s.RegisterMember(sales); err != nil {
		t.Fatalf("register: %v", err)
	}

	s.runStep(context.Background(), 1)

	var devopsActivity, salesActivity bool
	for _, ev := range sink.Events() {
		if ev.Kind != "department_activity" {
			continue
		}
		switch ev.Department {
		case domain.DepartmentDevOps:
			devopsActivity = true
		case domain.DepartmentSales:
			salesActivity = true
		}
	}
	if !devopsActivity {
		t.Fatal("devops activity not journaled")
	}
	if salesActivity {
		t.Fatal("sales activity journaled with zero probability")
	}
}
