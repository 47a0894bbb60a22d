package ops

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"orgsim/internal/domain"
	"orgsim/internal/journal"
	"orgsim/internal/messaging/inproc"
)

func newTestAgent(t *testing.T) (*Agent, *journal.Memory) {
	t.Helper()

	sink := journal.NewMemory(256)
	a := New("David Wilson", uuid.Nil, nil, nil, sink, log.New(io.Discard, "", 0))
	return a, sink
}

func TestCreateTicketAutoAssigns(t *testing.T) {
	a, _ := newTestAgent(t)

	msg := domain.NewMessage(uuid.New(), a.rec.ID, domain.KindCreateTicket, "website loads slowly", domain.PriorityNormal)
	if err := a.Process(context.Background(), msg); err != nil {
		t.Fatalf("process create ticket: %v", err)
	}

	tickets := a.Tickets()
	if len(tickets) != 1 {
		t.Fatalf("tickets: got %d, want 1", len(tickets))
	}
	got := tickets[0]
	if got.Title != "Support Request" {
		t.Fatalf("default title: got %q", got.Title)
	}
	if got.Priority != TicketNormal {
		t.Fatalf("default priority: got %s", got.Priority)
	}
	if got.Status != TicketInProgress {
		t.Fatalf("status after auto-assign: got %s, want %s", got.Status, TicketInProgress)
	}
	if got.AssignedTo != a.rec.ID {
		t.Fatalf("assignee: got %s, want handling agent", got.AssignedTo)
	}
	if got.CustomerID != "" {
		t.Fatalf("customer id: got %q, want empty", got.CustomerID)
	}
}

func TestTicketLifecycleGuards(t *testing.T) {
	a, _ := newTestAgent(t)

	if err := a.ResolveTicket(uuid.New(), "n/a"); !errors.Is(err, ErrTicketNotFound) {
		t.Fatalf("resolve unknown ticket: got %v, want ErrTicketNotFound", err)
	}

	ticket := a.CreateTicket("VPN drops", "disconnects hourly", TicketHigh, "cust-000042")
	if err := a.ResolveTicket(ticket.ID, "replaced gateway config"); err != nil {
		t.Fatalf("resolve ticket: %v", err)
	}
	if err := a.CloseTicket(ticket.ID); err != nil {
		t.Fatalf("close ticket: %v", err)
	}

	// Closed is terminal.
	if err := a.ResolveTicket(ticket.ID, "again"); !errors.Is(err, ErrTicketClosed) {
		t.Fatalf("resolve closed ticket: got %v, want ErrTicketClosed", err)
	}
	if err := a.CloseTicket(ticket.ID); !errors.Is(err, ErrTicketClosed) {
		t.Fatalf("close closed ticket: got %v, want ErrTicketClosed", err)
	}
}

func TestStaleResolvedTicketsAutoClose(t *testing.T) {
	a, _ := newTestAgent(t)

	stale := a.CreateTicket("Old issue", "resolved a while ago", TicketNormal, "")
	fresh := a.CreateTicket("New issue", "resolved just now", TicketNormal, "")
	if err := a.ResolveTicket(stale.ID, "done"); err != nil {
		t.Fatalf("resolve stale: %v", err)
	}
	if err := a.ResolveTicket(fresh.ID, "done"); err != nil {
		t.Fatalf("resolve fresh: %v", err)
	}

	a.mu.Lock()
	a.tickets[stale.ID].UpdatedAt = time.Now().UTC().Add(-8 * 24 * time.Hour)
	a.mu.Unlock()

	if err := a.RunDailyRoutine(context.Background()); err != nil {
		t.Fatalf("daily routine: %v", err)
	}

	got, err := a.Ticket(stale.ID)
	if err != nil {
		t.Fatalf("get stale ticket: %v", err)
	}
	if got.Status != TicketClosed {
		t.Fatalf("stale ticket status: got %s, want %s", got.Status, TicketClosed)
	}
	got, err = a.Ticket(fresh.ID)
	if err != nil {
		t.Fatalf("get fresh ticket: %v", err)
	}
	if got.Status != TicketResolved {
		t.Fatalf("fresh ticket status: got %s, want %s", got.Status, TicketResolved)
	}
}

func TestChangeApproval(t *testing.T) {
	a, _ := newTestAgent(t)
	approver := uuid.New()

	change := a.SubmitChange(ChangeInput{
		Title:        "Rotate TLS certificates",
		Description:  "expiring next month",
		Risk:         RiskLow,
		RollbackPlan: "reinstall previous certs",
		Requester:    a.rec.ID,
	})
	if change.Status != ChangePendingApproval {
		t.Fatalf("submitted status: got %s, want %s", change.Status, ChangePendingApproval)
	}

	if err := a.ApproveChange(change.ID, approver); err != nil {
		t.Fatalf("approve change: %v", err)
	}
	got, err := a.Change(change.ID)
	if err != nil {
		t.Fatalf("get change: %v", err)
	}
	if got.Status != ChangeApproved {
		t.Fatalf("approved status: got %s, want %s", got.Status, ChangeApproved)
	}
	if got.Approver != approver {
		t.Fatalf("approver: got %s, want %s", got.Approver, approver)
	}
}

func TestApproveMissingChangeLeavesQueueUnchanged(t *testing.T) {
	a, _ := newTestAgent(t)

	submitted := a.SubmitChange(ChangeInput{Title: "Upgrade database", Requester: a.rec.ID})
	before := a.Changes()

	if err := a.ApproveChange(uuid.New(), uuid.New()); !errors.Is(err, ErrChangeNotFound) {
		t.Fatalf("approve missing change: got %v, want ErrChangeNotFound", err)
	}

	after := a.Changes()
	if len(after) != len(before) {
		t.Fatalf("queue length changed: %d -> %d", len(before), len(after))
	}
	got, err := a.Change(submitted.ID)
	if err != nil {
		t.Fatalf("get submitted change: %v", err)
	}
	if got.Status != ChangePendingApproval || got.Approver != uuid.Nil {
		t.Fatalf("existing change mutated: %+v", got)
	}
}

func TestCancelledChangeIsFinal(t *testing.T) {
	a, _ := newTestAgent(t)

	change := a.SubmitChange(ChangeInput{Title: "Decommission legacy host", Requester: a.rec.ID})
	if err := a.CancelChange(change.ID); err != nil {
		t.Fatalf("cancel change: %v", err)
	}
	if err := a.ApproveChange(change.ID, uuid.New()); !errors.Is(err, ErrChangeFinalized) {
		t.Fatalf("approve cancelled change: got %v, want ErrChangeFinalized", err)
	}
	if err := a.CancelChange(change.ID); !errors.Is(err, ErrChangeFinalized) {
		t.Fatalf("cancel cancelled change: got %v, want ErrChangeFinalized", err)
	}
}

func TestSLAViolationRecorded(t *testing.T) {
	a, _ := newTestAgent(t)

	// An unreachable target forces a violation on every sample.
	a.TrackSLA(SLA{Service: "billing-api", UptimeTarget: 200, ResponseTimeMS: 100, ResolutionHours: 1, Period: "monthly"})

	violations := a.MonitorSLA()
	var billing *SLAViolation
	for i := range violations {
		if violations[i].Service == "billing-api" {
			billing = &violations[i]
		}
	}
	if billing == nil {
		t.Fatalf("no violation for rigged service: %+v", violations)
	}
	if !strings.Contains(billing.Impact, "below target") {
		t.Fatalf("violation impact: got %q", billing.Impact)
	}

	status := a.SLAStatus()
	c, ok := status.Compliance["billing-api"]
	if !ok || c < 99.0 || c > 101.0 {
		t.Fatalf("sampled compliance: got %v (present=%v)", c, ok)
	}
	if len(status.Violations) == 0 {
		t.Fatal("violation not retained in tracking state")
	}
}

func TestSLAWithinTargetRecordsNoViolation(t *testing.T) {
	a, _ := newTestAgent(t)

	a.mu.Lock()
	a.sla.SLAs = map[string]SLA{
		"lenient": {Service: "lenient", UptimeTarget: 0, Period: "monthly"},
	}
	a.mu.Unlock()

	if violations := a.MonitorSLA(); len(violations) != 0 {
		t.Fatalf("violations for lenient target: %+v", violations)
	}
}

func TestDeclareIncidentDefaults(t *testing.T) {
	a, _ := newTestAgent(t)

	msg := domain.NewMessage(uuid.New(), a.rec.ID, domain.KindDeclareIncident, "database connections exhausted", domain.PriorityHigh)
	if err := a.Process(context.Background(), msg); err != nil {
		t.Fatalf("process declare incident: %v", err)
	}

	incidents := a.Incidents()
	if len(incidents) != 1 {
		t.Fatalf("incidents: got %d, want 1", len(incidents))
	}
	got := incidents[0]
	if got.Title != "System Incident" {
		t.Fatalf("default title: got %q", got.Title)
	}
	if got.Severity != Sev3 {
		t.Fatalf("default severity: got %s, want %s", got.Severity, Sev3)
	}
	if got.Status != IncidentOpen {
		t.Fatalf("initial status: got %s", got.Status)
	}
	if len(got.AffectedServices) != 1 || got.AffectedServices[0] != "unknown" {
		t.Fatalf("affected services: got %v", got.AffectedServices)
	}
}

func TestSev1IncidentEscalates(t *testing.T) {
	bus := inproc.New(16)
	manager := uuid.New()
	managerCh := bus.Register(manager)

	sink := journal.NewMemory(256)
	a := New("Operations Agent 1", manager, bus, bus, sink, log.New(io.Discard, "", 0))

	msg := domain.NewMessage(uuid.New(), a.rec.ID, domain.KindDeclareIncident, "site down", domain.PriorityUrgent)
	msg.Payload = domain.EncodePayload(domain.OpsIncidentPayload{Title: "Full outage", Severity: string(Sev1)})
	if err := a.Process(context.Background(), msg); err != nil {
		t.Fatalf("process sev1 incident: %v", err)
	}

	select {
	case got := <-managerCh:
		if got.Kind != domain.KindEscalationNotice || got.Priority != domain.PriorityUrgent {
			t.Fatalf("escalation: got kind %q priority %q", got.Kind, got.Priority)
		}
	case <-time.After(time.Second):
		t.Fatal("manager never received escalation")
	}
}

func TestUpdateIncidentStampsResolution(t *testing.T) {
	a, _ := newTestAgent(t)

	incident := a.DeclareIncident("Cache stampede", "cold start after deploy", Sev2, []string{"web"})
	err := a.UpdateIncident(incident.ID, IncidentUpdate{
		Status:     IncidentResolved,
		RootCause:  "expired warmup job",
		Resolution: "re-enabled warmup job",
	})
	if err != nil {
		t.Fatalf("update incident: %v", err)
	}

	got, err := a.Incident(incident.ID)
	if err != nil {
		t.Fatalf("get incident: %v", err)
	}
	if got.Status != IncidentResolved || got.RootCause == "" || got.ResolvedAt.IsZero() {
		t.Fatalf("incident after update: %+v", got)
	}

	if err := a.UpdateIncident(incident.ID, IncidentUpdate{Status: IncidentClosed}); err != nil {
		t.Fatalf("close incident: %v", err)
	}
	if err := a.UpdateIncident(incident.ID, IncidentUpdate{Status: IncidentOpen}); !errors.Is(err, ErrIncidentClosed) {
		t.Fatalf("update closed incident: got %v, want ErrIncidentClosed", err)
	}
	if err := a.UpdateIncident(uuid.New(), IncidentUpdate{}); !errors.Is(err, ErrIncidentNotFound) {
		t.Fatalf("update unknown incident: got %v, want ErrIncidentNotFound", err)
	}
}

func TestMaintenanceTaskRecorded(t *testing.T) {
	a, _ := newTestAgent(t)
	ctx := context.Background()

	msg := domain.NewMessage(a.rec.ID, a.rec.ID, domain.KindMaintenanceTask, "rotate logs", domain.PriorityLow)
	msg.Payload = domain.EncodePayload(domain.MaintenancePayload{Title: "Rotate application logs", TaskType: string(MaintenanceLogRotation)})
	if err := a.Process(ctx, msg); err != nil {
		t.Fatalf("process maintenance: %v", err)
	}

	unknown := domain.NewMessage(a.rec.ID, a.rec.ID, domain.KindMaintenanceTask, "mystery task", domain.PriorityLow)
	unknown.Payload = domain.EncodePayload(domain.MaintenancePayload{TaskType: "defrag_floppy"})
	if err := a.Process(ctx, unknown); err != nil {
		t.Fatalf("process unknown task type: %v", err)
	}

	tasks := a.MaintenanceLog()
	if len(tasks) != 2 {
		t.Fatalf("maintenance log: got %d entries, want 2", len(tasks))
	}
	if tasks[0].Type != MaintenanceLogRotation || tasks[0].Title != "Rotate application logs" {
		t.Fatalf("first task: %+v", tasks[0])
	}
	if tasks[0].CompletedAt.IsZero() {
		t.Fatal("completion time not stamped")
	}
	// Unrecognized task types fall back to a security patch.
	if tasks[1].Type != MaintenanceSecurityPatch || tasks[1].Title != "System Maintenance" {
		t.Fatalf("second task: %+v", tasks[1])
	}
}

func TestBuildReportCounts(t *testing.T) {
	a, _ := newTestAgent(t)

	open := a.CreateTicket("Slow dashboard", "p95 regressed", TicketNormal, "")
	resolved := a.CreateTicket("Broken export", "csv empty", TicketHigh, "cust-000007")
	_ = open
	if err := a.ResolveTicket(resolved.ID, "fixed encoder"); err != nil {
		t.Fatalf("resolve ticket: %v", err)
	}

	a.DeclareIncident("Payment failures", "gateway 502s", Sev1, []string{"payments"})
	change := a.SubmitChange(ChangeInput{Title: "Add payment retries", Requester: a.rec.ID})
	if err := a.ApproveChange(change.ID, uuid.New()); err != nil {
		t.Fatalf("approve change: %v", err)
	}

	report := a.BuildReport()
	if report.Tickets.Total != 2 || report.Tickets.Open != 1 || report.Tickets.ResolvedToday != 1 {
		t.Fatalf("ticket summary: %+v", report.Tickets)
	}
	if report.Incidents.Total != 1 || report.Incidents.Active != 1 || report.Incidents.Sev1 != 1 {
		t.Fatalf("incident summary: %+v", report.Incidents)
	}
	if len(report.UpcomingChanges) != 1 || report.UpcomingChanges[0] != "Add payment retries" {
		t.Fatalf("upcoming changes: %v", report.UpcomingChanges)
	}
}

func TestDailyRoutineJournals(t *testing.T) {
	a, sink := newTestAgent(t)

	if err := a.RunDailyRoutine(context.Background()); err != nil {
		t.Fatalf("daily routine: %v", err)
	}

	var sawSLA, sawMaintenance, sawReport bool
	for _, ev := range sink.Events() {
		switch ev.Kind {
		case "sla_check", "sla_violation":
			sawSLA = true
		case "maintenance_finished":
			sawMaintenance = true
		case "report_generated":
			sawReport = true
		}
	}
	if !sawSLA || !sawMaintenance || !sawReport {
		t.Fatalf("daily routine journal incomplete: sla=%v maintenance=%v report=%v", sawSLA, sawMaintenance, sawReport)
	}
}
