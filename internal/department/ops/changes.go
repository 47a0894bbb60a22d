package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"orgsim/internal/domain"
	"orgsim/internal/journal"
)

type ChangeType string

const (
	ChangeStandard  ChangeType = "standard"
	ChangeNormal    ChangeType = "normal"
	ChangeEmergency ChangeType = "emergency"
	ChangeMajor     ChangeType = "major"
)

type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

type ChangeStatus string

const (
	ChangeDraft           ChangeStatus = "draft"
	ChangePendingApproval ChangeStatus = "pending_approval"
	ChangeApproved        ChangeStatus = "approved"
	ChangeScheduled       ChangeStatus = "scheduled"
	ChangeInProgress      ChangeStatus = "in_progress"
	ChangeCompleted       ChangeStatus = "completed"
	ChangeFailed          ChangeStatus = "failed"
	ChangeCancelled       ChangeStatus = "cancelled"
)

type Change struct {
	ID           uuid.UUID    `json:"id"`
	Title        string       `json:"title"`
	Description  string       `json:"description"`
	Type         ChangeType   `json:"type"`
	Risk         RiskLevel    `json:"risk"`
	Impact       string       `json:"impact"`
	RollbackPlan string       `json:"rollback_plan"`
	ScheduledFor time.Time    `json:"scheduled_for"`
	Status       ChangeStatus `json:"status"`
	Requester    uuid.UUID    `json:"requester"`
	Approver     uuid.UUID    `json:"approver,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

type ChangeInput struct {
	Title        string
	Description  string
	Type         ChangeType
	Risk         RiskLevel
	Impact       string
	RollbackPlan string
	ScheduledFor time.Time
	Requester    uuid.UUID
}

// SubmitChange queues a change request awaiting approval.
func (a *Agent) SubmitChange(input ChangeInput) Change {
	if input.Type == "" {
		input.Type = ChangeNormal
	}
	if input.Risk == "" {
		input.Risk = RiskMedium
	}
	change := &Change{
		ID:           uuid.New(),
		Title:        input.Title,
		Description:  input.Description,
		Type:         input.Type,
		Risk:         input.Risk,
		Impact:       input.Impact,
		RollbackPlan: input.RollbackPlan,
		ScheduledFor: input.ScheduledFor,
		Status:       ChangePendingApproval,
		Requester:    input.Requester,
		CreatedAt:    time.Now().UTC(),
	}

	a.mu.Lock()
	a.changes = append(a.changes, change)
	a.mu.Unlock()
	return *change
}

// ApproveChange is the only transition gated on an external actor.
func (a *Agent) ApproveChange(id, approver uuid.UUID) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	change := a.findChangeLocked(id)
	if change == nil {
		return ErrChangeNotFound
	}
	if changeFinalized(change.Status) {
		return ErrChangeFinalized
	}
	change.Status = ChangeApproved
	change.Approver = approver
	return nil
}

func (a *Agent) CancelChange(id uuid.UUID) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	change := a.findChangeLocked(id)
	if change == nil {
		return ErrChangeNotFound
	}
	if changeFinalized(change.Status) {
		return ErrChangeFinalized
	}
	change.Status = ChangeCancelled
	return nil
}

func (a *Agent) Change(id uuid.UUID) (Change, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	change := a.findChangeLocked(id)
	if change == nil {
		return Change{}, ErrChangeNotFound
	}
	return *change, nil
}

// Changes returns the queue in submission order.
func (a *Agent) Changes() []Change {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Change, 0, len(a.changes))
	for _, c := range a.changes {
		out = append(out, *c)
	}
	return out
}

func (a *Agent) findChangeLocked(id uuid.UUID) *Change {
	for _, c := range a.changes {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func changeFinalized(status ChangeStatus) bool {
	switch status {
	case ChangeCompleted, ChangeFailed, ChangeCancelled:
		return true
	}
	return false
}

type SLA struct {
	Service         string  `json:"service"`
	UptimeTarget    float64 `json:"uptime_target"`
	ResponseTimeMS  int     `json:"response_time_ms"`
	ResolutionHours int     `json:"resolution_hours"`
	Period          string  `json:"period"`
}

type SLAViolation struct {
	Service string    `json:"service"`
	Kind    string    `json:"kind"`
	Impact  string    `json:"impact"`
	Time    time.Time `json:"time"`
}

type SLATracking struct {
	SLAs       map[string]SLA     `json:"slas"`
	Compliance map[string]float64 `json:"compliance"`
	Violations []SLAViolation     `json:"violations"`
}

func defaultSLATracking() SLATracking {
	return SLATracking{
		SLAs: map[string]SLA{
			"web-service": {
				Service:         "web-service",
				UptimeTarget:    99.9,
				ResponseTimeMS:  500,
				ResolutionHours: 4,
				Period:          "monthly",
			},
		},
		Compliance: make(map[string]float64),
	}
}

func (a *Agent) handleSLACheck(ctx context.Context) error {
	violations := a.MonitorSLA()
	if len(violations) == 0 {
		a.logEvent(ctx, journal.SeverityDebug, "sla_check", "all services within sla targets", nil)
		return nil
	}
	for _, v := range violations {
		a.logEvent(ctx, journal.SeverityWarning, "sla_violation", v.Impact, map[string]string{
			"service": v.Service,
		})
	}
	return nil
}

// MonitorSLA samples compliance for every tracked service and appends
// a violation record for each service under its uptime target.
func (a *Agent) MonitorSLA() []SLAViolation {
	a.mu.Lock()
	defer a.mu.Unlock()

	services := make([]string, 0, len(a.sla.SLAs))
	for name := range a.sla.SLAs {
		services = append(services, name)
	}
	sort.Strings(services)

	var found []SLAViolation
	for _, name := range services {
		sla := a.sla.SLAs[name]
		compliance := 99.0 + a.rng.Float64()*2.0
		a.sla.Compliance[name] = compliance

		if compliance < sla.UptimeTarget {
			v := SLAViolation{
				Service: name,
				Kind:    "uptime_target",
				Impact:  fmt.Sprintf("Uptime %.2f%% below target %.2f%%", compliance, sla.UptimeTarget),
				Time:    time.Now().UTC(),
			}
			a.sla.Violations = append(a.sla.Violations, v)
			found = append(found, v)
		}
	}
	return found
}

// TrackSLA adds or replaces the SLA for a service.
func (a *Agent) TrackSLA(sla SLA) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sla.SLAs[sla.Service] = sla
}

func (a *Agent) SLAStatus() SLATracking {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := SLATracking{
		SLAs:       make(map[string]SLA, len(a.sla.SLAs)),
		Compliance: make(map[string]float64, len(a.sla.Compliance)),
		Violations: append([]SLAViolation(nil), a.sla.Violations...),
	}
	for k, v := range a.sla.SLAs {
		out.SLAs[k] = v
	}
	for k, v := range a.sla.Compliance {
		out.Compliance[k] = v
	}
	return out
}

type MaintenanceType string

const (
	MaintenanceSecurityPatch        MaintenanceType = "security_patch"
	MaintenanceDatabaseOptimization MaintenanceType = "database_optimization"
	MaintenanceBackupVerification   MaintenanceType = "backup_verification"
	MaintenanceLogRotation          MaintenanceType = "log_rotation"
	MaintenanceSystemUpdate         MaintenanceType = "system_update"
)

type MaintenanceTask struct {
	ID          uuid.UUID       `json:"id"`
	Title       string          `json:"title"`
	Type        MaintenanceType `json:"type"`
	CompletedAt time.Time       `json:"completed_at"`
}

func (a *Agent) handleMaintenanceTask(ctx context.Context, msg domain.Message) error {
	var req domain.MaintenancePayload
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			a.logEvent(ctx, journal.SeverityWarning, "bad_payload", "maintenance payload unreadable: "+err.Error(), nil)
		}
	}
	if req.Title == "" {
		req.Title = "System Maintenance"
	}
	taskType := MaintenanceType(req.TaskType)
	switch taskType {
	case MaintenanceSecurityPatch, MaintenanceDatabaseOptimization, MaintenanceBackupVerification, MaintenanceLogRotation, MaintenanceSystemUpdate:
	default:
		taskType = MaintenanceSecurityPatch
	}

	task := MaintenanceTask{
		ID:          uuid.New(),
		Title:       req.Title,
		Type:        taskType,
		CompletedAt: time.Now().UTC(),
	}
	a.mu.Lock()
	a.maintenance = append(a.maintenance, task)
	a.mu.Unlock()

	a.logEvent(ctx, journal.SeverityInfo, "maintenance_finished", "completed maintenance: "+req.Title, map[string]string{
		"task_type": string(taskType),
	})
	return nil
}

// MaintenanceLog returns completed maintenance tasks, oldest first.
func (a *Agent) MaintenanceLog() []MaintenanceTask {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]MaintenanceTask(nil), a.maintenance...)
}

type TicketSummary struct {
	Total              int     `json:"total"`
	Open               int     `json:"open"`
	ResolvedToday      int     `json:"resolved_today"`
	AvgResolutionHours float64 `json:"avg_resolution_hours"`
}

type IncidentSummary struct {
	Total     int     `json:"total"`
	Active    int     `json:"active"`
	Sev1      int     `json:"sev1"`
	MTTRHours float64 `json:"mttr_hours"`
}

type Report struct {
	GeneratedAt     time.Time          `json:"generated_at"`
	Tickets         TicketSummary      `json:"tickets"`
	Incidents       IncidentSummary    `json:"incidents"`
	SLACompliance   map[string]float64 `json:"sla_compliance"`
	UpcomingChanges []string           `json:"upcoming_changes"`
}

func (a *Agent) handleGenerateReport(ctx context.Context) error {
	report := a.BuildReport()
	a.logEvent(ctx, journal.SeverityInfo, "report_generated", fmt.Sprintf("%d tickets, %d incidents, %d upcoming changes", report.Tickets.Total, report.Incidents.Total, len(report.UpcomingChanges)), nil)
	return nil
}

// BuildReport summarizes the department's current workload.
func (a *Agent) BuildReport() Report {
	now := time.Now().UTC()
	dayAgo := now.Add(-24 * time.Hour)

	a.mu.Lock()
	defer a.mu.Unlock()

	tickets := TicketSummary{
		Total:              len(a.tickets),
		AvgResolutionHours: 4.2,
	}
	for _, t := range a.tickets {
		switch t.Status {
		case TicketOpen, TicketInProgress, TicketPendingCustomer:
			tickets.Open++
		case TicketResolved:
			if t.UpdatedAt.After(dayAgo) {
				tickets.ResolvedToday++
			}
		}
	}

	incidents := IncidentSummary{
		Total:     len(a.incidents),
		MTTRHours: 2.5,
	}
	for _, incident := range a.incidents {
		if incident.Status != IncidentClosed {
			incidents.Active++
		}
		if incident.Severity == Sev1 {
			incidents.Sev1++
		}
	}

	compliance := make(map[string]float64, len(a.sla.Compliance))
	for k, v := range a.sla.Compliance {
		compliance[k] = v
	}

	var upcoming []string
	for _, c := range a.changes {
		if c.Status == ChangeApproved || c.Status == ChangeScheduled {
			upcoming = append(upcoming, c.Title)
		}
	}

	return Report{
		GeneratedAt:     now,
		Tickets:         tickets,
		Incidents:       incidents,
		SLACompliance:   compliance,
		UpcomingChanges: upcoming,
	}
}
