package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Department string

const (
	DepartmentEngineering Department = "Engineering"
	DepartmentSales       Department = "Sales"
	DepartmentMarketing   Department = "Marketing"
	DepartmentHR          Department = "HR"
	DepartmentFinance     Department = "Finance"
	DepartmentLegal       Department = "Legal"
	DepartmentDevOps      Department = "DevOps"
	DepartmentInfoSec     Department = "InfoSec"
	DepartmentNetworking  Department = "Networking"
	DepartmentOperations  Department = "Operations"
)

// Departments returns every department in roster order.
func Departments() []Department {
	return []Department{
		DepartmentEngineering,
		DepartmentSales,
		DepartmentMarketing,
		DepartmentHR,
		DepartmentFinance,
		DepartmentLegal,
		DepartmentDevOps,
		DepartmentInfoSec,
		DepartmentNetworking,
		DepartmentOperations,
	}
}

func (d Department) Valid() bool {
	switch d {
	case DepartmentEngineering, DepartmentSales, DepartmentMarketing,
		DepartmentHR, DepartmentFinance, DepartmentLegal,
		DepartmentDevOps, DepartmentInfoSec, DepartmentNetworking,
		DepartmentOperations:
		return true
	}
	return false
}

type MessagePriority string

const (
	PriorityLow    MessagePriority = "LOW"
	PriorityNormal MessagePriority = "NORMAL"
	PriorityHigh   MessagePriority = "HIGH"
	PriorityUrgent MessagePriority = "URGENT"
)

const (
	KindDeployRequest       = "deploy_request"
	KindHealthCheck         = "health_check"
	KindScaleRequest        = "scale_request"
	KindBackupRequest       = "backup_request"
	KindInfrastructureAlert = "infrastructure_alert"

	KindVulnerabilityScan = "vulnerability_scan"
	KindIncidentReport    = "incident_report"
	KindThreatCheck       = "threat_check"
	KindComplianceAudit   = "compliance_audit"
	KindSecurityUpdate    = "security_update"

	KindConfigureSegment   = "configure_segment"
	KindAddFirewallRule    = "add_firewall_rule"
	KindPerformanceMonitor = "performance_monitor"
	KindRegisterService    = "register_service"

	KindCreateTicket    = "create_ticket"
	KindDeclareIncident = "declare_incident"
	KindSLACheck        = "sla_check"
	KindMaintenanceTask = "maintenance_task"
	KindGenerateReport  = "generate_report"

	KindProjectAssignment    = "project_assignment"
	KindEscalationNotice     = "escalation_notice"
	KindStatusUpdate         = "status_update"
	KindCollaborationRequest = "collaboration_request"
	KindIssueReport          = "issue_report"
	KindResourceRequest      = "resource_request"
)

// Agent is the identity record shared by every department member.
// Department membership never changes after creation.
type Agent struct {
	ID         uuid.UUID  `json:"id"`
	Name       string     `json:"name"`
	Department Department `json:"department"`
	ManagerID  uuid.UUID  `json:"manager_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// NewAgent mints an identity. managerID may be uuid.Nil for agents
// with no reporting line.
func NewAgent(name string, dept Department, managerID uuid.UUID) Agent {
	return Agent{
		ID:         uuid.New(),
		Name:       name,
		Department: dept,
		ManagerID:  managerID,
		CreatedAt:  time.Now().UTC(),
	}
}

// Message is the bus envelope. From may be uuid.Nil when the
// orchestrator itself injects an event. Payload carries the
// kind-specific body; handlers decode it per Kind and fall back to
// defaults when fields are absent.
type Message struct {
	ID        uuid.UUID         `json:"id"`
	From      uuid.UUID         `json:"from"`
	To        uuid.UUID         `json:"to"`
	Kind      string            `json:"kind"`
	Content   string            `json:"content"`
	Priority  MessagePriority   `json:"priority"`
	Payload   json.RawMessage   `json:"payload,omitempty"`
	Meta      map[string]string `json:"meta,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

func NewMessage(from, to uuid.UUID, kind, content string, priority MessagePriority) Message {
	if priority == "" {
		priority = PriorityNormal
	}
	return Message{
		ID:        uuid.New(),
		From:      from,
		To:        to,
		Kind:      kind,
		Content:   content,
		Priority:  priority,
		CreatedAt: time.Now().UTC(),
	}
}

// EncodePayload marshals v for Message.Payload. A value that cannot
// marshal yields an empty object so handlers always see valid JSON.
func EncodePayload(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}

type DeployRequestPayload struct {
	ProjectID   uuid.UUID `json:"project_id"`
	Environment string    `json:"environment,omitempty"`
}

type ProjectAssignmentPayload struct {
	ProjectID   uuid.UUID `json:"project_id"`
	ProjectName string    `json:"project_name"`
}

type TicketPayload struct {
	Title      string `json:"title,omitempty"`
	CustomerID string `json:"customer_id,omitempty"`
	Priority   string `json:"priority,omitempty"`
}

type OpsIncidentPayload struct {
	Title    string `json:"title,omitempty"`
	Severity string `json:"severity,omitempty"`
}

type MaintenancePayload struct {
	Title    string `json:"title,omitempty"`
	TaskType string `json:"task_type,omitempty"`
}

type SecurityIncidentPayload struct {
	Title           string   `json:"title,omitempty"`
	Severity        string   `json:"severity,omitempty"`
	AffectedSystems []string `json:"affected_systems,omitempty"`
}

type ScanRequestPayload struct {
	Target string `json:"target,omitempty"`
}

type SegmentPayload struct {
	Name          string `json:"name,omitempty"`
	CIDR          string `json:"cidr,omitempty"`
	SecurityLevel string `json:"security_level,omitempty"`
}

type FirewallRulePayload struct {
	Name        string `json:"name"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
	PortStart   int    `json:"port_start"`
	PortEnd     int    `json:"port_end"`
	Protocol    string `json:"protocol"`
	Action      string `json:"action"`
}

type ServicePayload struct {
	Name        string `json:"name,omitempty"`
	ServiceType string `json:"service_type,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`
}

type EscalationPayload struct {
	Origin    string `json:"origin"`
	Reference string `json:"reference,omitempty"`
	Note      string `json:"note,omitempty"`
}
