package ops

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"

	"orgsim/internal/domain"
	"orgsim/internal/journal"
)

const staleTicketAge = 7 * 24 * time.Hour

type TicketPriority string

const (
	TicketLow      TicketPriority = "LOW"
	TicketNormal   TicketPriority = "NORMAL"
	TicketHigh     TicketPriority = "HIGH"
	TicketUrgent   TicketPriority = "URGENT"
	TicketCritical TicketPriority = "CRITICAL"
)

type TicketStatus string

const (
	TicketOpen            TicketStatus = "open"
	TicketInProgress      TicketStatus = "in_progress"
	TicketPendingCustomer TicketStatus = "pending_customer"
	TicketResolved        TicketStatus = "resolved"
	TicketClosed          TicketStatus = "closed"
)

type Ticket struct {
	ID          uuid.UUID      `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Priority    TicketPriority `json:"priority"`
	Status      TicketStatus   `json:"status"`
	CustomerID  string         `json:"customer_id,omitempty"`
	AssignedTo  uuid.UUID      `json:"assigned_to,omitempty"`
	Resolution  string         `json:"resolution,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

type IncidentSeverity string

const (
	Sev1 IncidentSeverity = "SEV1"
	Sev2 IncidentSeverity = "SEV2"
	Sev3 IncidentSeverity = "SEV3"
	Sev4 IncidentSeverity = "SEV4"
)

type IncidentStatus string

const (
	IncidentOpen          IncidentStatus = "open"
	IncidentInvestigating IncidentStatus = "investigating"
	IncidentMitigating    IncidentStatus = "mitigating"
	IncidentResolved      IncidentStatus = "resolved"
	IncidentPostMortem    IncidentStatus = "post_mortem"
	IncidentClosed        IncidentStatus = "closed"
)

type Incident struct {
	ID               uuid.UUID        `json:"id"`
	Title            string           `json:"title"`
	Description      string           `json:"description"`
	Severity         IncidentSeverity `json:"severity"`
	Status           IncidentStatus   `json:"status"`
	AffectedServices []string         `json:"affected_services"`
	RootCause        string           `json:"root_cause,omitempty"`
	Resolution       string           `json:"resolution,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	ResolvedAt       time.Time        `json:"resolved_at,omitempty"`
}

// IncidentUpdate carries the fields of an incident that may change
// after declaration. Zero values leave the current value in place.
type IncidentUpdate struct {
	Status     IncidentStatus
	RootCause  string
	Resolution string
}

func (a *Agent) handleCreateTicket(ctx context.Context, msg domain.Message) error {
	var req domain.TicketPayload
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			a.logEvent(ctx, journal.SeverityWarning, "bad_payload", "ticket payload unreadable: "+err.Error(), nil)
		}
	}
	if req.Title == "" {
		req.Title = "Support Request"
	}
	priority := TicketPriority(req.Priority)
	switch priority {
	case TicketLow, TicketNormal, TicketHigh, TicketUrgent, TicketCritical:
	default:
		priority = TicketNormal
	}

	ticket := a.CreateTicket(req.Title, msg.Content, priority, req.CustomerID)
	a.logEvent(ctx, journal.SeverityInfo, "ticket_created", "ticket opened: "+ticket.Title, map[string]string{
		"ticket":   ticket.ID.String(),
		"priority": string(ticket.Priority),
	})
	return nil
}

// CreateTicket opens a ticket and immediately assigns it to this
// agent, the single-assignee routing policy.
func (a *Agent) CreateTicket(title, description string, priority TicketPriority, customerID string) Ticket {
	now := time.Now().UTC()
	ticket := &Ticket{
		ID:          uuid.New(),
		Title:       title,
		Description: description,
		Priority:    priority,
		Status:      TicketOpen,
		CustomerID:  customerID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	a.mu.Lock()
	a.tickets[ticket.ID] = ticket
	ticket.AssignedTo = a.rec.ID
	ticket.Status = TicketInProgress
	a.mu.Unlock()
	return *ticket
}

func (a *Agent) ResolveTicket(id uuid.UUID, resolution string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	ticket, ok := a.tickets[id]
	if !ok {
		return ErrTicketNotFound
	}
	if ticket.Status == TicketClosed {
		return ErrTicketClosed
	}
	ticket.Status = TicketResolved
	ticket.Resolution = resolution
	ticket.UpdatedAt = time.Now().UTC()
	return nil
}

func (a *Agent) CloseTicket(id uuid.UUID) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	ticket, ok := a.tickets[id]
	if !ok {
		return ErrTicketNotFound
	}
	if ticket.Status == TicketClosed {
		return ErrTicketClosed
	}
	ticket.Status = TicketClosed
	ticket.UpdatedAt = time.Now().UTC()
	return nil
}

func (a *Agent) Ticket(id uuid.UUID) (Ticket, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ticket, ok := a.tickets[id]
	if !ok {
		return Ticket{}, ErrTicketNotFound
	}
	return *ticket, nil
}

func (a *Agent) Tickets() []Ticket {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Ticket, 0, len(a.tickets))
	for _, t := range a.tickets {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

// closeStaleTickets closes resolved tickets whose last update is older
// than staleTicketAge and returns how many were closed.
func (a *Agent) closeStaleTickets() int {
	cutoff := time.Now().UTC().Add(-staleTicketAge)

	a.mu.Lock()
	defer a.mu.Unlock()

	closed := 0
	for _, t := range a.tickets {
		if t.Status == TicketResolved && t.UpdatedAt.Before(cutoff) {
			t.Status = TicketClosed
			t.UpdatedAt = time.Now().UTC()
			closed++
		}
	}
	return closed
}

func (a *Agent) handleDeclareIncident(ctx context.Context, msg domain.Message) error {
	var req domain.OpsIncidentPayload
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			a.logEvent(ctx, journal.SeverityWarning, "bad_payload", "incident payload unreadable: "+err.Error(), nil)
		}
	}
	if req.Title == "" {
		req.Title = "System Incident"
	}
	severity := IncidentSeverity(req.Severity)
	switch severity {
	case Sev1, Sev2, Sev3, Sev4:
	default:
		severity = Sev3
	}

	incident := a.DeclareIncident(req.Title, msg.Content, severity, []string{"unknown"})
	switch severity {
	case Sev1:
		a.logEvent(ctx, journal.SeverityCritical, "incident_declared", "critical incident: "+incident.Title, map[string]string{
			"incident": incident.ID.String(),
		})
		a.escalate(ctx, incident.ID.String(), "sev1 incident: "+incident.Title)
	case Sev2:
		a.logEvent(ctx, journal.SeverityWarning, "incident_declared", "high priority incident: "+incident.Title, map[string]string{
			"incident": incident.ID.String(),
		})
	default:
		a.logEvent(ctx, journal.SeverityInfo, "incident_declared", "incident: "+incident.Title, map[string]string{
			"incident": incident.ID.String(),
		})
	}
	return nil
}

func (a *Agent) DeclareIncident(title, description string, severity IncidentSeverity, services []string) Incident {
	incident := &Incident{
		ID:               uuid.New(),
		Title:            title,
		Description:      description,
		Severity:         severity,
		Status:           IncidentOpen,
		AffectedServices: services,
		CreatedAt:        time.Now().UTC(),
	}

	a.mu.Lock()
	a.incidents[incident.ID] = incident
	a.mu.Unlock()
	return *incident
}

func (a *Agent) UpdateIncident(id uuid.UUID, update IncidentUpdate) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	incident, ok := a.incidents[id]
	if !ok {
		return ErrIncidentNotFound
	}
	if incident.Status == IncidentClosed {
		return ErrIncidentClosed
	}
	if update.Status != "" {
		incident.Status = update.Status
	}
	if update.RootCause != "" {
		incident.RootCause = update.RootCause
	}
	if update.Resolution != "" {
		incident.Resolution = update.Resolution
		incident.ResolvedAt = time.Now().UTC()
	}
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
	out.AffectedServices = append([]string(nil), incident.AffectedServices...)
	return out, nil
}

func (a *Agent) Incidents() []Incident {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Incident, 0, len(a.incidents))
	for _, incident := range a.incidents {
		c := *incident
		c.AffectedServices = append([]string(nil), incident.AffectedServices...)
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
