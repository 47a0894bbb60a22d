package ops

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"orgsim/internal/domain"
	"orgsim/internal/journal"
)

var (
	ErrTicketNotFound   = errors.New("ticket not found")
	ErrTicketClosed     = errors.New("ticket already closed")
	ErrIncidentNotFound = errors.New("incident not found")
	ErrIncidentClosed   = errors.New("incident already closed")
	ErrChangeNotFound   = errors.New("change request not found")
	ErrChangeFinalized  = errors.New("change request already finalized")
)

type MessageQueue interface {
	Register(agentID uuid.UUID) chan domain.Message
	Unregister(agentID uuid.UUID)
}

type Messenger interface {
	Send(msg domain.Message) error
}

// Agent runs the Operations department: support tickets, system
// incidents, the change queue, SLA tracking and maintenance.
type Agent struct {
	rec    domain.Agent
	queue  MessageQueue
	bus    Messenger
	sink   journal.Recorder
	logger *log.Logger

	mu          sync.Mutex
	rng         *rand.Rand
	tickets     map[uuid.UUID]*Ticket
	incidents   map[uuid.UUID]*Incident
	changes     []*Change
	maintenance []MaintenanceTask
	sla         SLATracking

	wg sync.WaitGroup
}

func New(name string, managerID uuid.UUID, queue MessageQueue, bus Messenger, sink journal.Recorder, logger *log.Logger) *Agent {
	if logger == nil {
		logger = log.Default()
	}
	return &Agent{
		rec:       domain.NewAgent(name, domain.DepartmentOperations, managerID),
		queue:     queue,
		bus:       bus,
		sink:      sink,
		logger:    logger,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		tickets:   make(map[uuid.UUID]*Ticket),
		incidents: make(map[uuid.UUID]*Incident),
		sla:       defaultSLATracking(),
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
	case domain.KindCreateTicket:
		return a.handleCreateTicket(ctx, msg)
	case domain.KindDeclareIncident:
		return a.handleDeclareIncident(ctx, msg)
	case domain.KindSLACheck:
		return a.handleSLACheck(ctx)
	case domain.KindMaintenanceTask:
		return a.handleMaintenanceTask(ctx, msg)
	case domain.KindGenerateReport:
		return a.handleGenerateReport(ctx)
	default:
		a.logEvent(ctx, journal.SeverityInfo, "unrecognized_kind", "ignoring message kind "+msg.Kind, nil)
		return nil
	}
}

// RunDailyRoutine walks the department checklist: SLA monitoring,
// maintenance, daily report, then stale ticket closure.
func (a *Agent) RunDailyRoutine(ctx context.Context) error {
	routine := []string{
		domain.KindSLACheck,
		domain.KindMaintenanceTask,
		domain.KindGenerateReport,
	}
	for _, kind := range routine {
		msg := domain.NewMessage(a.rec.ID, a.rec.ID, kind, "daily "+kind, domain.PriorityNormal)
		if err := a.Process(ctx, msg); err != nil {
			return err
		}
	}

	closed := a.closeStaleTickets()
	if closed > 0 {
		a.logEvent(ctx, journal.SeverityInfo, "tickets_autoclosed", "auto-closed stale resolved tickets", map[string]string{
			"count": strconv.Itoa(closed),
		})
	}
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
		a.logger.Printf("ops %s: %s", kind, message)
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
