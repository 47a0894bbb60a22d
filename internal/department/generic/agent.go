// Package generic covers the departments without a dedicated state
// machine. Agents acknowledge traffic in the journal so cross-company
// chatter and assignments stay visible.
package generic

import (
	"context"
	"log"
	"sync"

	"github.com/google/uuid"

	"orgsim/internal/domain"
	"orgsim/internal/journal"
)

type MessageQueue interface {
	Register(agentID uuid.UUID) chan domain.Message
	Unregister(agentID uuid.UUID)
}

type Agent struct {
	rec    domain.Agent
	queue  MessageQueue
	sink   journal.Recorder
	logger *log.Logger

	wg sync.WaitGroup
}

func New(name string, dept domain.Department, managerID uuid.UUID, queue MessageQueue, sink journal.Recorder, logger *log.Logger) *Agent {
	if logger == nil {
		logger = log.Default()
	}
	return &Agent{
		rec:    domain.NewAgent(name, dept, managerID),
		queue:  queue,
		sink:   sink,
		logger: logger,
	}
}

func (a *Agent) Record() domain.Agent { return a.rec }

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

func (a *Agent) Wait() {
	a.wg.Wait()
}

// Process acknowledges every message; no kind gets special treatment.
func (a *Agent) Process(ctx context.Context, msg domain.Message) error {
	detail := map[string]string{"kind": msg.Kind}
	if msg.From != uuid.Nil {
		detail["from"] = msg.From.String()
	}
	a.logEvent(ctx, journal.SeverityInfo, "message_received", "received "+msg.Kind+": "+msg.Content, detail)
	return nil
}

func (a *Agent) RunDailyRoutine(ctx context.Context) error {
	a.logEvent(ctx, journal.SeverityDebug, "daily_routine", "no scheduled work for "+string(a.rec.Department), nil)
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
		a.logger.Printf("%s %s: %s", a.rec.Department, kind, message)
	}
}
