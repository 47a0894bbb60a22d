package journal

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"orgsim/internal/domain"
)

type Severity string

const (
	SeverityDebug    Severity = "DEBUG"
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// Event is one observability record: who did what, in which
// department, at which simulation step.
type Event struct {
	ID         int64             `json:"id"`
	Time       time.Time         `json:"time"`
	Step       int               `json:"step"`
	Department domain.Department `json:"department"`
	ActorID    uuid.UUID         `json:"actor_id"`
	Actor      string            `json:"actor"`
	Severity   Severity          `json:"severity"`
	Kind       string            `json:"kind"`
	Message    string            `json:"message"`
	Detail     map[string]string `json:"detail,omitempty"`
}

// Recorder accepts events from agents and the orchestrator.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

// Memory keeps the most recent events in a bounded ring. It is safe
// for concurrent use and is the recorder of choice in tests.
type Memory struct {
	mu     sync.Mutex
	events []Event
	limit  int
	nextID int64
}

func NewMemory(limit int) *Memory {
	if limit <= 0 {
		limit = 1024
	}
	return &Memory{limit: limit}
}

func (m *Memory) Record(_ context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	ev.ID = m.nextID
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	if ev.Severity == "" {
		ev.Severity = SeverityInfo
	}
	m.events = append(m.events, ev)
	if len(m.events) > m.limit {
		m.events = m.events[len(m.events)-m.limit:]
	}
	return nil
}

// Events returns a snapshot of the retained events, oldest first.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}
