package inproc

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"orgsim/internal/domain"
)

var (
	ErrUnknownRecipient = errors.New("recipient is not registered on bus")
	ErrQueueFull        = errors.New("recipient queue is full")
)

// Bus is an in-process directory of agent inboxes. Delivery is
// at-most-once and non-blocking; messages from one sender to one
// recipient arrive in send order.
type Bus struct {
	mu      sync.RWMutex
	inboxes map[uuid.UUID]chan domain.Message
	buffer  int
}

func New(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{
		inboxes: make(map[uuid.UUID]chan domain.Message),
		buffer:  buffer,
	}
}

// Register creates the inbox for agentID, or returns the existing one.
func (b *Bus) Register(agentID uuid.UUID) chan domain.Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.inboxes[agentID]; ok {
		return ch
	}
	ch := make(chan domain.Message, b.buffer)
	b.inboxes[agentID] = ch
	return ch
}

func (b *Bus) Unregister(agentID uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.inboxes[agentID]
	if !ok {
		return
	}
	delete(b.inboxes, agentID)
	close(ch)
}

// Send delivers msg to the recipient's inbox without blocking. Zero
// envelope fields are stamped before delivery. The read lock is held
// across the channel send so a concurrent Unregister cannot close the
// inbox mid-send.
func (b *Bus) Send(msg domain.Message) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.Priority == "" {
		msg.Priority = domain.PriorityNormal
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	ch, ok := b.inboxes[msg.To]
	if !ok {
		return ErrUnknownRecipient
	}
	select {
	case ch <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}
