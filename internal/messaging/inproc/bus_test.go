package inproc

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"

	"orgsim/internal/domain"
)

func TestSendUnknownRecipient(t *testing.T) {
	bus := New(4)

	msg := domain.NewMessage(uuid.New(), uuid.New(), domain.KindStatusUpdate, "ping", domain.PriorityNormal)
	if err := bus.Send(msg); !errors.Is(err, ErrUnknownRecipient) {
		t.Fatalf("send to unregistered id: got %v, want ErrUnknownRecipient", err)
	}
}

func TestSendPreservesPairOrder(t *testing.T) {
	bus := New(16)
	from := uuid.New()
	to := uuid.New()
	ch := bus.Register(to)

	for i := 0; i < 10; i++ {
		msg := domain.NewMessage(from, to, domain.KindStatusUpdate, fmt.Sprintf("msg-%d", i), domain.PriorityNormal)
		if err := bus.Send(msg); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	for i := 0; i < 10; i++ {
		got := <-ch
		want := fmt.Sprintf("msg-%d", i)
		if got.Content != want {
			t.Fatalf("message %d: got content %q, want %q", i, got.Content, want)
		}
	}
}

func TestSendQueueFull(t *testing.T) {
	bus := New(1)
	to := uuid.New()
	bus.Register(to)

	first := domain.NewMessage(uuid.New(), to, domain.KindStatusUpdate, "first", domain.PriorityNormal)
	if err := bus.Send(first); err != nil {
		t.Fatalf("first send: %v", err)
	}
	second := domain.NewMessage(uuid.New(), to, domain.KindStatusUpdate, "second", domain.PriorityNormal)
	if err := bus.Send(second); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("send past buffer: got %v, want ErrQueueFull", err)
	}
}

func TestRegisterIdempotent(t *testing.T) {
	bus := New(4)
	id := uuid.New()

	first := bus.Register(id)
	second := bus.Register(id)
	if first != second {
		t.Fatal("second Register returned a different channel")
	}
}

func TestUnregisterThenSend(t *testing.T) {
	bus := New(4)
	id := uuid.New()
	bus.Register(id)
	bus.Unregister(id)

	msg := domain.NewMessage(uuid.New(), id, domain.KindStatusUpdate, "late", domain.PriorityNormal)
	if err := bus.Send(msg); !errors.Is(err, ErrUnknownRecipient) {
		t.Fatalf("send after unregister: got %v, want ErrUnknownRecipient", err)
	}

	// Repeated unregister of the same id is a no-op.
	bus.Unregister(id)
}

func TestSendStampsEnvelopeDefaults(t *testing.T) {
	bus := New(4)
	to := uuid.New()
	ch := bus.Register(to)

	if err := bus.Send(domain.Message{To: to, Kind: domain.KindStatusUpdate, Content: "bare"}); err != nil {
		t.Fatalf("send bare message: %v", err)
	}
	got := <-ch
	if got.ID == uuid.Nil {
		t.Fatal("delivered message has nil id")
	}
	if got.Priority != domain.PriorityNormal {
		t.Fatalf("delivered priority: got %q, want %q", got.Priority, domain.PriorityNormal)
	}
	if got.CreatedAt.IsZero() {
		t.Fatal("delivered message has zero created_at")
	}
}
