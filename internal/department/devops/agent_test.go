package devops

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
	a := New("Jordan Smith", uuid.Nil, nil, nil, sink, log.New(io.Discard, "", 0))
	return a, sink
}

// waitForDeployment polls until the deployment reaches status, checking
// the step cursor invariants on every observation.
func waitForDeployment(t *testing.T, a *Agent, id uuid.UUID, status DeploymentStatus) Deployment {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	prev := 0
	for time.Now().Before(deadline) {
		d, err := a.Deployment(id)
		if err != nil {
			t.Fatalf("poll deployment: %v", err)
		}
		if d.CurrentStep < prev {
			t.Fatalf("current step decreased from %d to %d", prev, d.CurrentStep)
		}
		if d.CurrentStep < 0 || d.CurrentStep > len(d.Steps) {
			t.Fatalf("current step %d outside [0,%d]", d.CurrentStep, len(d.Steps))
		}
		prev = d.CurrentStep
		if d.Status == status {
			return d
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("deployment %s never reached %s", id, status)
	return Deployment{}
}

func TestDeploymentRunsToSuccess(t *testing.T) {
	a, _ := newTestAgent(t)
	a.stepFailureRate = 0

	id := a.SubmitDeployment(context.Background(), uuid.New(), "staging")
	d := waitForDeployment(t, a, id, DeploymentSucceeded)
	a.Wait()

	if d.CurrentStep != len(d.Steps) {
		t.Fatalf("final cursor: got %d, want %d", d.CurrentStep, len(d.Steps))
	}
	for i, step := range d.Steps {
		if step.Status != StepSucceeded {
			t.Fatalf("step %d status: got %s, want %s", i, step.Status, StepSucceeded)
		}
	}
	if d.FinishedAt.IsZero() {
		t.Fatal("finished_at not stamped")
	}
}

func TestDeploymentFailureAndRollback(t *testing.T) {
	a, _ := newTestAgent(t)
	a.stepFailureRate = 1

	id := a.SubmitDeployment(context.Background(), uuid.New(), "production")
	d := waitForDeployment(t, a, id, DeploymentFailed)
	a.Wait()

	if d.Steps[0].Status != StepFailed || d.Steps[0].Error != "exit status 1" {
		t.Fatalf("failed step: got %+v", d.Steps[0])
	}

	if err := a.RollbackDeployment(id); err != nil {
		t.Fatalf("rollback failed deployment: %v", err)
	}
	d, err := a.Deployment(id)
	if err != nil {
		t.Fatalf("get deployment: %v", err)
	}
	if d.Status != DeploymentRolledBack {
		t.Fatalf("status after rollback: got %s, want %s", d.Status, DeploymentRolledBack)
	}
	for i := 1; i < len(d.Steps); i++ {
		if d.Steps[i].Status != StepSkipped {
			t.Fatalf("step %d after rollback: got %s, want %s", i, d.Steps[i].Status, StepSkipped)
		}
	}

	// Rolled back is terminal.
	if err := a.RollbackDeployment(id); !errors.Is(err, ErrRollbackNotAllowed) {
		t.Fatalf("second rollback: got %v, want ErrRollbackNotAllowed", err)
	}
}

func TestRollbackGuards(t *testing.T) {
	a, _ := newTestAgent(t)
	a.stepFailureRate = 0

	if err := a.RollbackDeployment(uuid.New()); !errors.Is(err, ErrDeploymentNotFound) {
		t.Fatalf("rollback unknown id: got %v, want ErrDeploymentNotFound", err)
	}

	id := a.SubmitDeployment(context.Background(), uuid.New(), "staging")
	waitForDeployment(t, a, id, DeploymentSucceeded)
	a.Wait()

	if err := a.RollbackDeployment(id); !errors.Is(err, ErrRollbackNotAllowed) {
		t.Fatalf("rollback succeeded deployment: got %v, want ErrRollbackNotAllowed", err)
	}
}

func TestAutoScaleProvisionsOnePerBreach(t *testing.T) {
	a, _ := newTestAgent(t)

	a.mu.Lock()
	a.servers = make(map[string]*Server)
	a.serverOrder = nil
	hot := a.addServerLocked("app-01", 4, 8, 100)
	hot.CPUUsage = 85
	cool := a.addServerLocked("app-02", 4, 8, 100)
	cool.CPUUsage = 40
	a.mu.Unlock()

	actions := a.AutoScale()
	if len(actions) != 1 {
		t.Fatalf("scale actions: got %d (%v), want 1", len(actions), actions)
	}

	servers := a.Servers()
	if len(servers) != 3 {
		t.Fatalf("fleet size after scale: got %d, want 3", len(servers))
	}
	added := servers[2]
	if !strings.Contains(added.Hostname, "app-01-scale-") {
		t.Fatalf("scaled hostname: got %q", added.Hostname)
	}
	if added.Cores != 4 || added.MemoryGB != 8 || added.DiskGB != 100 {
		t.Fatalf("scaled server specs: got %d/%d/%d", added.Cores, added.MemoryGB, added.DiskGB)
	}
}

func TestHealthCheckBoundsAndStates(t *testing.T) {
	a, _ := newTestAgent(t)

	msg := domain.NewMessage(a.rec.ID, a.rec.ID, domain.KindHealthCheck, "check", domain.PriorityNormal)
	if err := a.Process(context.Background(), msg); err != nil {
		t.Fatalf("process health check: %v", err)
	}

	for _, srv := range a.Servers() {
		if srv.CPUUsage > 95 || srv.MemoryUsage > 90 || srv.DiskUsage > 85 {
			t.Fatalf("utilization out of bounds: %+v", srv)
		}
		if srv.UptimeSeconds != 300 {
			t.Fatalf("uptime after one check: got %d, want 300", srv.UptimeSeconds)
		}
		want := serverStateFor(srv.CPUUsage, srv.MemoryUsage)
		if srv.State != want {
			t.Fatalf("server state: got %s, want %s for cpu=%.1f mem=%.1f", srv.State, want, srv.CPUUsage, srv.MemoryUsage)
		}
	}
}

func TestDeployRequestWithoutProjectIsRejected(t *testing.T) {
	a, sink := newTestAgent(t)

	msg := domain.NewMessage(uuid.New(), a.rec.ID, domain.KindDeployRequest, "deploy", domain.PriorityHigh)
	if err := a.Process(context.Background(), msg); err != nil {
		t.Fatalf("process deploy request: %v", err)
	}
	if n := len(a.Deployments()); n != 0 {
		t.Fatalf("deployments after rejected request: got %d, want 0", n)
	}

	var rejected bool
	for _, ev := range sink.Events() {
		if ev.Kind == "deploy_rejected" {
			rejected = true
		}
	}
	if !rejected {
		t.Fatal("rejection not journaled")
	}
}

func TestUnrecognizedKindIsAccepted(t *testing.T) {
	a, sink := newTestAgent(t)

	msg := domain.NewMessage(uuid.New(), a.rec.ID, "interpretive_dance", "hm", domain.PriorityLow)
	if err := a.Process(context.Background(), msg); err != nil {
		t.Fatalf("process unknown kind: %v", err)
	}

	events := sink.Events()
	if len(events) != 1 || events[0].Kind != "unrecognized_kind" {
		t.Fatalf("journal after unknown kind: got %+v", events)
	}
}

func TestInboxLoopHandlesDeployRequest(t *testing.T) {
	bus := inproc.New(16)
	sink := journal.NewMemory(256)
	a := New("Jordan Smith", uuid.Nil, bus, bus, sink, log.New(io.Discard, "", 0))
	a.stepFailureRate = 0

	runCtx, cancel := context.WithCancel(context.Background())
	a.Start(runCtx)

	msg := domain.NewMessage(uuid.New(), a.rec.ID, domain.KindDeployRequest, "deploy api", domain.PriorityHigh)
	msg.Payload = domain.EncodePayload(domain.DeployRequestPayload{ProjectID: uuid.New()})
	if err := bus.Send(msg); err != nil {
		t.Fatalf("send deploy request: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(a.Deployments()) == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	deployments := a.Deployments()
	if len(deployments) != 1 {
		t.Fatalf("deployments after bus request: got %d, want 1", len(deployments))
	}
	if deployments[0].Environment != "staging" {
		t.Fatalf("default environment: got %q, want staging", deployments[0].Environment)
	}

	cancel()
	a.Wait()
}

func TestFailedDeploymentEscalatesToManager(t *testing.T) {
	bus := inproc.New(16)
	manager := uuid.New()
	managerCh := bus.Register(manager)

	sink := journal.NewMemory(256)
	a := New("DevOps Agent 1", manager, bus, bus, sink, log.New(io.Discard, "", 0))
	a.stepFailureRate = 1

	id := a.SubmitDeployment(context.Background(), uuid.New(), "production")
	waitForDeployment(t, a, id, DeploymentFailed)
	a.Wait()

	select {
	case got := <-managerCh:
		if got.Kind != domain.KindEscalationNotice {
			t.Fatalf("escalation kind: got %q", got.Kind)
		}
		if got.Priority != domain.PriorityUrgent {
			t.Fatalf("escalation priority: got %q", got.Priority)
		}
	case <-time.After(time.Second):
		t.Fatal("manager never received escalation")
	}
}
