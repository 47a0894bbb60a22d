package devops

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"orgsim/internal/journal"
)

type DeploymentStatus string

const (
	DeploymentPending    DeploymentStatus = "pending"
	DeploymentInProgress DeploymentStatus = "in_progress"
	DeploymentSucceeded  DeploymentStatus = "succeeded"
	DeploymentFailed     DeploymentStatus = "failed"
	DeploymentRolledBack DeploymentStatus = "rolled_back"
)

type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

type DeploymentStep struct {
	Name           string     `json:"name"`
	Command        string     `json:"command"`
	TimeoutSeconds int        `json:"timeout_seconds"`
	Status         StepStatus `json:"status"`
	Output         string     `json:"output,omitempty"`
	Error          string     `json:"error,omitempty"`
}

// Deployment is a pipeline run. CurrentStep counts completed steps,
// so it stays within [0, len(Steps)] and never decreases.
type Deployment struct {
	ID          uuid.UUID        `json:"id"`
	ProjectID   uuid.UUID        `json:"project_id"`
	Environment string           `json:"environment"`
	Status      DeploymentStatus `json:"status"`
	Steps       []DeploymentStep `json:"steps"`
	CurrentStep int              `json:"current_step"`
	CreatedAt   time.Time        `json:"created_at"`
	StartedAt   time.Time        `json:"started_at,omitempty"`
	FinishedAt  time.Time        `json:"finished_at,omitempty"`
}

func (d *Deployment) clone() Deployment {
	out := *d
	out.Steps = make([]DeploymentStep, len(d.Steps))
	copy(out.Steps, d.Steps)
	return out
}

func defaultPipeline() []DeploymentStep {
	return []DeploymentStep{
		{Name: "Build", Command: "make build", TimeoutSeconds: 300, Status: StepPending},
		{Name: "Test", Command: "make test", TimeoutSeconds: 600, Status: StepPending},
		{Name: "Deploy", Command: "./scripts/deploy.sh", TimeoutSeconds: 300, Status: StepPending},
	}
}

// SubmitDeployment records a pending deployment and hands execution to
// a detached goroutine. The caller learns the outcome by polling
// Deployment with the returned id.
func (a *Agent) SubmitDeployment(ctx context.Context, projectID uuid.UUID, environment string) uuid.UUID {
	d := &Deployment{
		ID:          uuid.New(),
		ProjectID:   projectID,
		Environment: environment,
		Status:      DeploymentPending,
		Steps:       defaultPipeline(),
		CreatedAt:   time.Now().UTC(),
	}

	a.mu.Lock()
	a.deployments[d.ID] = d
	a.mu.Unlock()

	a.wg.Add(1)
	go a.executeDeployment(ctx, d.ID)
	return d.ID
}

func (a *Agent) executeDeployment(ctx context.Context, id uuid.UUID) {
	defer a.wg.Done()

	a.updateDeployment(id, func(d *Deployment) {
		d.Status = DeploymentInProgress
		d.StartedAt = time.Now().UTC()
	})

	a.mu.Lock()
	total := 0
	if d, ok := a.deployments[id]; ok {
		total = len(d.Steps)
	}
	a.mu.Unlock()

	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			a.failDeployment(ctx, id, i, err.Error())
			return
		}
		a.updateDeployment(id, func(d *Deployment) {
			d.Steps[i].Status = StepRunning
		})
		if a.rollStepFailure() {
			a.failDeployment(ctx, id, i, "exit status 1")
			return
		}
		a.updateDeployment(id, func(d *Deployment) {
			d.Steps[i].Status = StepSucceeded
			d.Steps[i].Output = "ok"
			d.CurrentStep = i + 1
		})
	}

	a.updateDeployment(id, func(d *Deployment) {
		d.Status = DeploymentSucceeded
		d.FinishedAt = time.Now().UTC()
	})
	a.logEvent(ctx, journal.SeverityInfo, "deploy_finished", "deployment "+shortID(id)+" succeeded", map[string]string{
		"deployment": id.String(),
	})
}

func (a *Agent) failDeployment(ctx context.Context, id uuid.UUID, step int, reason string) {
	var name string
	a.updateDeployment(id, func(d *Deployment) {
		name = d.Steps[step].Name
		d.Steps[step].Status = StepFailed
		d.Steps[step].Error = reason
		d.Status = DeploymentFailed
		d.FinishedAt = time.Now().UTC()
	})
	a.logEvent(ctx, journal.SeverityError, "deploy_failed", "deployment "+shortID(id)+" failed at step "+name, map[string]string{
		"deployment": id.String(),
		"reason":     reason,
	})
	a.escalate(ctx, id.String(), "deployment "+shortID(id)+" failed")
}

// updateDeployment is the only write path into a stored deployment,
// shared by the executor and rollback.
func (a *Agent) updateDeployment(id uuid.UUID, fn func(*Deployment)) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	d, ok := a.deployments[id]
	if !ok {
		return false
	}
	fn(d)
	return true
}

// RollbackDeployment reverts a failed deployment. Steps that never ran
// become skipped.
func (a *Agent) RollbackDeployment(id uuid.UUID) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	d, ok := a.deployments[id]
	if !ok {
		return ErrDeploymentNotFound
	}
	if d.Status != DeploymentFailed {
		return ErrRollbackNotAllowed
	}
	d.Status = DeploymentRolledBack
	for i := range d.Steps {
		if d.Steps[i].Status == StepPending {
			d.Steps[i].Status = StepSkipped
		}
	}
	d.FinishedAt = time.Now().UTC()
	return nil
}

func (a *Agent) Deployment(id uuid.UUID) (Deployment, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	d, ok := a.deployments[id]
	if !ok {
		return Deployment{}, ErrDeploymentNotFound
	}
	return d.clone(), nil
}

func (a *Agent) Deployments() []Deployment {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Deployment, 0, len(a.deployments))
	for _, d := range a.deployments {
		out = append(out, d.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

// rollStepFailure takes the lock because the generator is not safe for
// concurrent executors.
func (a *Agent) rollStepFailure() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rng.Float64() < a.stepFailureRate
}
