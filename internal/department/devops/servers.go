package devops

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"orgsim/internal/journal"
)

type ServerState string

const (
	ServerOnline      ServerState = "online"
	ServerDegraded    ServerState = "degraded"
	ServerCritical    ServerState = "critical"
	ServerOffline     ServerState = "offline"
	ServerMaintenance ServerState = "maintenance"
)

type Server struct {
	ID            string      `json:"id"`
	Hostname      string      `json:"hostname"`
	State         ServerState `json:"state"`
	CPUUsage      float64     `json:"cpu_usage"`
	MemoryUsage   float64     `json:"memory_usage"`
	DiskUsage     float64     `json:"disk_usage"`
	Cores         int         `json:"cores"`
	MemoryGB      int         `json:"memory_gb"`
	DiskGB        int         `json:"disk_gb"`
	UptimeSeconds int64       `json:"uptime_seconds"`
	LastCheck     time.Time   `json:"last_check"`
}

type MonitoringState struct {
	PrometheusUp   bool      `json:"prometheus_up"`
	GrafanaUp      bool      `json:"grafana_up"`
	AlertmanagerUp bool      `json:"alertmanager_up"`
	ActiveAlerts   int       `json:"active_alerts"`
	LastUpdate     time.Time `json:"last_update"`
}

type BackupState struct {
	LastBackup    time.Time `json:"last_backup"`
	LastSuccess   bool      `json:"last_success"`
	RetentionDays int       `json:"retention_days"`
	TotalBackups  int       `json:"total_backups"`
}

func (a *Agent) seedFleet() {
	seeds := []struct {
		hostname             string
		cores, memGB, diskGB int
		cpu, mem, disk       float64
	}{
		{"web-01", 4, 8, 100, 42, 55, 38},
		{"web-02", 4, 8, 100, 35, 48, 41},
		{"db-01", 8, 32, 500, 58, 72, 63},
	}
	for _, s := range seeds {
		srv := a.addServerLocked(s.hostname, s.cores, s.memGB, s.diskGB)
		srv.CPUUsage = s.cpu
		srv.MemoryUsage = s.mem
		srv.DiskUsage = s.disk
	}
}

// addServerLocked requires a.mu held (or exclusive access during
// construction). serverOrder keeps fleet iteration deterministic.
func (a *Agent) addServerLocked(hostname string, cores, memGB, diskGB int) *Server {
	srv := &Server{
		ID:        newID("srv"),
		Hostname:  hostname,
		State:     ServerOnline,
		Cores:     cores,
		MemoryGB:  memGB,
		DiskGB:    diskGB,
		LastCheck: time.Now().UTC(),
	}
	a.servers[srv.ID] = srv
	a.serverOrder = append(a.serverOrder, srv.ID)
	return srv
}

func (a *Agent) ProvisionServer(hostname string, cores, memGB, diskGB int) Server {
	a.mu.Lock()
	defer a.mu.Unlock()
	return *a.addServerLocked(hostname, cores, memGB, diskGB)
}

func (a *Agent) handleHealthCheck(ctx context.Context) error {
	now := time.Now().UTC()

	a.mu.Lock()
	degraded, critical := 0, 0
	for _, id := range a.serverOrder {
		srv := a.servers[id]
		srv.CPUUsage = math.Min(a.rng.Float64()*100, 95)
		srv.MemoryUsage = math.Min(a.rng.Float64()*100, 90)
		srv.DiskUsage = math.Min(a.rng.Float64()*100, 85)
		srv.UptimeSeconds += 300
		srv.LastCheck = now
		srv.State = serverStateFor(srv.CPUUsage, srv.MemoryUsage)
		switch srv.State {
		case ServerDegraded:
			degraded++
		case ServerCritical:
			critical++
		}
	}
	a.monitoring.LastUpdate = now
	a.monitoring.ActiveAlerts = degraded + critical
	total := len(a.serverOrder)
	a.mu.Unlock()

	severity := journal.SeverityInfo
	if critical > 0 {
		severity = journal.SeverityWarning
	}
	a.logEvent(ctx, severity, "health_check", fmt.Sprintf("checked %d servers: %d degraded, %d critical", total, degraded, critical), nil)
	return nil
}

func serverStateFor(cpu, mem float64) ServerState {
	switch {
	case cpu > 90 || mem > 90:
		return ServerCritical
	case cpu > 75 || mem > 75:
		return ServerDegraded
	default:
		return ServerOnline
	}
}

func (a *Agent) handleScaleRequest(ctx context.Context) error {
	actions := a.AutoScale()
	if len(actions) == 0 {
		a.logEvent(ctx, journal.SeverityDebug, "auto_scale", "no servers above scaling threshold", nil)
		return nil
	}
	for _, action := range actions {
		a.logEvent(ctx, journal.SeverityInfo, "auto_scale", action, nil)
	}
	return nil
}

// AutoScale provisions one extra server per overloaded server. The
// fleet is snapshotted first so freshly added servers are not
// rescanned in the same pass.
func (a *Agent) AutoScale() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	existing := make([]string, len(a.serverOrder))
	copy(existing, a.serverOrder)

	var actions []string
	for _, id := range existing {
		srv := a.servers[id]
		if srv.CPUUsage > 80 || srv.MemoryUsage > 80 {
			hostname := fmt.Sprintf("%s-scale-%d", srv.Hostname, time.Now().Unix())
			added := a.addServerLocked(hostname, 4, 8, 100)
			actions = append(actions, "scaled up: added server "+added.Hostname)
		}
	}
	return actions
}

func (a *Agent) handleBackupRequest(ctx context.Context) error {
	a.mu.Lock()
	a.backups.LastBackup = time.Now().UTC()
	a.backups.LastSuccess = true
	a.backups.TotalBackups++
	total := a.backups.TotalBackups
	a.mu.Unlock()

	a.logEvent(ctx, journal.SeverityInfo, "backup_finished", fmt.Sprintf("backup %d completed", total), nil)
	return nil
}

func (a *Agent) Server(id string) (Server, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	srv, ok := a.servers[id]
	if !ok {
		return Server{}, ErrServerNotFound
	}
	return *srv, nil
}

// Servers returns the fleet in provisioning order.
func (a *Agent) Servers() []Server {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Server, 0, len(a.serverOrder))
	for _, id := range a.serverOrder {
		out = append(out, *a.servers[id])
	}
	return out
}

func (a *Agent) Monitoring() MonitoringState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.monitoring
}

func (a *Agent) Backups() BackupState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.backups
}

func newID(prefix string) string {
	return fmt.Sprintf("%s-%x", prefix, uuid.New())
}
