package networking

import (
	"context"
	"fmt"
	"time"

	"orgsim/internal/journal"
)

const adviceOptimal = "Network performance is optimal"

type BandwidthSample struct {
	InboundBPS  int64 `json:"inbound_bps"`
	OutboundBPS int64 `json:"outbound_bps"`
	TotalBytes  int64 `json:"total_bytes"`
}

type LatencyStats struct {
	AverageMS float64 `json:"average_ms"`
	MinMS     float64 `json:"min_ms"`
	MaxMS     float64 `json:"max_ms"`
	P95MS     float64 `json:"p95_ms"`
}

type PacketLossStats struct {
	Percentage   float64 `json:"percentage"`
	TotalPackets int64   `json:"total_packets"`
	LostPackets  int64   `json:"lost_packets"`
}

type ConnectionStats struct {
	Active int   `json:"active"`
	Total  int64 `json:"total"`
	Peak   int   `json:"peak"`
}

type Metrics struct {
	Bandwidth   map[string]BandwidthSample `json:"bandwidth"`
	Latency     LatencyStats               `json:"latency"`
	PacketLoss  PacketLossStats            `json:"packet_loss"`
	Connections ConnectionStats            `json:"connections"`
	LastUpdate  time.Time                  `json:"last_update"`
}

func defaultMetrics() Metrics {
	return Metrics{
		Bandwidth: make(map[string]BandwidthSample),
		Latency:   LatencyStats{AverageMS: 15, MinMS: 5, MaxMS: 50, P95MS: 25},
		PacketLoss: PacketLossStats{
			Percentage:   0.01,
			TotalPackets: 1000000,
			LostPackets:  100,
		},
		Connections: ConnectionStats{Active: 150, Total: 50000, Peak: 200},
		LastUpdate:  time.Now().UTC(),
	}
}

// MonitorPerformance resamples per-segment bandwidth plus the global
// latency and loss figures.
func (a *Agent) MonitorPerformance() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, id := range a.segOrder {
		seg := a.segments[id]
		a.metrics.Bandwidth[seg.Name] = BandwidthSample{
			InboundBPS:  int64(a.rng.Float64() * 1000000),
			OutboundBPS: int64(a.rng.Float64() * 1000000),
			TotalBytes:  a.rng.Int63n(1000000000),
		}
	}
	a.metrics.Latency = LatencyStats{
		AverageMS: 15 + a.rng.Float64()*10,
		MinMS:     5 + a.rng.Float64()*5,
		MaxMS:     50 + a.rng.Float64()*50,
		P95MS:     25 + a.rng.Float64()*15,
	}
	a.metrics.PacketLoss = PacketLossStats{
		Percentage:   a.rng.Float64() * 0.1,
		TotalPackets: 1000000 + a.rng.Int63n(9000000),
		LostPackets:  a.rng.Int63n(1000),
	}
	a.metrics.LastUpdate = time.Now().UTC()
}

// OptimizePerformance derives tuning advice from the current metrics
// and balancer health. Thresholds are fixed.
func (a *Agent) OptimizePerformance() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	var advice []string
	if a.metrics.Latency.AverageMS > 30 {
		advice = append(advice, "High latency detected - consider CDN optimization")
	}
	if a.metrics.PacketLoss.Percentage > 0.05 {
		advice = append(advice, "Packet loss detected - investigate network issues")
	}
	for _, lb := range a.lbs {
		healthy := 0
		for _, b := range lb.Backends {
			if b.Healthy {
				healthy++
			}
		}
		if healthy < len(lb.Backends)/2 {
			advice = append(advice, fmt.Sprintf("Load balancer %s has low healthy backend count", lb.Name))
		}
	}
	if len(advice) == 0 {
		advice = append(advice, adviceOptimal)
	}
	return advice
}

// Metrics returns a copy of the current performance metrics.
func (a *Agent) Metrics() Metrics {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := a.metrics
	out.Bandwidth = make(map[string]BandwidthSample, len(a.metrics.Bandwidth))
	for k, v := range a.metrics.Bandwidth {
		out.Bandwidth[k] = v
	}
	return out
}

// sweepServiceHealth re-checks every registered service. A small
// fraction of checks comes back degraded.
func (a *Agent) sweepServiceHealth(ctx context.Context) {
	now := time.Now().UTC()

	a.mu.Lock()
	var degraded []string
	for _, name := range a.svcOrder {
		svc := a.services[name]
		if a.rng.Float64() < 0.95 {
			svc.Status = ServiceHealthy
		} else {
			svc.Status = ServiceDegraded
			degraded = append(degraded, name)
		}
		svc.LastHealthCheck = now
	}
	a.mu.Unlock()

	for _, name := range degraded {
		a.logEvent(ctx, journal.SeverityWarning, "service_degraded", "service "+name+" failed its health check", nil)
	}
}

// sweepVPNTunnels re-checks tunnel connectivity.
func (a *Agent) sweepVPNTunnels(ctx context.Context) {
	a.mu.Lock()
	var failed []string
	for _, t := range a.vpns {
		if a.rng.Float64() < 0.98 {
			t.Status = VPNConnected
		} else {
			t.Status = VPNFailed
			failed = append(failed, t.Name)
		}
	}
	a.mu.Unlock()

	for _, name := range failed {
		a.logEvent(ctx, journal.SeverityWarning, "vpn_down", "vpn tunnel "+name+" lost its connection", nil)
	}
}
