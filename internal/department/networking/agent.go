// Package networking runs the Networking department: segmented
// topology, firewall rules, load balancing, DNS, VPN tunnels and
// performance monitoring.
package networking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"orgsim/internal/domain"
	"orgsim/internal/journal"
)

var (
	ErrSegmentNotFound      = errors.New("network segment not found")
	ErrLoadBalancerNotFound = errors.New("load balancer not found")
	ErrNoBackends           = errors.New("load balancer needs at least one backend")
)

type MessageQueue interface {
	Register(agentID uuid.UUID) chan domain.Message
	Unregister(agentID uuid.UUID)
}

// Agent owns the network topology and its performance metrics. Every
// firewall rule and segment connection is checked against the topology
// at insert time, so the stored state never references a segment that
// does not exist.
type Agent struct {
	rec    domain.Agent
	queue  MessageQueue
	sink   journal.Recorder
	logger *log.Logger

	mu       sync.Mutex
	rng      *rand.Rand
	segments map[string]*Segment
	segOrder []string
	rules    []FirewallRule
	lbs      []*LoadBalancer
	dns      DNSConfig
	vpns     []*VPNTunnel
	services map[string]*Service
	svcOrder []string
	metrics  Metrics

	wg sync.WaitGroup
}

func New(name string, managerID uuid.UUID, queue MessageQueue, sink journal.Recorder, logger *log.Logger) *Agent {
	if logger == nil {
		logger = log.Default()
	}
	a := &Agent{
		rec:      domain.NewAgent(name, domain.DepartmentNetworking, managerID),
		queue:    queue,
		sink:     sink,
		logger:   logger,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		segments: make(map[string]*Segment),
		services: make(map[string]*Service),
		metrics:  defaultMetrics(),
	}
	a.seedTopology()
	return a
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

func (a *Agent) Process(ctx context.Context, msg domain.Message) error {
	switch msg.Kind {
	case domain.KindConfigureSegment:
		return a.handleConfigureSegment(ctx, msg)
	case domain.KindAddFirewallRule:
		return a.handleAddFirewallRule(ctx, msg)
	case domain.KindPerformanceMonitor:
		return a.handlePerformanceMonitor(ctx)
	case domain.KindRegisterService:
		return a.handleRegisterService(ctx, msg)
	default:
		a.logEvent(ctx, journal.SeverityInfo, "unrecognized_kind", "ignoring message kind "+msg.Kind, nil)
		return nil
	}
}

// RunDailyRoutine refreshes performance metrics, then sweeps service
// and VPN health.
func (a *Agent) RunDailyRoutine(ctx context.Context) error {
	msg := domain.NewMessage(a.rec.ID, a.rec.ID, domain.KindPerformanceMonitor, "daily performance monitoring", domain.PriorityNormal)
	if err := a.Process(ctx, msg); err != nil {
		return err
	}
	a.sweepServiceHealth(ctx)
	a.sweepVPNTunnels(ctx)
	return nil
}

func (a *Agent) handleConfigureSegment(ctx context.Context, msg domain.Message) error {
	var req domain.SegmentPayload
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			a.logEvent(ctx, journal.SeverityWarning, "bad_payload", "segment payload unreadable: "+err.Error(), nil)
		}
	}
	if req.Name == "" {
		req.Name = "default"
	}
	if req.CIDR == "" {
		req.CIDR = "10.0.0.0/24"
	}
	level := SecurityLevel(req.SecurityLevel)
	switch level {
	case SecurityPublic, SecurityDMZ, SecurityInternal, SecurityRestricted, SecurityCritical:
	default:
		level = SecurityInternal
	}

	seg, err := a.AddSegment(req.Name, req.CIDR, level)
	if err != nil {
		a.logEvent(ctx, journal.SeverityWarning, "segment_rejected", "rejected segment "+req.Name+": "+err.Error(), nil)
		return nil
	}
	a.logEvent(ctx, journal.SeverityInfo, "segment_configured", "configured network segment "+seg.Name, map[string]string{
		"segment_id": seg.ID,
		"cidr":       seg.CIDR,
	})
	return nil
}

func (a *Agent) handleAddFirewallRule(ctx context.Context, msg domain.Message) error {
	var req domain.FirewallRulePayload
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			a.logEvent(ctx, journal.SeverityWarning, "bad_payload", "firewall payload unreadable: "+err.Error(), nil)
		}
	}
	if req.Name == "" {
		req.Name = "default-rule"
	}
	if req.Source == "" {
		req.Source = "any"
	}
	if req.Destination == "" {
		req.Destination = "any"
	}
	if req.PortStart == 0 && req.PortEnd == 0 {
		req.PortStart, req.PortEnd = 80, 443
	}
	protocol := Protocol(req.Protocol)
	switch protocol {
	case ProtocolTCP, ProtocolUDP, ProtocolICMP, ProtocolAny:
	default:
		protocol = ProtocolTCP
	}
	action := RuleAction(req.Action)
	switch action {
	case ActionAllow, ActionDeny, ActionLog:
	default:
		action = ActionAllow
	}

	rule, err := a.AddFirewallRule(FirewallRule{
		Name:        req.Name,
		Source:      req.Source,
		Destination: req.Destination,
		PortStart:   req.PortStart,
		PortEnd:     req.PortEnd,
		Protocol:    protocol,
		Action:      action,
	})
	if err != nil {
		a.logEvent(ctx, journal.SeverityWarning, "firewall_rule_rejected", "rejected firewall rule "+req.Name+": "+err.Error(), nil)
		return nil
	}
	a.logEvent(ctx, journal.SeverityInfo, "firewall_rule_added", "added firewall rule "+rule.Name, map[string]string{
		"rule_id": rule.ID,
		"action":  string(rule.Action),
	})
	return nil
}

func (a *Agent) handlePerformanceMonitor(ctx context.Context) error {
	a.MonitorPerformance()
	advice := a.OptimizePerformance()
	for _, line := range advice {
		severity := journal.SeverityInfo
		if line == adviceOptimal {
			severity = journal.SeverityDebug
		}
		a.logEvent(ctx, severity, "performance_advice", line, nil)
	}
	return nil
}

func (a *Agent) handleRegisterService(ctx context.Context, msg domain.Message) error {
	var req domain.ServicePayload
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			a.logEvent(ctx, journal.SeverityWarning, "bad_payload", "service payload unreadable: "+err.Error(), nil)
		}
	}
	if req.Name == "" {
		req.Name = "unknown"
	}
	if req.Endpoint == "" {
		req.Endpoint = "localhost:8080"
	}
	serviceType := ServiceType(req.ServiceType)
	switch serviceType {
	case ServiceWebServer, ServiceDatabase, ServiceCache, ServiceMessageQueue, ServiceAPI, ServiceMonitoring:
	default:
		serviceType = ServiceWebServer
	}

	svc := a.RegisterService(req.Name, serviceType, req.Endpoint)
	a.logEvent(ctx, journal.SeverityInfo, "service_registered", "registered network service "+svc.Name, map[string]string{
		"endpoint": svc.Endpoint,
		"type":     string(svc.Type),
	})
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
		a.logger.Printf("networking %s: %s", kind, message)
	}
}

func newID(prefix string) string {
	return fmt.Sprintf("%s-%x", prefix, uuid.New())
}
