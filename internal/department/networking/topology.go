package networking

import (
	"fmt"
	"net"
	"time"
)

type SecurityLevel string

const (
	SecurityPublic     SecurityLevel = "PUBLIC"
	SecurityDMZ        SecurityLevel = "DMZ"
	SecurityInternal   SecurityLevel = "INTERNAL"
	SecurityRestricted SecurityLevel = "RESTRICTED"
	SecurityCritical   SecurityLevel = "CRITICAL"
)

type Protocol string

const (
	ProtocolTCP  Protocol = "TCP"
	ProtocolUDP  Protocol = "UDP"
	ProtocolICMP Protocol = "ICMP"
	ProtocolAny  Protocol = "ANY"
)

type RuleAction string

const (
	ActionAllow RuleAction = "ALLOW"
	ActionDeny  RuleAction = "DENY"
	ActionLog   RuleAction = "LOG"
)

type Algorithm string

const (
	RoundRobin         Algorithm = "ROUND_ROBIN"
	LeastConnections   Algorithm = "LEAST_CONNECTIONS"
	IPHash             Algorithm = "IP_HASH"
	WeightedRoundRobin Algorithm = "WEIGHTED_ROUND_ROBIN"
)

type BalancerStatus string

const (
	BalancerActive   BalancerStatus = "active"
	BalancerDraining BalancerStatus = "draining"
	BalancerOffline  BalancerStatus = "offline"
)

type RecordType string

const (
	RecordA     RecordType = "A"
	RecordAAAA  RecordType = "AAAA"
	RecordCNAME RecordType = "CNAME"
	RecordMX    RecordType = "MX"
	RecordTXT   RecordType = "TXT"
	RecordSRV   RecordType = "SRV"
)

type VPNType string

const (
	VPNIPSec     VPNType = "IPSEC"
	VPNOpenVPN   VPNType = "OPENVPN"
	VPNWireGuard VPNType = "WIREGUARD"
	VPNSSL       VPNType = "SSLVPN"
)

type VPNStatus string

const (
	VPNConnected    VPNStatus = "connected"
	VPNConnecting   VPNStatus = "connecting"
	VPNDisconnected VPNStatus = "disconnected"
	VPNFailed       VPNStatus = "failed"
)

type ServiceType string

const (
	ServiceWebServer    ServiceType = "WEB_SERVER"
	ServiceDatabase     ServiceType = "DATABASE"
	ServiceCache        ServiceType = "CACHE"
	ServiceMessageQueue ServiceType = "MESSAGE_QUEUE"
	ServiceAPI          ServiceType = "API"
	ServiceMonitoring   ServiceType = "MONITORING"
)

type ServiceStatus string

const (
	ServiceHealthy   ServiceStatus = "healthy"
	ServiceDegraded  ServiceStatus = "degraded"
	ServiceUnhealthy ServiceStatus = "unhealthy"
	ServiceOffline   ServiceStatus = "offline"
)

// Segment is an addressable network zone. Connected holds the ids of
// directly reachable peer segments.
type Segment struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	CIDR          string        `json:"cidr"`
	SecurityLevel SecurityLevel `json:"security_level"`
	Connected     []string      `json:"connected"`
}

// FirewallRule endpoints are stored as segment ids, or "any".
type FirewallRule struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Source      string     `json:"source"`
	Destination string     `json:"destination"`
	PortStart   int        `json:"port_start"`
	PortEnd     int        `json:"port_end"`
	Protocol    Protocol   `json:"protocol"`
	Action      RuleAction `json:"action"`
	Enabled     bool       `json:"enabled"`
}

type Backend struct {
	Address string `json:"address"`
	Weight  int    `json:"weight"`
	Healthy bool   `json:"healthy"`
}

type LoadBalancer struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Algorithm Algorithm      `json:"algorithm"`
	Backends  []Backend      `json:"backends"`
	Status    BalancerStatus `json:"status"`
}

type DNSRecord struct {
	Type    RecordType `json:"type"`
	Value   string     `json:"value"`
	TTL     int        `json:"ttl"`
	Proxied bool       `json:"proxied"`
}

type DNSConfig struct {
	Records     map[string]DNSRecord `json:"records"`
	NameServers []string             `json:"name_servers"`
	DNSSEC      bool                 `json:"dnssec"`
	LastUpdate  time.Time            `json:"last_update"`
}

type VPNTunnel struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Type           VPNType   `json:"type"`
	RemoteEndpoint string    `json:"remote_endpoint"`
	LocalNetworks  []string  `json:"local_networks"`
	RemoteNetworks []string  `json:"remote_networks"`
	Status         VPNStatus `json:"status"`
}

type Service struct {
	Name            string        `json:"name"`
	Type            ServiceType   `json:"type"`
	Endpoint        string        `json:"endpoint"`
	Status          ServiceStatus `json:"status"`
	LastHealthCheck time.Time     `json:"last_health_check"`
}

// seedTopology installs the standing corporate network: a DMZ and an
// internal segment linked to each other, web ingress plus a
// default-deny rule, the public web load balancer, the DNS zone and
// the site-to-site VPN.
func (a *Agent) seedTopology() {
	a.dns = DNSConfig{
		Records:     make(map[string]DNSRecord),
		NameServers: []string{"8.8.8.8", "1.1.1.1"},
		DNSSEC:      true,
		LastUpdate:  time.Now().UTC(),
	}

	dmz := a.addSegmentLocked("dmz", "10.0.1.0/24", SecurityDMZ)
	internal := a.addSegmentLocked("internal", "10.0.2.0/24", SecurityInternal)
	dmz.Connected = append(dmz.Connected, internal.ID)
	internal.Connected = append(internal.Connected, dmz.ID)

	a.rules = append(a.rules,
		FirewallRule{
			ID: newID("fw"), Name: "web-ingress",
			Source: "any", Destination: dmz.ID,
			PortStart: 80, PortEnd: 443,
			Protocol: ProtocolTCP, Action: ActionAllow, Enabled: true,
		},
		FirewallRule{
			ID: newID("fw"), Name: "default-deny",
			Source: "any", Destination: internal.ID,
			PortStart: 1, PortEnd: 65535,
			Protocol: ProtocolAny, Action: ActionDeny, Enabled: true,
		},
	)

	a.lbs = append(a.lbs, &LoadBalancer{
		ID:        newID("lb"),
		Name:      "web-lb",
		Algorithm: RoundRobin,
		Backends: []Backend{
			{Address: "10.0.1.10:8080", Weight: 1, Healthy: true},
			{Address: "10.0.1.11:8080", Weight: 1, Healthy: true},
		},
		Status: BalancerActive,
	})

	a.dns.Records["www"] = DNSRecord{Type: RecordA, Value: "203.0.113.10", TTL: 300}
	a.dns.Records["api"] = DNSRecord{Type: RecordA, Value: "203.0.113.11", TTL: 300}

	a.vpns = append(a.vpns, &VPNTunnel{
		ID:             newID("vpn"),
		Name:           "hq-dc",
		Type:           VPNIPSec,
		RemoteEndpoint: "198.51.100.1",
		LocalNetworks:  []string{"10.0.2.0/24"},
		RemoteNetworks: []string{"192.168.0.0/16"},
		Status:         VPNConnected,
	})
}

func (a *Agent) addSegmentLocked(name, cidr string, level SecurityLevel) *Segment {
	seg := &Segment{
		ID:            newID("seg"),
		Name:          name,
		CIDR:          cidr,
		SecurityLevel: level,
	}
	a.segments[seg.ID] = seg
	a.segOrder = append(a.segOrder, seg.ID)
	return seg
}

// AddSegment validates the CIDR and inserts a new isolated segment.
func (a *Agent) AddSegment(name, cidr string, level SecurityLevel) (Segment, error) {
	if _, _, err := net.ParseCIDR(cidr); err != nil {
		return Segment{}, fmt.Errorf("parse cidr %q: %w", cidr, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	seg := a.addSegmentLocked(name, cidr, level)
	return cloneSegment(seg), nil
}

// ConnectSegments links two existing segments in both directions.
// Either endpoint missing rejects the whole operation.
func (a *Agent) ConnectSegments(from, to string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	src, ok := a.resolveSegmentLocked(from)
	if !ok {
		return fmt.Errorf("connect %q: %w", from, ErrSegmentNotFound)
	}
	dst, ok := a.resolveSegmentLocked(to)
	if !ok {
		return fmt.Errorf("connect %q: %w", to, ErrSegmentNotFound)
	}
	if src.ID == dst.ID {
		return nil
	}
	src.Connected = appendUnique(src.Connected, dst.ID)
	dst.Connected = appendUnique(dst.Connected, src.ID)
	return nil
}

// AddFirewallRule stores a rule after resolving both endpoints. "any"
// matches every segment; anything else must name an existing segment
// and is normalized to its id.
func (a *Agent) AddFirewallRule(rule FirewallRule) (FirewallRule, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	src, err := a.resolveRuleEndpointLocked(rule.Source)
	if err != nil {
		return FirewallRule{}, err
	}
	dst, err := a.resolveRuleEndpointLocked(rule.Destination)
	if err != nil {
		return FirewallRule{}, err
	}

	rule.ID = newID("fw")
	rule.Source = src
	rule.Destination = dst
	rule.Enabled = true
	if rule.PortStart < 0 {
		rule.PortStart = 0
	}
	if rule.PortEnd > 65535 {
		rule.PortEnd = 65535
	}
	if rule.PortEnd < rule.PortStart {
		rule.PortEnd = rule.PortStart
	}
	a.rules = append(a.rules, rule)
	return rule, nil
}

func (a *Agent) resolveRuleEndpointLocked(ref string) (string, error) {
	if ref == "any" {
		return ref, nil
	}
	seg, ok := a.resolveSegmentLocked(ref)
	if !ok {
		return "", fmt.Errorf("rule endpoint %q: %w", ref, ErrSegmentNotFound)
	}
	return seg.ID, nil
}

// resolveSegmentLocked accepts a segment id or name. Names resolve in
// insertion order, first match wins.
func (a *Agent) resolveSegmentLocked(ref string) (*Segment, bool) {
	if seg, ok := a.segments[ref]; ok {
		return seg, true
	}
	for _, id := range a.segOrder {
		if a.segments[id].Name == ref {
			return a.segments[id], true
		}
	}
	return nil, false
}

// AddLoadBalancer provisions an active balancer. At least one backend
// is required so a new balancer never black-holes traffic.
func (a *Agent) AddLoadBalancer(name string, algorithm Algorithm, backends []Backend) (LoadBalancer, error) {
	if len(backends) == 0 {
		return LoadBalancer{}, fmt.Errorf("balancer %q: %w", name, ErrNoBackends)
	}
	if algorithm == "" {
		algorithm = RoundRobin
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	lb := &LoadBalancer{
		ID:        newID("lb"),
		Name:      name,
		Algorithm: algorithm,
		Backends:  append([]Backend(nil), backends...),
		Status:    BalancerActive,
	}
	a.lbs = append(a.lbs, lb)
	return cloneBalancer(lb), nil
}

// SetBackendHealth flips the health flag of one balancer backend.
func (a *Agent) SetBackendHealth(balancer, address string, healthy bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, lb := range a.lbs {
		if lb.ID != balancer && lb.Name != balancer {
			continue
		}
		for i := range lb.Backends {
			if lb.Backends[i].Address == address {
				lb.Backends[i].Healthy = healthy
				return nil
			}
		}
		return fmt.Errorf("balancer %q has no backend %q", balancer, address)
	}
	return fmt.Errorf("balancer %q: %w", balancer, ErrLoadBalancerNotFound)
}

// SetDNSRecord upserts the record for name and stamps the zone update.
func (a *Agent) SetDNSRecord(name string, record DNSRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if record.Type == "" {
		record.Type = RecordA
	}
	if record.TTL <= 0 {
		record.TTL = 300
	}
	a.dns.Records[name] = record
	a.dns.LastUpdate = time.Now().UTC()
}

// AddVPNTunnel registers a tunnel and reports it connected.
func (a *Agent) AddVPNTunnel(name string, vpnType VPNType, remoteEndpoint string) VPNTunnel {
	a.mu.Lock()
	defer a.mu.Unlock()

	t := &VPNTunnel{
		ID:             newID("vpn"),
		Name:           name,
		Type:           vpnType,
		RemoteEndpoint: remoteEndpoint,
		Status:         VPNConnected,
	}
	a.vpns = append(a.vpns, t)
	return cloneTunnel(t)
}

// RegisterService upserts a service entry and marks it healthy.
func (a *Agent) RegisterService(name string, serviceType ServiceType, endpoint string) Service {
	a.mu.Lock()
	defer a.mu.Unlock()

	svc, ok := a.services[name]
	if !ok {
		svc = &Service{Name: name}
		a.services[name] = svc
		a.svcOrder = append(a.svcOrder, name)
	}
	svc.Type = serviceType
	svc.Endpoint = endpoint
	svc.Status = ServiceHealthy
	svc.LastHealthCheck = time.Now().UTC()
	return *svc
}

// Segments returns the topology's segments in creation order.
func (a *Agent) Segments() []Segment {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Segment, 0, len(a.segOrder))
	for _, id := range a.segOrder {
		out = append(out, cloneSegment(a.segments[id]))
	}
	return out
}

// Segment looks up one segment by id or name.
func (a *Agent) Segment(ref string) (Segment, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	seg, ok := a.resolveSegmentLocked(ref)
	if !ok {
		return Segment{}, fmt.Errorf("segment %q: %w", ref, ErrSegmentNotFound)
	}
	return cloneSegment(seg), nil
}

func (a *Agent) FirewallRules() []FirewallRule {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]FirewallRule(nil), a.rules...)
}

func (a *Agent) LoadBalancers() []LoadBalancer {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]LoadBalancer, 0, len(a.lbs))
	for _, lb := range a.lbs {
		out = append(out, cloneBalancer(lb))
	}
	return out
}

func (a *Agent) DNS() DNSConfig {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := a.dns
	out.Records = make(map[string]DNSRecord, len(a.dns.Records))
	for k, v := range a.dns.Records {
		out.Records[k] = v
	}
	out.NameServers = append([]string(nil), a.dns.NameServers...)
	return out
}

func (a *Agent) VPNTunnels() []VPNTunnel {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]VPNTunnel, 0, len(a.vpns))
	for _, t := range a.vpns {
		out = append(out, cloneTunnel(t))
	}
	return out
}

// Services returns registered services in registration order.
func (a *Agent) Services() []Service {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Service, 0, len(a.svcOrder))
	for _, name := range a.svcOrder {
		out = append(out, *a.services[name])
	}
	return out
}

func cloneSegment(seg *Segment) Segment {
	out := *seg
	out.Connected = append([]string(nil), seg.Connected...)
	return out
}

func cloneBalancer(lb *LoadBalancer) LoadBalancer {
	out := *lb
	out.Backends = append([]Backend(nil), lb.Backends...)
	return out
}

func cloneTunnel(t *VPNTunnel) VPNTunnel {
	out := *t
	out.LocalNetworks = append([]string(nil), t.LocalNetworks...)
	out.RemoteNetworks = append([]string(nil), t.RemoteNetworks...)
	return out
}

func appendUnique(list []string, v string) []string {
	for _, have := range list {
		if have == v {
			return list
		}
	}
	return append(list, v)
}
