// Package entities extracts structured facts from capture output via the
// pattern registry and assembles them into an in-memory correlation
// graph linking hosts, services, vulnerabilities, credentials, and
// paths. The graph is rebuildable from the Catalog's entities table and
// is never itself persisted.
package entities

import (
	"sort"
	"strconv"
	"strings"
)

// HostInfo is everything known about one discovered host.
type HostInfo struct {
	Identifier      string
	Ports           map[uint16]struct{}
	Services        map[uint16]string
	Vulnerabilities map[string]struct{}
	Credentials     []string
	Paths           map[string]struct{}
	FirstSeen       int64
	LastSeen        int64
}

func newHostInfo(identifier string, timestamp int64) *HostInfo {
	return &HostInfo{
		Identifier:      identifier,
		Ports:           make(map[uint16]struct{}),
		Services:        make(map[uint16]string),
		Vulnerabilities: make(map[string]struct{}),
		Paths:           make(map[string]struct{}),
		FirstSeen:       timestamp,
		LastSeen:        timestamp,
	}
}

func (h *HostInfo) updateTimestamp(timestamp int64) {
	if timestamp > h.LastSeen {
		h.LastSeen = timestamp
	}
}

func (h *HostInfo) addPort(port uint16)             { h.Ports[port] = struct{}{} }
func (h *HostInfo) addService(port uint16, s string) { h.Ports[port] = struct{}{}; h.Services[port] = s }
func (h *HostInfo) addVulnerability(v string)        { h.Vulnerabilities[v] = struct{}{} }
func (h *HostInfo) addCredential(c string)            { h.Credentials = append(h.Credentials, c) }
func (h *HostInfo) addPath(p string)                  { h.Paths[p] = struct{}{} }

// firstPort returns an arbitrary port already recorded for the host, or
// false if none has been recorded yet. This mirrors the first-known-port
// heuristic used to attach a freshly-seen service to a host: it is not
// guaranteed to pick the port the service actually runs on.
func (h *HostInfo) firstPort() (uint16, bool) {
	for p := range h.Ports {
		return p, true
	}
	return 0, false
}

// ServiceInfo is everything known about one named service across hosts.
type ServiceInfo struct {
	Name            string
	Hosts           map[string]struct{}
	Versions        map[string]struct{}
	Vulnerabilities map[string]struct{}
}

func newServiceInfo(name string) *ServiceInfo {
	return &ServiceInfo{
		Name:            name,
		Hosts:           make(map[string]struct{}),
		Versions:        make(map[string]struct{}),
		Vulnerabilities: make(map[string]struct{}),
	}
}

func (s *ServiceInfo) addHost(host string)       { s.Hosts[host] = struct{}{} }
func (s *ServiceInfo) addVersion(version string) { s.Versions[version] = struct{}{} }
func (s *ServiceInfo) addVulnerability(v string)  { s.Vulnerabilities[v] = struct{}{} }

// Entity is a minimal entity record the graph consumes; it matches the
// shape produced by the pattern registry plus the catalog's own rows.
type Entity struct {
	Type    string
	Value   string
	Context string
}

// Graph correlates hosts, services, and vulnerabilities discovered
// across captures in a session.
type Graph struct {
	hosts           map[string]*HostInfo
	services        map[string]*ServiceInfo
	vulnerabilities map[string]map[string]struct{} // cve -> host identifiers
}

// NewGraph creates an empty correlation graph.
func NewGraph() *Graph {
	return &Graph{
		hosts:           make(map[string]*HostInfo),
		services:        make(map[string]*ServiceInfo),
		vulnerabilities: make(map[string]map[string]struct{}),
	}
}

// ProcessEntities folds one capture's extracted entities into the graph.
// Host attachment uses a first-known-port heuristic: a freshly observed
// service is attached to whichever port the host has already recorded,
// which is not necessarily the port the service is actually running on.
func (g *Graph) ProcessEntities(entities []Entity, timestamp int64) {
	var hostEntities, portEntities, serviceEntities, vulnEntities, credEntities, pathEntities []Entity

	for _, e := range entities {
		switch {
		case e.Type == "ip_address" || e.Type == "hostname":
			hostEntities = append(hostEntities, e)
		case e.Type == "port":
			portEntities = append(portEntities, e)
		case e.Type == "service_version":
			serviceEntities = append(serviceEntities, e)
		case e.Type == "cve":
			vulnEntities = append(vulnEntities, e)
		case strings.HasPrefix(e.Type, "credential_"):
			credEntities = append(credEntities, e)
		case e.Type == "file_path_unix" || e.Type == "file_path_windows":
			pathEntities = append(pathEntities, e)
		}
	}

	for _, hostEntity := range hostEntities {
		hostID := hostEntity.Value
		host, ok := g.hosts[hostID]
		if !ok {
			host = newHostInfo(hostID, timestamp)
			g.hosts[hostID] = host
		}
		host.updateTimestamp(timestamp)

		for _, portEntity := range portEntities {
			if port, ok := parsePort(portEntity.Value); ok {
				host.addPort(port)
			}
		}

		for _, serviceEntity := range serviceEntities {
			name, version, ok := parseService(serviceEntity.Value)
			if !ok {
				continue
			}
			if port, ok := host.firstPort(); ok {
				host.addService(port, name)
			}

			svc, ok := g.services[name]
			if !ok {
				svc = newServiceInfo(name)
				g.services[name] = svc
			}
			svc.addHost(hostID)
			svc.addVersion(version)
		}

		for _, vulnEntity := range vulnEntities {
			vulnID := vulnEntity.Value
			host.addVulnerability(vulnID)

			if _, ok := g.vulnerabilities[vulnID]; !ok {
				g.vulnerabilities[vulnID] = make(map[string]struct{})
			}
			g.vulnerabilities[vulnID][hostID] = struct{}{}

			for _, svc := range g.services {
				if _, attached := svc.Hosts[hostID]; attached {
					svc.addVulnerability(vulnID)
				}
			}
		}

		for _, credEntity := range credEntities {
			host.addCredential(credEntity.Value)
		}

		for _, pathEntity := range pathEntities {
			host.addPath(pathEntity.Value)
		}
	}
}

// GetHost returns the known info for a host, or nil if never seen.
func (g *Graph) GetHost(identifier string) *HostInfo {
	return g.hosts[identifier]
}

// GetAllHosts returns every known host, in no particular order.
func (g *Graph) GetAllHosts() []*HostInfo {
	out := make([]*HostInfo, 0, len(g.hosts))
	for _, h := range g.hosts {
		out = append(out, h)
	}
	return out
}

// GetService returns the known info for a service, or nil if never seen.
func (g *Graph) GetService(name string) *ServiceInfo {
	return g.services[name]
}

// GetAllServices returns every known service, in no particular order.
func (g *Graph) GetAllServices() []*ServiceInfo {
	out := make([]*ServiceInfo, 0, len(g.services))
	for _, s := range g.services {
		out = append(out, s)
	}
	return out
}

// GetVulnerableHosts returns hosts known to be affected by cve.
func (g *Graph) GetVulnerableHosts(cve string) []*HostInfo {
	hostIDs, ok := g.vulnerabilities[cve]
	if !ok {
		return nil
	}
	out := make([]*HostInfo, 0, len(hostIDs))
	for id := range hostIDs {
		if h, ok := g.hosts[id]; ok {
			out = append(out, h)
		}
	}
	return out
}

// GetAllVulnerabilities returns every distinct CVE seen, sorted.
func (g *Graph) GetAllVulnerabilities() []string {
	out := make([]string, 0, len(g.vulnerabilities))
	for cve := range g.vulnerabilities {
		out = append(out, cve)
	}
	sort.Strings(out)
	return out
}

// Stats summarizes the graph's current size.
type Stats struct {
	HostCount           int
	ServiceCount        int
	VulnerabilityCount  int
	TotalPorts          int
	TotalCredentials    int
}

// Stats computes aggregate counts over the graph.
func (g *Graph) Stats() Stats {
	var totalPorts, totalCreds int
	for _, h := range g.hosts {
		totalPorts += len(h.Ports)
		totalCreds += len(h.Credentials)
	}
	return Stats{
		HostCount:          len(g.hosts),
		ServiceCount:       len(g.services),
		VulnerabilityCount: len(g.vulnerabilities),
		TotalPorts:         totalPorts,
		TotalCredentials:   totalCreds,
	}
}

func parsePort(value string) (uint16, bool) {
	part := value
	if idx := strings.IndexByte(value, '/'); idx >= 0 {
		part = value[:idx]
	}
	n, err := strconv.ParseUint(part, 10, 16)
	if err != nil {
		return 0, false
	}
	return uint16(n), true
}

func parseService(value string) (name, version string, ok bool) {
	parts := strings.Split(value, "/")
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}
