package correlate

import (
	"fmt"
	"slices"

	"github.com/linnemanlabs/quell/internal/alert"
)

// Topology is an undirected service dependency graph used for path
// analysis: when two services misbehave, the alerts raised along the
// path between them hint at how a fault propagated.
type Topology struct {
	adj map[string][]string
}

// NewTopology creates an empty topology.
func NewTopology() *Topology {
	return &Topology{adj: make(map[string][]string)}
}

// AddEdge connects two services, creating the nodes as needed. Adding
// an existing edge or a self-edge is a no-op.
func (t *Topology) AddEdge(a, b string) {
	if a == b {
		return
	}
	t.addNode(a)
	t.addNode(b)
	if !slices.Contains(t.adj[a], b) {
		t.adj[a] = append(t.adj[a], b)
		t.adj[b] = append(t.adj[b], a)
	}
}

// AddNode registers a service with no edges.
func (t *Topology) AddNode(s string) { t.addNode(s) }

func (t *Topology) addNode(s string) {
	if _, ok := t.adj[s]; !ok {
		t.adj[s] = nil
	}
}

// Services returns all registered services, sorted.
func (t *Topology) Services() []string {
	return sortedKeys(t.adj)
}

// Neighbors returns the services directly connected to s.
func (t *Topology) Neighbors(s string) []string {
	n := slices.Clone(t.adj[s])
	slices.Sort(n)
	return n
}

// ShortestPath finds a minimum-hop path from source to target via
// breadth-first search. Neighbor order is fixed, so the returned path is
// deterministic. Unknown services or unreachable targets are errors.
func (t *Topology) ShortestPath(source, target string) ([]string, error) {
	if _, ok := t.adj[source]; !ok {
		return nil, fmt.Errorf("topology: unknown service %q", source)
	}
	if _, ok := t.adj[target]; !ok {
		return nil, fmt.Errorf("topology: unknown service %q", target)
	}
	if source == target {
		return []string{source}, nil
	}

	prev := map[string]string{source: ""}
	queue := []string{source}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, n := range t.adj[cur] {
			if _, seen := prev[n]; seen {
				continue
			}
			prev[n] = cur
			if n == target {
				return buildPath(prev, source, target), nil
			}
			queue = append(queue, n)
		}
	}
	return nil, fmt.Errorf("topology: no path from %q to %q", source, target)
}

func buildPath(prev map[string]string, source, target string) []string {
	var path []string
	for cur := target; cur != ""; cur = prev[cur] {
		path = append(path, cur)
	}
	slices.Reverse(path)
	return path
}

// PathReport lists a path between two services and the alerts raised on
// services along it, in timestamp order.
type PathReport struct {
	Path   []string      `json:"path"`
	Alerts []alert.Alert `json:"alerts"`
}

// AlertsOnPath computes the shortest path between two services and
// collects the alerts that fired on any service along it.
func (t *Topology) AlertsOnPath(source, target string, alerts []alert.Alert) (*PathReport, error) {
	path, err := t.ShortestPath(source, target)
	if err != nil {
		return nil, err
	}

	onPath := make(map[string]bool, len(path))
	for _, s := range path {
		onPath[s] = true
	}

	report := &PathReport{Path: path}
	for i := range alerts {
		if onPath[alerts[i].Service] {
			report.Alerts = append(report.Alerts, alerts[i])
		}
	}
	slices.SortStableFunc(report.Alerts, func(a, b alert.Alert) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	return report, nil
}
