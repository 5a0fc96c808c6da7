package correlate

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleRules = `
rules:
  - name: cpu-burst
    service: checkout
    type: cpu
    severity: high
    threshold: 80
    window: 10m
  - name: any-disk
    type: disk
    window: 1h
`

func writeRules(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	return path
}

func TestParseRules(t *testing.T) {
	t.Parallel()

	rules, err := ParseRules([]byte(sampleRules))
	if err != nil {
		t.Fatalf("ParseRules: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("rules = %d, want 2", len(rules))
	}
	if rules[0].Name != "cpu-burst" || rules[0].Window != 10*time.Minute || rules[0].Threshold != 80 {
		t.Errorf("rule 0 = %+v, want cpu-burst/10m/80", rules[0])
	}
	if rules[1].Service != "" {
		t.Errorf("rule 1 service = %q, want any", rules[1].Service)
	}
}

func TestParseRules_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		doc  string
	}{
		{"bad yaml", `rules: [`},
		{"bad window", "rules:\n  - name: r\n    window: soon"},
		{"missing window", "rules:\n  - name: r"},
		{"bad severity", "rules:\n  - name: r\n    window: 5m\n    severity: urgent"},
		{"missing name", "rules:\n  - window: 5m"},
	}
	for _, tt := range tests {
		if _, err := ParseRules([]byte(tt.doc)); err == nil {
			t.Errorf("%s: ParseRules() = nil error, want error", tt.name)
		}
	}
}

func TestParse_Topology(t *testing.T) {
	t.Parallel()

	doc := sampleRules + `
topology:
  - from: lb
    to: frontend
  - from: frontend
    to: checkout
`
	rules, topo, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(rules) != 2 {
		t.Errorf("rules = %d, want 2", len(rules))
	}
	if topo == nil {
		t.Fatal("topology = nil, want graph")
	}
	path, err := topo.ShortestPath("lb", "checkout")
	if err != nil {
		t.Fatalf("ShortestPath: %v", err)
	}
	if len(path) != 3 {
		t.Errorf("path = %v, want 3 hops", path)
	}
}

func TestParse_NoTopology(t *testing.T) {
	t.Parallel()

	_, topo, err := Parse([]byte(sampleRules))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if topo != nil {
		t.Errorf("topology = %v, want nil when section absent", topo.Services())
	}
}

func TestParse_BadTopologyEdge(t *testing.T) {
	t.Parallel()

	if _, _, err := Parse([]byte("topology:\n  - from: lb")); err == nil {
		t.Fatal("expected error for edge missing to")
	}
}

func TestLoader_InitialLoad(t *testing.T) {
	t.Parallel()

	l, err := NewLoader(writeRules(t, sampleRules))
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	if got := len(l.Rules()); got != 2 {
		t.Errorf("Rules() = %d rules, want 2", got)
	}
	if l.Topology() != nil {
		t.Error("Topology() != nil for a file without a topology section")
	}
}

func TestLoader_MissingFile(t *testing.T) {
	t.Parallel()

	if _, err := NewLoader(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoader_Reload(t *testing.T) {
	t.Parallel()

	path := writeRules(t, sampleRules)
	l, err := NewLoader(path)
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}

	var notified []Rule
	l.OnChange(func(rules []Rule) { notified = rules })

	if err := os.WriteFile(path, []byte("rules:\n  - name: only\n    window: 5m\n  - name: other\n    window: 5m\n  - name: third\n    window: 5m"), 0o600); err != nil {
		t.Fatalf("rewrite rules: %v", err)
	}

	rules, err := l.Reload()
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if len(rules) != 3 {
		t.Errorf("Reload() = %d rules, want 3", len(rules))
	}
	if len(l.Rules()) != 3 {
		t.Errorf("Rules() after reload = %d, want 3", len(l.Rules()))
	}
	if len(notified) != 3 {
		t.Errorf("OnChange saw %d rules, want 3", len(notified))
	}
}

func TestLoader_ReloadKeepsOldOnError(t *testing.T) {
	t.Parallel()

	path := writeRules(t, sampleRules)
	l, err := NewLoader(path)
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}

	if err := os.WriteFile(path, []byte("rules: ["), 0o600); err != nil {
		t.Fatalf("rewrite rules: %v", err)
	}
	if _, err := l.Reload(); err == nil {
		t.Fatal("Reload of broken file should fail")
	}
	if got := len(l.Rules()); got != 2 {
		t.Errorf("Rules() after failed reload = %d, want previous 2", got)
	}
}

func TestLoader_WatchReloadsOnWrite(t *testing.T) {
	t.Parallel()

	path := writeRules(t, sampleRules)
	l, err := NewLoader(path)
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}

	changed := make(chan int, 4)
	l.OnChange(func(rules []Rule) { changed <- len(rules) })

	stop, err := l.Watch()
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer stop()

	if err := os.WriteFile(path, []byte("rules:\n  - name: only\n    window: 5m"), 0o600); err != nil {
		t.Fatalf("rewrite rules: %v", err)
	}

	select {
	case n := <-changed:
		if n != 1 {
			t.Errorf("reload saw %d rules, want 1", n)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not reload within 5s")
	}
}
