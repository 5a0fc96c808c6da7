package correlate

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// ruleSpec is the YAML shape of one rule. Window is a Go duration
// string ("15m", "1h30m").
type ruleSpec struct {
	Name      string  `yaml:"name"`
	Service   string  `yaml:"service"`
	Type      string  `yaml:"type"`
	Severity  string  `yaml:"severity"`
	Threshold float64 `yaml:"threshold"`
	Window    string  `yaml:"window"`
}

// edgeSpec is one undirected service dependency edge.
type edgeSpec struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

type rulesFile struct {
	Rules    []ruleSpec `yaml:"rules"`
	Topology []edgeSpec `yaml:"topology"`
}

// Loader reads correlation rules and an optional service topology from a
// YAML file and can watch it for changes, swapping the active set
// atomically on reload.
type Loader struct {
	path     string
	mu       sync.RWMutex
	current  []Rule
	topo     *Topology
	onChange []func([]Rule)
}

// NewLoader creates a Loader and performs the initial load.
func NewLoader(path string) (*Loader, error) {
	l := &Loader{path: path}
	rules, topo, err := l.load()
	if err != nil {
		return nil, err
	}
	l.current = rules
	l.topo = topo
	return l, nil
}

// Rules returns the current rule set.
func (l *Loader) Rules() []Rule {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// Topology returns the current service dependency graph, or nil when the
// file declares none.
func (l *Loader) Topology() *Topology {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.topo
}

// OnChange registers a callback invoked whenever the rules reload.
func (l *Loader) OnChange(fn func([]Rule)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// Watch starts a background goroutine that hot-reloads the rules on
// file changes. A file that fails to parse leaves the previous rules in
// place. Call the returned stop function to clean up.
func (l *Loader) Watch() (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("rules watcher: %w", err)
	}
	if err := w.Add(l.path); err != nil {
		w.Close()
		return nil, fmt.Errorf("rules watcher add %s: %w", l.path, err)
	}

	done := make(chan struct{})
	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					_, _ = l.Reload()
				}
			case <-w.Errors:
			case <-done:
				return
			}
		}
	}()

	return func() { close(done) }, nil
}

// Reload forces an immediate re-read of the rules file.
func (l *Loader) Reload() ([]Rule, error) {
	rules, topo, err := l.load()
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.current = rules
	l.topo = topo
	callbacks := make([]func([]Rule), len(l.onChange))
	copy(callbacks, l.onChange)
	l.mu.Unlock()
	for _, fn := range callbacks {
		fn(rules)
	}
	return rules, nil
}

func (l *Loader) load() ([]Rule, *Topology, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, nil, fmt.Errorf("read rules %s: %w", l.path, err)
	}
	return Parse(data)
}

// ParseRules parses and validates the rules section of a YAML document.
func ParseRules(data []byte) ([]Rule, error) {
	rules, _, err := Parse(data)
	return rules, err
}

// Parse parses and validates a YAML rules document, including the
// optional topology section.
func Parse(data []byte) ([]Rule, *Topology, error) {
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, nil, fmt.Errorf("parse rules: %w", err)
	}

	rules := make([]Rule, 0, len(f.Rules))
	for i, spec := range f.Rules {
		window, err := time.ParseDuration(spec.Window)
		if err != nil {
			return nil, nil, fmt.Errorf("rule %d (%s): window: %w", i, spec.Name, err)
		}
		r := Rule{
			Name:      spec.Name,
			Service:   spec.Service,
			Type:      spec.Type,
			Severity:  spec.Severity,
			Threshold: spec.Threshold,
			Window:    window,
		}
		if err := r.Validate(); err != nil {
			return nil, nil, fmt.Errorf("rule %d: %w", i, err)
		}
		rules = append(rules, r)
	}

	var topo *Topology
	for i, e := range f.Topology {
		if e.From == "" || e.To == "" {
			return nil, nil, fmt.Errorf("topology edge %d: from and to are required", i)
		}
		if topo == nil {
			topo = NewTopology()
		}
		topo.AddEdge(e.From, e.To)
	}

	return rules, topo, nil
}
