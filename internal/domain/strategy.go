package domain

import (
	"fmt"
	"strings"
)

// Unlabeled is the label assigned to events that fall in no population.
const Unlabeled = "ungated"

type strategyNode struct {
	name     string
	path     string
	gate     Gate
	depth    int
	children []*strategyNode
}

// Strategy is a tree of named gates. Populations are addressed by
// slash-separated paths such as /Live/CD3+/CD4+, and each gate is only
// evaluated on events inside its parent population.
type Strategy struct {
	root   *strategyNode
	byPath map[string]*strategyNode
}

// NewStrategy returns an empty strategy whose root holds all events.
func NewStrategy() *Strategy {
	root := &strategyNode{path: "/"}
	return &Strategy{
		root:   root,
		byPath: map[string]*strategyNode{"/": root},
	}
}

// NormalizePath canonicalizes a population path: a leading slash is added
// and a trailing slash removed, so "Live/CD3+" and "/Live/CD3+/" both
// resolve to "/Live/CD3+". The root is "/".
func NormalizePath(path string) string {
	path = strings.TrimSpace(path)
	path = strings.TrimSuffix(path, "/")
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}

func joinPath(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}

// AddGate attaches a named gate under a parent population. parentPath ""
// or "/" attaches at the root.
func (s *Strategy) AddGate(parentPath, name string, g Gate) error {
	if name == "" {
		return fmt.Errorf("strategy: empty population name")
	}
	if strings.Contains(name, "/") {
		return fmt.Errorf("strategy: population name %q contains '/'", name)
	}
	if g == nil {
		return fmt.Errorf("strategy: nil gate for %q", name)
	}
	parent, ok := s.byPath[NormalizePath(parentPath)]
	if !ok {
		return fmt.Errorf("strategy: unknown parent population %q", parentPath)
	}
	path := joinPath(parent.path, name)
	if _, exists := s.byPath[path]; exists {
		return fmt.Errorf("strategy: population %q already defined", path)
	}
	n := &strategyNode{name: name, path: path, gate: g, depth: parent.depth + 1}
	parent.children = append(parent.children, n)
	s.byPath[path] = n
	return nil
}

// Populations returns every population path in depth-first pre-order,
// excluding the root.
func (s *Strategy) Populations() []string {
	var out []string
	s.walk(func(n *strategyNode) { out = append(out, n.path) })
	return out
}

// Gate returns the gate defining a population.
func (s *Strategy) Gate(path string) (Gate, bool) {
	n, ok := s.byPath[NormalizePath(path)]
	if !ok || n == s.root {
		return nil, false
	}
	return n.gate, true
}

// Parent returns the parent path of a population. The parent of a
// top-level population is "/".
func (s *Strategy) Parent(path string) (string, bool) {
	p := NormalizePath(path)
	if _, ok := s.byPath[p]; !ok || p == "/" {
		return "", false
	}
	i := strings.LastIndex(p, "/")
	if i == 0 {
		return "/", true
	}
	return p[:i], true
}

// Len returns the number of populations, excluding the root.
func (s *Strategy) Len() int { return len(s.byPath) - 1 }

func (s *Strategy) walk(visit func(*strategyNode)) {
	var rec func(*strategyNode)
	rec = func(n *strategyNode) {
		if n != s.root {
			visit(n)
		}
		for _, c := range n.children {
			rec(c)
		}
	}
	rec(s.root)
}

// Labeling holds the result of applying a strategy to a frame: one
// membership mask per population plus a single label per event.
type Labeling struct {
	events int
	order  []string
	masks  map[string][]bool
	counts map[string]int
	labels []string
}

// Apply evaluates every gate against the frame. Each population's mask is a
// subset of its parent's, and each event's label is the deepest population
// containing it, with later siblings winning at equal depth.
func (s *Strategy) Apply(f *Frame) (*Labeling, error) {
	l := &Labeling{
		events: f.Events(),
		masks:  make(map[string][]bool, len(s.byPath)),
		counts: make(map[string]int, len(s.byPath)),
		labels: make([]string, f.Events()),
	}
	for i := range l.labels {
		l.labels[i] = Unlabeled
	}
	depths := make([]int, f.Events())

	var rec func(n *strategyNode, parentMask []bool) error
	rec = func(n *strategyNode, parentMask []bool) error {
		mask := parentMask
		if n != s.root {
			var err error
			mask, err = evalGate(f, n.gate, parentMask)
			if err != nil {
				return fmt.Errorf("strategy: population %q: %w", n.path, err)
			}
			count := 0
			for i, in := range mask {
				if !in {
					continue
				}
				count++
				if n.depth >= depths[i] {
					depths[i] = n.depth
					l.labels[i] = n.path
				}
			}
			l.order = append(l.order, n.path)
			l.masks[n.path] = mask
			l.counts[n.path] = count
		}
		for _, c := range n.children {
			if err := rec(c, mask); err != nil {
				return err
			}
		}
		return nil
	}
	if err := rec(s.root, nil); err != nil {
		return nil, err
	}
	return l, nil
}

// Events returns the total number of events that were labeled.
func (l *Labeling) Events() int { return l.events }

// Populations returns population paths in strategy order.
func (l *Labeling) Populations() []string { return append([]string(nil), l.order...) }

// Mask returns the membership mask of a population.
func (l *Labeling) Mask(path string) ([]bool, bool) {
	m, ok := l.masks[NormalizePath(path)]
	return m, ok
}

// Count returns the number of events in a population.
func (l *Labeling) Count(path string) int { return l.counts[NormalizePath(path)] }

// Frequency returns a population's fraction of all events, in [0, 1].
func (l *Labeling) Frequency(path string) float64 {
	if l.events == 0 {
		return 0
	}
	return float64(l.Count(path)) / float64(l.events)
}

// FrequencyOfParent returns a population's fraction of its parent
// population, in [0, 1]. Top-level populations use all events as parent.
func (l *Labeling) FrequencyOfParent(path string) float64 {
	p := NormalizePath(path)
	i := strings.LastIndex(p, "/")
	parentTotal := l.events
	if i > 0 {
		parentTotal = l.counts[p[:i]]
	}
	if parentTotal == 0 {
		return 0
	}
	return float64(l.Count(p)) / float64(parentTotal)
}

// Labels returns one label per event: the path of the deepest population
// containing it, or Unlabeled.
func (l *Labeling) Labels() []string { return append([]string(nil), l.labels...) }

// LabelNames returns the leaf population name per event rather than the
// full path, which is the form plot legends and summaries use.
func (l *Labeling) LabelNames() []string {
	out := make([]string, len(l.labels))
	for i, p := range l.labels {
		if p == Unlabeled {
			out[i] = p
			continue
		}
		out[i] = p[strings.LastIndex(p, "/")+1:]
	}
	return out
}
