package router

import (
	"fmt"
	"math/rand"
	"sync"

	plexus "github.com/plexushq/plexus/internal"
)

// Selector picks exactly one target from a non-empty filtered candidate list.
// Implementations are pure over the list: the pick is always an element of it.
type Selector interface {
	Name() string
	Select(targets []plexus.Target) (plexus.Target, error)
}

// RandomSelector chooses uniformly. It is seedable so tests are
// deterministic.
type RandomSelector struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomSelector creates a RandomSelector seeded with seed.
func NewRandomSelector(seed int64) *RandomSelector {
	return &RandomSelector{rng: rand.New(rand.NewSource(seed))}
}

// Name returns "random".
func (s *RandomSelector) Name() string { return "random" }

// Select picks one target uniformly at random.
func (s *RandomSelector) Select(targets []plexus.Target) (plexus.Target, error) {
	if len(targets) == 0 {
		return plexus.Target{}, fmt.Errorf("random selector: empty candidate list")
	}
	s.mu.Lock()
	i := s.rng.Intn(len(targets))
	s.mu.Unlock()
	return targets[i], nil
}

// unimplementedSelector is declared for selector kinds the config may name
// but the core does not implement. Invoking one is a configuration error,
// never a silent fallback to random.
type unimplementedSelector struct {
	name string
}

func (s unimplementedSelector) Name() string { return s.name }

func (s unimplementedSelector) Select([]plexus.Target) (plexus.Target, error) {
	return plexus.Target{}, fmt.Errorf("selector %q: %w", s.name, plexus.ErrUnimplementedSelector)
}

// newSelectorRegistry builds the selector table. random is the default kind.
func newSelectorRegistry(seed int64) map[string]Selector {
	random := NewRandomSelector(seed)
	return map[string]Selector{
		"":        random,
		"random":  random,
		"cost":    unimplementedSelector{name: "cost"},
		"latency": unimplementedSelector{name: "latency"},
		"usage":   unimplementedSelector{name: "usage"},
	}
}
