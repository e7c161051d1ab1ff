package quiz

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
)

// ExhaustPolicy decides what PickNext does once every question has been shown.
type ExhaustPolicy int

const (
	// ExhaustReset clears all shown flags and picks from the full pool again.
	ExhaustReset ExhaustPolicy = iota
	// ExhaustStop makes PickNext fail with ErrPoolExhausted.
	ExhaustStop
)

func (p ExhaustPolicy) String() string {
	switch p {
	case ExhaustReset:
		return "reset"
	case ExhaustStop:
		return "stop"
	default:
		return fmt.Sprintf("ExhaustPolicy(%d)", int(p))
	}
}

// ParseExhaustPolicy accepts "reset" (also the empty string) and "stop".
func ParseExhaustPolicy(s string) (ExhaustPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "reset":
		return ExhaustReset, nil
	case "stop":
		return ExhaustStop, nil
	default:
		return 0, fmt.Errorf("unknown exhaust policy %q (use reset or stop)", s)
	}
}

type PoolOption func(*Pool)

func WithPolicy(p ExhaustPolicy) PoolOption {
	return func(pl *Pool) { pl.policy = p }
}

// WithRand sets the random source. Tests use a seeded source for repeatable order.
func WithRand(r *rand.Rand) PoolOption {
	return func(pl *Pool) {
		if r != nil {
			pl.rnd = r
		}
	}
}

// Pool is a fixed set of questions with a shown flag per question.
//
// Contents never change after NewPool; the shown flags change only through
// PickNext and Reset. All methods are safe for concurrent use.
type Pool struct {
	policy ExhaustPolicy

	mu      sync.Mutex
	items   []Question
	shown   []bool
	unshown []int // indexes into items with shown == false, unordered
	rnd     *rand.Rand
	cycle   int
}

// PoolStats is a point-in-time view of the pool for status output.
type PoolStats struct {
	Total     int
	Remaining int
	Cycle     int
	Policy    ExhaustPolicy
}

// NewPool validates the questions and builds a pool with every question unshown.
// Duplicate IDs are rejected.
func NewPool(questions []Question, opts ...PoolOption) (*Pool, error) {
	p := &Pool{
		items: make([]Question, 0, len(questions)),
		rnd:   rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, o := range opts {
		o(p)
	}

	seen := make(map[string]struct{}, len(questions))
	for _, q := range questions {
		nq, err := q.normalize()
		if err != nil {
			return nil, err
		}
		if _, dup := seen[nq.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %s", ErrInvalidRecord, nq.ID)
		}
		seen[nq.ID] = struct{}{}
		p.items = append(p.items, nq)
	}
	p.shown = make([]bool, len(p.items))
	p.resetLocked()
	return p, nil
}

// PickNext returns a uniformly random unshown question and marks it shown.
//
// When nothing is left, ExhaustStop returns ErrPoolExhausted and ExhaustReset
// starts a new cycle and picks from it. An empty pool is always exhausted.
func (p *Pool) PickNext() (Question, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.items) == 0 {
		return Question{}, ErrPoolExhausted
	}
	if len(p.unshown) == 0 {
		if p.policy != ExhaustReset {
			return Question{}, ErrPoolExhausted
		}
		p.resetLocked()
		p.cycle++
	}

	k := p.rnd.IntN(len(p.unshown))
	idx := p.unshown[k]
	last := len(p.unshown) - 1
	p.unshown[k] = p.unshown[last]
	p.unshown = p.unshown[:last]
	p.shown[idx] = true

	return p.items[idx].clone(), nil
}

// Rewind starts a new round when every question has been shown, and reports
// whether it did. Under ExhaustStop this is how a pool is reused after a job
// ended on ErrPoolExhausted; a round in progress is left alone.
func (p *Pool) Rewind() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.items) == 0 || len(p.unshown) > 0 {
		return false
	}
	p.resetLocked()
	p.cycle++
	return true
}

func (p *Pool) resetLocked() {
	p.unshown = p.unshown[:0]
	for i := range p.items {
		p.shown[i] = false
		p.unshown = append(p.unshown, i)
	}
}

func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}

func (p *Pool) Policy() ExhaustPolicy { return p.policy }

func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Total:     len(p.items),
		Remaining: len(p.unshown),
		Cycle:     p.cycle,
		Policy:    p.policy,
	}
}
