package workflow

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/miniclaw/miniclaw/types"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// scriptedInvoker returns canned outputs per step and can fail a step a
// configured number of times. It tracks call order and concurrency.
type scriptedInvoker struct {
	mu       sync.Mutex
	outputs  map[string]string // step id -> output; missing ids echo the prompt
	failures map[string]int    // step id -> number of failing attempts (-1 = always)
	calls    []InvokeRequest
	callTime map[string][]time.Time
	delay    time.Duration

	inflight    atomic.Int32
	maxInflight atomic.Int32
}

func newScriptedInvoker() *scriptedInvoker {
	return &scriptedInvoker{
		outputs:  make(map[string]string),
		failures: make(map[string]int),
		callTime: make(map[string][]time.Time),
	}
}

func (s *scriptedInvoker) Invoke(ctx context.Context, req InvokeRequest) (string, error) {
	cur := s.inflight.Add(1)
	defer s.inflight.Add(-1)
	for {
		max := s.maxInflight.Load()
		if cur <= max || s.maxInflight.CompareAndSwap(max, cur) {
			break
		}
	}

	s.mu.Lock()
	s.calls = append(s.calls, req)
	s.callTime[req.StepID] = append(s.callTime[req.StepID], time.Now())
	remaining := s.failures[req.StepID]
	if remaining > 0 {
		s.failures[req.StepID] = remaining - 1
	}
	output, ok := s.outputs[req.StepID]
	delay := s.delay
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if remaining != 0 {
		return "", types.NewError(types.ErrUpstreamError, "provider exploded").WithRetryable(true)
	}
	if !ok {
		return req.Prompt, nil
	}
	return output, nil
}

func (s *scriptedInvoker) callsFor(stepID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.StepID == stepID {
			n++
		}
	}
	return n
}

func (s *scriptedInvoker) callOrder() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	order := make([]string, len(s.calls))
	for i, c := range s.calls {
		order[i] = c.StepID
	}
	return order
}

// gateDecision scripts an approval gate with per-step decisions. Steps
// without an entry are approved. A blockingGate variant suspends until
// released.
type scriptedGate struct {
	mu       sync.Mutex
	denied   map[string]bool
	requests []ApprovalRequest
}

func newScriptedGate(deny ...string) *scriptedGate {
	g := &scriptedGate{denied: make(map[string]bool)}
	for _, id := range deny {
		g.denied[id] = true
	}
	return g
}

func (g *scriptedGate) Await(ctx context.Context, req ApprovalRequest) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	return !g.denied[req.StepID], nil
}

// blockingGate holds approval requests until the test resolves them.
type blockingGate struct {
	mu      sync.Mutex
	waiting map[string]chan bool
}

func newBlockingGate() *blockingGate {
	return &blockingGate{waiting: make(map[string]chan bool)}
}

func (g *blockingGate) Await(ctx context.Context, req ApprovalRequest) (bool, error) {
	g.mu.Lock()
	ch, ok := g.waiting[req.StepID]
	if !ok {
		ch = make(chan bool, 1)
		g.waiting[req.StepID] = ch
	}
	g.mu.Unlock()
	select {
	case decision := <-ch:
		return decision, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (g *blockingGate) resolve(stepID string, approved bool) {
	g.mu.Lock()
	ch, ok := g.waiting[stepID]
	if !ok {
		ch = make(chan bool, 1)
		g.waiting[stepID] = ch
	}
	g.mu.Unlock()
	ch <- approved
}

// recordingSink collects events for assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Emit(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) typesFor(stepID string) []EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []EventType
	for _, e := range s.events {
		if e.StepID == stepID {
			out = append(out, e.Type)
		}
	}
	return out
}

func mustRecipe(raw string) *Recipe {
	recipe, err := ParseRecipe([]byte(raw), "test-recipe")
	if err != nil {
		panic(err)
	}
	return recipe
}
