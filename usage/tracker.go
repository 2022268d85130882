// Package usage accumulates token consumption per session. Counting
// prefers provider-reported figures and falls back to local tiktoken
// estimates when a response carries none.
package usage

import (
	"sort"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/miniclaw/miniclaw/types"
)

// Totals is the aggregate for one session key.
type Totals struct {
	SessionKey       string `json:"session_key"`
	Calls            int    `json:"calls"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
}

// Tracker aggregates usage per session key. Safe for concurrent use.
type Tracker struct {
	logger *zap.Logger

	mu     sync.Mutex
	totals map[string]*Totals

	encOnce sync.Once
	enc     *tiktoken.Tiktoken
}

// NewTracker creates an empty tracker.
func NewTracker(logger *zap.Logger) *Tracker {
	return &Tracker{
		logger: logger.With(zap.String("component", "usage")),
		totals: make(map[string]*Totals),
	}
}

// Record implements agent.UsageRecorder.
func (t *Tracker) Record(sessionKey, model string, usage types.Usage) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tot, ok := t.totals[sessionKey]
	if !ok {
		tot = &Totals{SessionKey: sessionKey}
		t.totals[sessionKey] = tot
	}
	tot.Calls++
	tot.PromptTokens += usage.PromptTokens
	tot.CompletionTokens += usage.CompletionTokens
	if usage.TotalTokens > 0 {
		tot.TotalTokens += usage.TotalTokens
	} else {
		tot.TotalTokens += usage.PromptTokens + usage.CompletionTokens
	}
}

// Session returns the totals for one session key, or a zero value.
func (t *Tracker) Session(sessionKey string) Totals {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tot, ok := t.totals[sessionKey]; ok {
		return *tot
	}
	return Totals{SessionKey: sessionKey}
}

// Sessions returns all totals sorted by session key.
func (t *Tracker) Sessions() []Totals {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Totals, 0, len(t.totals))
	for _, tot := range t.totals {
		out = append(out, *tot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionKey < out[j].SessionKey })
	return out
}

// CountTokens estimates the token count of text. The tiktoken encoding
// loads lazily because it may download its BPE data on first use; when
// that fails the tracker falls back to a bytes/4 approximation.
func (t *Tracker) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	t.encOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			t.logger.Warn("tiktoken unavailable, using approximate counts", zap.Error(err))
			return
		}
		t.enc = enc
	})
	if t.enc == nil {
		return approximateTokens(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

func approximateTokens(text string) int {
	n := (len(text) + 3) / 4
	if n < 1 {
		n = 1
	}
	return n
}
