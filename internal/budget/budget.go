// Package budget is the Budget Manager (C12): it fits a ranked set of
// memories into a caller-supplied token budget, either dropping the tail
// (HardCutoff) or proportionally shortening every item's content
// (Truncate).
package budget

import (
	"math"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// metadataOverheadTokens is the fixed per-memory cost charged on top of a
// memory's content, covering the header/role/id scaffolding a renderer adds
// around the raw text.
const metadataOverheadTokens = 20

// defaultBuffer is reserved off the top of any budget >= 100 tokens, so a
// prompt built from the budgeted output still has headroom for the
// surrounding instructions.
const defaultBuffer = 50

// defaultMinTokens is the floor allocated to any single item under the
// Truncate strategy, scaled down only when the overall budget can't afford
// it for every item.
const defaultMinTokens = 50

// Strategy selects how the manager sheds content once a budget is exceeded.
type Strategy string

const (
	// HardCutoff keeps items in rank order until the next one would exceed
	// the effective budget, then drops the rest untouched.
	HardCutoff Strategy = "hard_cutoff"
	// Truncate keeps every item but shortens lower-relevance ones to fit,
	// allocating budget proportional to relevance score.
	Truncate Strategy = "truncate"
)

// Tokenizer is the narrow provider-specific token counter this manager
// prefers when available. When nil, EstimateTokens is used instead.
type Tokenizer interface {
	CountTokens(text string) int
}

// Item is a single candidate for budget fitting, already in rank order.
type Item struct {
	MemoryID       string
	Content        string
	RelevanceScore float64
}

// BudgetedItem is an Item after budget fitting.
type BudgetedItem struct {
	MemoryID       string
	Content        string
	TokenCount     int
	Truncated      bool
	BudgetEnforced bool
}

// Result is the outcome of fitting a set of items into a budget.
type Result struct {
	Items          []BudgetedItem
	TotalTokens    int
	BudgetEnforced bool
	DroppedCount   int
}

// EstimateTokens approximates token count at 4 characters per token. It is
// shared with the chat completion's usage accounting so the two numbers
// never disagree within a single process.
func EstimateTokens(s string) int {
	r := []rune(s)
	return int(math.Ceil(float64(len(r)) / 4.0))
}

// Manager counts and fits tokens, caching counts by text so repeated
// memories (common across retrieval calls for the same session) aren't
// re-counted.
type Manager struct {
	tokenizer Tokenizer
	cache     *lru.Cache[string, int]
}

// New builds a Manager. tokenizer may be nil, in which case every count
// falls back to EstimateTokens. cacheSize <= 0 defaults to 2048 entries.
func New(tokenizer Tokenizer, cacheSize int) (*Manager, error) {
	if cacheSize <= 0 {
		cacheSize = 2048
	}
	cache, err := lru.New[string, int](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Manager{tokenizer: tokenizer, cache: cache}, nil
}

// CountTokens returns the token count for text, preferring the configured
// tokenizer and falling back to EstimateTokens, cached by exact text match.
func (m *Manager) CountTokens(text string) int {
	if cached, ok := m.cache.Get(text); ok {
		return cached
	}
	var n int
	if m.tokenizer != nil {
		n = m.tokenizer.CountTokens(text)
	} else {
		n = EstimateTokens(text)
	}
	m.cache.Add(text, n)
	return n
}

func (m *Manager) itemTokens(content string) int {
	return m.CountTokens(content) + metadataOverheadTokens
}

// effectiveBudget reserves defaultBuffer off budgets >= 100, so small
// budgets aren't collapsed to zero by the buffer.
func effectiveBudget(budget int) int {
	if budget <= 0 {
		return 0
	}
	if budget >= 100 {
		return budget - defaultBuffer
	}
	return budget
}

// Fit applies strategy to items (assumed already in rank order) so their
// combined token cost respects budget. Ordering is preserved in the result.
func (m *Manager) Fit(items []Item, budget int, strategy Strategy) Result {
	if budget <= 0 || len(items) == 0 {
		return Result{}
	}
	eff := effectiveBudget(budget)
	if eff <= 0 {
		return Result{DroppedCount: len(items), BudgetEnforced: len(items) > 0}
	}

	switch strategy {
	case Truncate:
		return m.fitTruncate(items, eff)
	default:
		return m.fitHardCutoff(items, eff)
	}
}

func (m *Manager) fitHardCutoff(items []Item, eff int) Result {
	out := make([]BudgetedItem, 0, len(items))
	used := 0
	dropped := 0
	for _, it := range items {
		cost := m.itemTokens(it.Content)
		if used+cost > eff {
			dropped++
			continue
		}
		out = append(out, BudgetedItem{MemoryID: it.MemoryID, Content: it.Content, TokenCount: cost})
		used += cost
	}
	enforced := dropped > 0
	for i := range out {
		out[i].BudgetEnforced = enforced
	}
	return Result{Items: out, TotalTokens: used, BudgetEnforced: enforced, DroppedCount: dropped}
}

func (m *Manager) fitTruncate(items []Item, eff int) Result {
	totalRelevance := 0.0
	for _, it := range items {
		totalRelevance += it.RelevanceScore
	}

	minTokens := defaultMinTokens
	if n := len(items); n > 0 && minTokens*n > eff {
		minTokens = eff / n
		if minTokens < 1 {
			minTokens = 1
		}
	}

	out := make([]BudgetedItem, len(items))
	used := 0
	anyTruncated := false
	for i, it := range items {
		share := eff / len(items)
		if totalRelevance > 0 {
			share = int(float64(eff) * (it.RelevanceScore / totalRelevance))
		}
		allocated := share
		if allocated < minTokens {
			allocated = minTokens
		}

		contentBudget := allocated - metadataOverheadTokens
		content := it.Content
		truncated := false
		if contentBudget <= 0 {
			content = ""
			truncated = it.Content != ""
		} else if m.CountTokens(it.Content) > contentBudget {
			content = m.trimToTokens(it.Content, contentBudget)
			truncated = true
		}

		cost := m.itemTokens(content)
		out[i] = BudgetedItem{MemoryID: it.MemoryID, Content: content, TokenCount: cost, Truncated: truncated}
		if truncated {
			anyTruncated = true
		}
		used += cost
	}

	enforced := anyTruncated
	for i := range out {
		out[i].BudgetEnforced = enforced
	}
	return Result{Items: out, TotalTokens: used, BudgetEnforced: enforced}
}

// trimToTokens binary-searches the longest rune prefix of s whose token
// count fits within n, matching the reference system's in-place shortening.
func (m *Manager) trimToTokens(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || s == "" {
		return ""
	}
	r := []rune(s)
	if m.CountTokens(s) <= n {
		return s
	}

	lo, hi := 0, len(r)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if m.CountTokens(string(r[:mid])) <= n {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return strings.TrimSpace(string(r[:lo]))
}

// SortByRelevanceDescending orders items by RelevanceScore, highest first,
// as a convenience for callers that haven't already ranked their input.
func SortByRelevanceDescending(items []Item) {
	sort.SliceStable(items, func(i, j int) bool { return items[i].RelevanceScore > items[j].RelevanceScore })
}
