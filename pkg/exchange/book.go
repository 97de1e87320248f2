package exchange

import (
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/apd/v3"

	"exbridge/pkg/core"
)

// BookKeeper assembles a local order book for venues that stream deltas
// instead of full snapshots. Levels are keyed by exact price string, the way
// the venue quotes them, so no precision is lost folding updates together.
type BookKeeper struct {
	mu    sync.Mutex
	pair  string
	depth int
	bids  map[string]apd.Decimal
	asks  map[string]apd.Decimal
}

// NewBookKeeper creates an empty book for the pair, trimmed to depth levels
// per side on snapshot. A depth of zero keeps every level.
func NewBookKeeper(pair string, depth int) *BookKeeper {
	return &BookKeeper{
		pair:  pair,
		depth: depth,
		bids:  make(map[string]apd.Decimal),
		asks:  make(map[string]apd.Decimal),
	}
}

// Reset drops all levels, for when the venue replays a full snapshot.
func (b *BookKeeper) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bids = make(map[string]apd.Decimal)
	b.asks = make(map[string]apd.Decimal)
}

// Apply folds one level update in. A zero amount deletes the level.
func (b *BookKeeper) Apply(bid bool, price string, amount apd.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	side := b.asks
	if bid {
		side = b.bids
	}
	if amount.IsZero() {
		delete(side, price)
		return
	}
	side[price] = amount
}

// Snapshot renders the current levels as an order book, bids descending and
// asks ascending, trimmed to the configured depth.
func (b *BookKeeper) Snapshot(ts time.Time) core.OrderBook {
	b.mu.Lock()
	defer b.mu.Unlock()
	return core.OrderBook{
		Pair:      b.pair,
		Bids:      b.render(b.bids, true),
		Asks:      b.render(b.asks, false),
		Timestamp: ts,
	}
}

// BookSet holds one BookKeeper per streamed pair.
type BookSet struct {
	mu    sync.Mutex
	depth int
	books map[string]*BookKeeper
}

// NewBookSet creates an empty set; keepers it creates trim to depth levels.
func NewBookSet(depth int) *BookSet {
	return &BookSet{depth: depth, books: make(map[string]*BookKeeper)}
}

// Get returns the keeper for the pair, creating it on first use.
func (s *BookSet) Get(pair string) *BookKeeper {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.books[pair]
	if !ok {
		k = NewBookKeeper(pair, s.depth)
		s.books[pair] = k
	}
	return k
}

// Drop discards the keeper for the pair.
func (s *BookSet) Drop(pair string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.books, pair)
}

func (b *BookKeeper) render(side map[string]apd.Decimal, descending bool) []core.BookLevel {
	levels := make([]core.BookLevel, 0, len(side))
	for price, amount := range side {
		levels = append(levels, core.BookLevel{Price: Dec(price), Amount: amount})
	}
	sort.Slice(levels, func(i, j int) bool {
		cmp := levels[i].Price.Cmp(&levels[j].Price)
		if descending {
			return cmp > 0
		}
		return cmp < 0
	})
	if b.depth > 0 && len(levels) > b.depth {
		levels = levels[:b.depth]
	}
	return levels
}
