package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Ledger is the append-only audit log of every decision, execution,
// transition, and learning event.
//
// Log assigns each entry a logical timestamp from an atomic counter, links
// it into its item's hash chain, and returns only after the storage backend
// has durably written it. Appends for different items proceed concurrently;
// appends for one item are serialized so its chain stays linear.
type Ledger struct {
	storage Storage
	seq     atomic.Uint64
	now     func() time.Time
	logger  *slog.Logger
	metrics AppendRecorder

	// chains caches chain heads. Idle chains beyond maxChains are dropped
	// and their head is reloaded from storage on the next append.
	chainsMu  sync.Mutex
	chains    map[string]*chain
	maxChains int
}

// DefaultMaxChains is the number of idle chain heads a Ledger keeps.
const DefaultMaxChains = 4096

// AppendRecorder observes append outcomes. *metrics.Collector implements it.
type AppendRecorder interface {
	RecordLedgerAppend(kind string, err error)
}

type chain struct {
	mu     sync.Mutex
	refs   int // guarded by Ledger.chainsMu
	loaded bool
	head   string
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the wall-clock source for entry times.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithMaxChains bounds the number of idle chain heads kept in memory.
func WithMaxChains(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.maxChains = n
		}
	}
}

// WithMetrics records every append outcome.
func WithMetrics(m AppendRecorder) Option {
	return func(l *Ledger) { l.metrics = m }
}

// Open creates a Ledger over storage, resuming the sequence counter from
// the highest stored entry.
func Open(ctx context.Context, storage Storage, opts ...Option) (*Ledger, error) {
	l := &Ledger{
		storage:   storage,
		now:       time.Now,
		logger:    slog.Default().With("component", "ledger"),
		chains:    make(map[string]*chain),
		maxChains: DefaultMaxChains,
	}
	for _, opt := range opts {
		opt(l)
	}
	maxSeq, err := storage.MaxSeq(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resume ledger sequence: %w", err)
	}
	l.seq.Store(maxSeq)
	return l, nil
}

// Log appends an entry and returns it with ID, Seq, Time, and hashes
// filled in. The caller must treat an error as "not committed".
func (l *Ledger) Log(ctx context.Context, e Entry) (Entry, error) {
	if e.Kind == "" {
		return Entry{}, fmt.Errorf("ledger entry kind is required")
	}
	key := e.ChainKey()
	c := l.acquire(key)
	defer l.release(key, c)

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loaded {
		last, err := l.storage.Last(ctx, key)
		if err != nil {
			return Entry{}, fmt.Errorf("failed to load chain head for %s: %w", key, err)
		}
		if last != nil {
			c.head = last.Hash
		}
		c.loaded = true
	}

	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	e.Time = l.now().UTC()
	e.Seq = l.seq.Add(1)
	e.PrevHash = c.head
	hash, err := HashEntry(&e)
	if err != nil {
		return Entry{}, err
	}
	e.Hash = hash

	err = l.storage.Append(ctx, &e)
	if l.metrics != nil {
		l.metrics.RecordLedgerAppend(string(e.Kind), err)
	}
	if err != nil {
		l.logger.Error("ledger append failed",
			"kind", string(e.Kind),
			"item_id", e.ItemID,
			"seq", e.Seq,
			"error", err,
		)
		return Entry{}, fmt.Errorf("ledger append: %w", err)
	}
	c.head = e.Hash
	return e, nil
}

func (l *Ledger) acquire(key string) *chain {
	l.chainsMu.Lock()
	defer l.chainsMu.Unlock()
	c, ok := l.chains[key]
	if !ok {
		c = &chain{}
		l.chains[key] = c
	}
	c.refs++
	return c
}

// release drops c from the cache once no append holds it and the cache is
// over its bound. A chain in use is never dropped, so every append for a
// key links to the same head.
func (l *Ledger) release(key string, c *chain) {
	l.chainsMu.Lock()
	defer l.chainsMu.Unlock()
	c.refs--
	if c.refs == 0 && len(l.chains) > l.maxChains {
		delete(l.chains, key)
	}
}

// CachedChains returns the number of chain heads held in memory.
func (l *Ledger) CachedChains() int {
	l.chainsMu.Lock()
	defer l.chainsMu.Unlock()
	return len(l.chains)
}

// Query returns entries matching q.
func (l *Ledger) Query(ctx context.Context, q *Query) ([]*Entry, error) {
	return l.storage.Query(ctx, q)
}

// History returns every entry for one item, oldest first.
func (l *Ledger) History(ctx context.Context, itemID string) ([]*Entry, error) {
	return l.storage.Query(ctx, &Query{ItemID: itemID})
}

// Verify recomputes an item's hash chain. It returns a *ChainError
// describing the first broken link, or nil if the chain is intact.
func (l *Ledger) Verify(ctx context.Context, itemID string) error {
	q := &Query{ItemID: itemID}
	if itemID == SystemChain {
		q.ItemID = ""
	}
	entries, err := l.storage.Query(ctx, q)
	if err != nil {
		return err
	}
	return VerifyChain(entries, itemID)
}

// VerifyChain checks that entries (ascending by Seq, one chain) link and
// hash correctly.
func VerifyChain(entries []*Entry, chainKey string) error {
	prev := ""
	var lastSeq uint64
	for _, e := range entries {
		if e.ChainKey() != chainKey {
			continue
		}
		if e.Seq <= lastSeq {
			return &ChainError{ChainKey: chainKey, Seq: e.Seq, EntryID: e.ID, Problem: "sequence not increasing"}
		}
		if e.PrevHash != prev {
			return &ChainError{ChainKey: chainKey, Seq: e.Seq, EntryID: e.ID, Problem: "previous hash mismatch"}
		}
		want, err := HashEntry(e)
		if err != nil {
			return err
		}
		if want != e.Hash {
			return &ChainError{ChainKey: chainKey, Seq: e.Seq, EntryID: e.ID, Problem: "entry hash mismatch"}
		}
		prev = e.Hash
		lastSeq = e.Seq
	}
	return nil
}

// Close closes the storage backend.
func (l *Ledger) Close() error {
	return l.storage.Close()
}
