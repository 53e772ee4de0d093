package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"fibscan/pkg/model"
)

// Key identifies one cached fetch: the same (symbol, timeframe) refreshes
// once per UTC day.
type Key struct {
	Symbol    string
	Timeframe string
	Date      string // UTC day, 2006-01-02
}

// DayKey builds the key for now's UTC day.
func DayKey(symbol, timeframe string, now time.Time) Key {
	return Key{
		Symbol:    symbol,
		Timeframe: timeframe,
		Date:      now.UTC().Format("2006-01-02"),
	}
}

func (k Key) String() string {
	return k.Symbol + "|" + k.Timeframe + "|" + k.Date
}

// CachedFailure is returned when a memoized failure marker is served instead
// of re-issuing the network call.
type CachedFailure struct {
	Reason string
}

func (e *CachedFailure) Error() string {
	return "cached failure: " + e.Reason
}

// FetchFunc produces the series on a cache miss.
type FetchFunc func(ctx context.Context) (*model.Series, error)

// SeriesCache memoizes gateway fetches. Successes live until the end of the
// current UTC day; failures live for their own configured TTL. Concurrent
// lookups of the same key coalesce onto a single in-flight fetch, so parallel
// analyses of one symbol/timeframe/day converge on one computed result.
type SeriesCache struct {
	store      Store
	failureTTL time.Duration
	now        func() time.Time
	log        *logrus.Entry

	mu       sync.Mutex
	inflight map[string]*call
}

type call struct {
	done   chan struct{}
	series *model.Series
	err    error
}

// New creates a series cache over the given store.
func New(store Store, failureTTL time.Duration) *SeriesCache {
	return &SeriesCache{
		store:      store,
		failureTTL: failureTTL,
		now:        time.Now,
		log:        logrus.WithField("component", "cache"),
	}
}

// GetOrFetch returns the cached series for key, or invokes fetch and stores
// the outcome. force bypasses the lookup but still writes through.
func (c *SeriesCache) GetOrFetch(ctx context.Context, key Key, force bool, fetch FetchFunc) (*model.Series, error) {
	k := key.String()

	if !force {
		if series, err, ok := c.lookup(k); ok {
			return series, err
		}
	}

	// Coalesce concurrent fetches of the same key.
	c.mu.Lock()
	if cl, ok := c.inflight[k]; ok {
		c.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-cl.done:
			return cl.series, cl.err
		}
	}
	if c.inflight == nil {
		c.inflight = make(map[string]*call)
	}
	cl := &call{done: make(chan struct{})}
	c.inflight[k] = cl
	c.mu.Unlock()

	cl.series, cl.err = fetch(ctx)
	c.persist(k, cl.series, cl.err)
	close(cl.done)

	c.mu.Lock()
	delete(c.inflight, k)
	c.mu.Unlock()

	return cl.series, cl.err
}

// lookup reads a live entry. ok is false on miss, expiry or a corrupt entry.
func (c *SeriesCache) lookup(k string) (*model.Series, error, bool) {
	entry, ok, err := c.store.Get(k)
	if err != nil {
		c.log.WithError(err).Warn("cache read failed, falling through to fetch")
		return nil, nil, false
	}
	if !ok || c.now().After(entry.Expiry) {
		return nil, nil, false
	}

	if entry.Failed() {
		c.log.WithField("key", k).Debug("serving memoized failure")
		return nil, &CachedFailure{Reason: entry.FailureReason}, true
	}

	var series model.Series
	if err := json.Unmarshal(entry.Payload, &series); err != nil {
		c.log.WithError(err).Warn("corrupt cache payload, refetching")
		return nil, nil, false
	}
	c.log.WithField("key", k).Debug("cache hit")
	return &series, nil, true
}

// persist writes the fetch outcome through to the store. Context
// cancellations are not failures of the data source and are not memoized.
func (c *SeriesCache) persist(k string, series *model.Series, fetchErr error) {
	now := c.now()

	var entry Entry
	switch {
	case fetchErr == nil:
		payload, err := json.Marshal(series)
		if err != nil {
			c.log.WithError(err).Warn("cache encode failed")
			return
		}
		entry = Entry{Payload: payload, Expiry: endOfUTCDay(now)}
	case errors.Is(fetchErr, context.Canceled) || errors.Is(fetchErr, context.DeadlineExceeded):
		return
	default:
		entry = Entry{FailureReason: fetchErr.Error(), Expiry: now.Add(c.failureTTL)}
	}

	if err := c.store.Put(k, entry); err != nil {
		c.log.WithError(err).Warn("cache write failed")
	}
}

// endOfUTCDay returns the first instant of the next UTC day.
func endOfUTCDay(now time.Time) time.Time {
	u := now.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}

// OpenStore builds the configured backend.
func OpenStore(backend, path string) (Store, error) {
	switch backend {
	case "memory", "":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(path)
	}
	return nil, fmt.Errorf("unknown cache backend %q", backend)
}
