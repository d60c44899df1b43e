package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/atmx/economy-engine/internal/metrics"
	"github.com/atmx/economy-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis cache for
// request display reads. Queries on a connection or transaction always go
// to the primary; only the CachedReads methods consult Redis.
//
// Request keys carry a generation number. A committed request write bumps
// the generation, so a load that started before the write can only
// populate a key no later reader will look at.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
	group   singleflight.Group
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func (s *CachedStore) Ping(ctx context.Context) error {
	if err := s.primary.Ping(ctx); err != nil {
		return err
	}
	return s.rdb.Ping(ctx).Err()
}

func (s *CachedStore) Acquire(ctx context.Context) (Conn, error) {
	conn, err := s.primary.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &cachedConn{Conn: conn, s: s}, nil
}

type cachedConn struct {
	Conn
	s *CachedStore
}

var _ CachedReads = (*cachedConn)(nil)

func (c *cachedConn) Begin(ctx context.Context) (Tx, error) {
	tx, err := c.Conn.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &cachedTx{Tx: tx, s: c.s}, nil
}

// --- Display reads ---

func (c *cachedConn) CachedRequest(ctx context.Context, levelID string) (*model.Request, error) {
	return readThrough(ctx, c.s, "request", "request:"+levelID, func() (*model.Request, error) {
		return c.Conn.GetRequest(ctx, levelID)
	})
}

func (c *cachedConn) CachedRequestPool(ctx context.Context, limit int) ([]model.Request, error) {
	reqs, err := readThrough(ctx, c.s, "request_pool", fmt.Sprintf("pool:%d", limit), func() (*[]model.Request, error) {
		reqs, err := c.Conn.ListRequestsByBounty(ctx, limit)
		if err != nil {
			return nil, err
		}
		if reqs == nil {
			reqs = []model.Request{}
		}
		return &reqs, nil
	})
	if err != nil {
		return nil, err
	}
	return *reqs, nil
}

// --- Autocommit writes invalidate immediately ---

func (c *cachedConn) UpdateRequest(ctx context.Context, levelID string, patch model.RequestPatch) error {
	if err := c.Conn.UpdateRequest(ctx, levelID, patch); err != nil {
		return err
	}
	c.s.invalidateRequests(ctx)
	return nil
}

func (c *cachedConn) InsertRequest(ctx context.Context, r *model.Request) error {
	if err := c.Conn.InsertRequest(ctx, r); err != nil {
		return err
	}
	c.s.invalidateRequests(ctx)
	return nil
}

// cachedTx invalidates the request cache after a commit that wrote a
// request. A rollback leaves the cache alone.
type cachedTx struct {
	Tx
	s       *CachedStore
	touched bool
}

func (t *cachedTx) UpdateRequest(ctx context.Context, levelID string, patch model.RequestPatch) error {
	if err := t.Tx.UpdateRequest(ctx, levelID, patch); err != nil {
		return err
	}
	t.touched = true
	return nil
}

func (t *cachedTx) InsertRequest(ctx context.Context, r *model.Request) error {
	if err := t.Tx.InsertRequest(ctx, r); err != nil {
		return err
	}
	t.touched = true
	return nil
}

func (t *cachedTx) Commit(ctx context.Context) error {
	if err := t.Tx.Commit(ctx); err != nil {
		return err
	}
	if t.touched {
		t.s.invalidateRequests(ctx)
	}
	return nil
}

// --- Cache helpers ---

const requestGenKey = "requests:gen"

// generation returns the current request generation. ok is false when
// Redis cannot answer, in which case callers skip the cache.
func (s *CachedStore) generation(ctx context.Context) (gen int64, ok bool) {
	gen, err := s.rdb.Get(ctx, requestGenKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, true
	}
	return gen, err == nil
}

func (s *CachedStore) invalidateRequests(ctx context.Context) {
	s.rdb.Incr(ctx, requestGenKey)
}

// readThrough returns the cached value for name in the current generation,
// falling back to load on a miss. Absent rows are not cached.
func readThrough[T any](ctx context.Context, s *CachedStore, family, name string, load func() (*T, error)) (*T, error) {
	gen, ok := s.generation(ctx)
	if !ok {
		metrics.CacheLookups.WithLabelValues(family, "bypass").Inc()
		return load()
	}
	key := fmt.Sprintf("requests:%d:%s", gen, name)

	if data, err := s.rdb.Get(ctx, key).Bytes(); err == nil {
		var v T
		if json.Unmarshal(data, &v) == nil {
			metrics.CacheLookups.WithLabelValues(family, "hit").Inc()
			return &v, nil
		}
	}
	metrics.CacheLookups.WithLabelValues(family, "miss").Inc()

	res, err, _ := s.group.Do(key, func() (any, error) {
		v, err := load()
		if err != nil || v == nil {
			return v, err
		}
		if data, err := json.Marshal(v); err == nil {
			s.rdb.Set(ctx, key, data, s.ttl)
		}
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(*T), nil
}
