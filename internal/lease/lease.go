// Package lease guarantees that at most one worker holds a booking in
// Processing at a time.
package lease

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	goredislib "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"travelbot/internal/observability"
)

// ErrHeld is returned by Acquire when another holder owns the lease.
var ErrHeld = errors.New("lease: held by another worker")

type Lease interface {
	Release(ctx context.Context) error
}

type Locker interface {
	Acquire(ctx context.Context, bookingID string) (Lease, error)
	// Held reports whether any worker currently holds the booking's lease.
	Held(ctx context.Context, bookingID string) (bool, error)
}

const keyPrefix = "travelbot:lease:"

func key(bookingID string) string { return keyPrefix + bookingID }

// Redis leases are redsync mutexes kept alive by a heartbeat until released.
type Redis struct {
	client *goredislib.Client
	rs     *redsync.Redsync
	ttl    time.Duration
	log    zerolog.Logger
}

func NewRedis(client *goredislib.Client, ttl time.Duration, log zerolog.Logger) *Redis {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Redis{
		client: client,
		rs:     redsync.New(goredis.NewPool(client)),
		ttl:    ttl,
		log:    log.With().Str("component", "lease").Logger(),
	}
}

func (r *Redis) Acquire(ctx context.Context, bookingID string) (Lease, error) {
	m := r.rs.NewMutex(key(bookingID),
		redsync.WithExpiry(r.ttl),
		redsync.WithTries(1),
	)
	if err := m.TryLockContext(ctx); err != nil {
		if held, herr := r.Held(ctx, bookingID); herr == nil && held {
			observability.ObserveLease("held")
			return nil, ErrHeld
		}
		return nil, fmt.Errorf("acquire lease %s: %w", bookingID, err)
	}
	observability.ObserveLease("acquire")

	hbCtx, cancel := context.WithCancel(context.Background())
	l := &redisLease{m: m, cancel: cancel, done: make(chan struct{})}
	go l.heartbeat(hbCtx, r.ttl/3, r.log.With().Str("booking_id", bookingID).Logger())
	return l, nil
}

func (r *Redis) Held(ctx context.Context, bookingID string) (bool, error) {
	n, err := r.client.Exists(ctx, key(bookingID)).Result()
	if err != nil {
		return false, fmt.Errorf("check lease %s: %w", bookingID, err)
	}
	return n > 0, nil
}

type redisLease struct {
	m      *redsync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (l *redisLease) heartbeat(ctx context.Context, every time.Duration, log zerolog.Logger) {
	defer close(l.done)
	if every <= 0 {
		every = time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ok, err := l.m.ExtendContext(ctx); err != nil || !ok {
				log.Warn().Err(err).Msg("lease extend failed")
			}
		}
	}
}

func (l *redisLease) Release(ctx context.Context) error {
	var err error
	l.once.Do(func() {
		l.cancel()
		<-l.done
		observability.ObserveLease("release")
		if ok, uerr := l.m.UnlockContext(ctx); uerr != nil {
			err = fmt.Errorf("release lease: %w", uerr)
		} else if !ok {
			err = errors.New("release lease: not held")
		}
	})
	return err
}

// Local is an in-process Locker for single-worker deployments and tests.
type Local struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocal() *Local {
	return &Local{held: make(map[string]struct{})}
}

func (l *Local) Acquire(_ context.Context, bookingID string) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[bookingID]; ok {
		observability.ObserveLease("held")
		return nil, ErrHeld
	}
	l.held[bookingID] = struct{}{}
	observability.ObserveLease("acquire")
	return &localLease{owner: l, id: bookingID}, nil
}

func (l *Local) Held(_ context.Context, bookingID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[bookingID]
	return ok, nil
}

type localLease struct {
	owner *Local
	id    string
	once  sync.Once
}

func (l *localLease) Release(context.Context) error {
	l.once.Do(func() {
		l.owner.mu.Lock()
		delete(l.owner.held, l.id)
		l.owner.mu.Unlock()
		observability.ObserveLease("release")
	})
	return nil
}
