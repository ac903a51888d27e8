// Package writelock implements the single-writer coordination primitive
// described in spec §4.4: a cooperative lock built over a storage
// collaborator's lock interface, with bounded linear-backoff retry.
//
// It is grounded on the teacher's core/rawdb/filedb.go acquireLock /
// releaseLock pair (raw syscall.Flock around a lock file) — the
// single-process flock mechanics are carried into the storage package's
// reference Storage implementation, while this package supplies the
// higher-level retry/backoff/ownership policy spec §4.4 layers on top.
package writelock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ashleydavis/photosphere-sub005/log"
	"github.com/ashleydavis/photosphere-sub005/metrics"
	"github.com/ashleydavis/photosphere-sub005/storage"
)

// LockPath is the well-known path under the metadata store's ".db"
// namespace that every AssetDatabase instance coordinates on (spec §6
// "write.lock file under .db/").
const LockPath = ".db/write.lock"

// Info describes the current holder of a lock, as reported by
// Storage.CheckWriteLock.
type Info = storage.LockInfo

// Storage is the subset of the storage contract (spec §6) a WriteLock
// needs. The storage package's Storage type satisfies this.
type Storage interface {
	CheckWriteLock(path string) (*Info, error)
	AcquireWriteLock(path, owner string) (bool, error)
	ReleaseWriteLock(path string) error
	RefreshWriteLock(path, owner string) error
}

// ErrContended is returned by Acquire when every retry attempt fails to
// obtain the lock — a Contention-class error per spec §7 (recoverable:
// callers re-queue and try again on the next cycle).
var ErrContended = errors.New("writelock: could not acquire lock")

// errLockHeld is the internal retry-control sentinel returned by the
// acquire operation when the lock is simply held by someone else (as
// opposed to a storage error), so backoff.Retry keeps retrying it.
var errLockHeld = errors.New("writelock: lock currently held")

// Lock coordinates exclusive access to a single storage-backed lock
// file on behalf of one session.
type Lock struct {
	storage   Storage
	path      string
	sessionID string
	step      time.Duration
	logger    *log.Logger

	held bool
}

// Option configures a Lock constructed by New.
type Option func(*Lock)

// WithBackoffStep overrides the default 1s linear-backoff step (spec
// §4.4's "1s, 2s, ..." schedule). Intended for tests that want the
// retry schedule compressed.
func WithBackoffStep(step time.Duration) Option {
	return func(l *Lock) { l.step = step }
}

// New returns a Lock over path (typically LockPath) for the given
// storage collaborator and session identity.
func New(storage Storage, path, sessionID string, opts ...Option) *Lock {
	l := &Lock{
		storage:   storage,
		path:      path,
		sessionID: sessionID,
		step:      time.Second,
		logger:    log.Default().Module("writelock"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire polls storage.AcquireWriteLock, retrying with linearly growing
// backoff (1s, 2s, ... up to maxAttempts-1 waits) per spec §4.4, driven
// through backoff.Retry the way the pipeline's tree-save retry does
// (pipeline/retry.go). On final failure it inspects CheckWriteLock to
// report the current owner and age in the returned error.
func (l *Lock) Acquire(ctx context.Context, maxAttempts int) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(&linearBackoff{step: l.step}, uint64(maxAttempts-1)),
		ctx,
	)

	var lastErr error
	var contended bool
	err := backoff.Retry(func() error {
		metrics.WriteLockAcquireAttempts.Inc()
		ok, err := l.storage.AcquireWriteLock(l.path, l.sessionID)
		if err != nil {
			lastErr = err
			return err
		}
		if !ok {
			contended = true
			return errLockHeld
		}
		return nil
	}, policy)

	if contended {
		metrics.WriteLockContended.Inc()
	}
	if err == nil {
		l.held = true
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	info, infoErr := l.storage.CheckWriteLock(l.path)
	if infoErr == nil && info != nil {
		l.logger.Warn("failed to acquire write lock", "path", l.path, "heldBy", info.Owner, "since", info.AcquiredAt)
		return fmt.Errorf("%w: held by %q since %s", ErrContended, info.Owner, info.AcquiredAt)
	}
	if lastErr != nil {
		l.logger.Warn("failed to acquire write lock", "path", l.path, "err", lastErr)
		return fmt.Errorf("%w: %v", ErrContended, lastErr)
	}
	return ErrContended
}

// Refresh bumps the lock's timestamp, extending the current session's
// claim. A no-op if the lock is not currently held by this session.
func (l *Lock) Refresh() error {
	if !l.held {
		return nil
	}
	return l.storage.RefreshWriteLock(l.path, l.sessionID)
}

// Release drops the lock. Intended to be called from a defer/finally
// path regardless of how the holder's work concluded (spec §4.4
// "release() — always called in a finally path").
func (l *Lock) Release() error {
	if !l.held {
		return nil
	}
	l.held = false
	return l.storage.ReleaseWriteLock(l.path)
}

// linearBackoff grows by a fixed step each call, matching spec §4.4's
// "1s, 2s, ..." schedule. It satisfies the shape of backoff.BackOff so
// call sites that already depend on cenkalti/backoff for other retries
// (e.g. the pipeline's tree-save retry) can compose it with
// backoff.WithMaxRetries or backoff.Retry unchanged.
type linearBackoff struct {
	step    time.Duration
	attempt int
}

func (b *linearBackoff) NextBackOff() time.Duration {
	b.attempt++
	return time.Duration(b.attempt) * b.step
}

func (b *linearBackoff) Reset() { b.attempt = 0 }

var _ backoff.BackOff = (*linearBackoff)(nil)
