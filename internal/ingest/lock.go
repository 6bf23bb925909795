package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"l10nboard/internal/services"
)

// Locker serializes ingestion of one repository.
type Locker interface {
	Acquire(ctx context.Context, name string) (release func() error, err error)
}

type noopLocker struct{}

func (noopLocker) Acquire(context.Context, string) (func() error, error) {
	return func() error { return nil }, nil
}

const lockRetryDelay = 100 * time.Millisecond

// FileLocker holds one lock file per repository under dir.
type FileLocker struct {
	dir     string
	timeout time.Duration
}

// NewFileLocker returns a file locker rooted at dir. A zero timeout fails
// immediately when the lock is held.
func NewFileLocker(dir string, timeout time.Duration) *FileLocker {
	return &FileLocker{dir: dir, timeout: timeout}
}

// Acquire blocks until the repository lock is held or the timeout elapses.
func (l *FileLocker) Acquire(ctx context.Context, name string) (func() error, error) {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	lock := flock.New(filepath.Join(l.dir, lockFileName(name)))

	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	var (
		ok  bool
		err error
	)
	if l.timeout > 0 {
		ok, err = lock.TryLockContext(ctx, lockRetryDelay)
	} else {
		ok, err = lock.TryLock()
	}
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, services.Wrap(services.ErrTransient, "ingest", "lock",
			fmt.Sprintf("repository %s is being ingested elsewhere", name), nil)
	}
	return lock.Unlock, nil
}

func lockFileName(name string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", "..", "_", ":", "_")
	return replacer.Replace(name) + ".lock"
}

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker coordinates ingestion across hosts sharing one database.
type RedisLocker struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
	timeout   time.Duration
}

// NewRedisLocker constructs a Redis-backed locker. Keys live under
// "<keyPrefix>:lock:".
func NewRedisLocker(client redis.UniversalClient, keyPrefix string, ttl, timeout time.Duration) *RedisLocker {
	if keyPrefix == "" {
		keyPrefix = "l10nboard"
	}
	return &RedisLocker{client: client, keyPrefix: keyPrefix, ttl: ttl, timeout: timeout}
}

func (l *RedisLocker) key(name string) string {
	return strings.Join([]string{l.keyPrefix, "lock", name}, ":")
}

// Acquire sets the lock key with a random token, retrying until timeout.
func (l *RedisLocker) Acquire(ctx context.Context, name string) (func() error, error) {
	key := l.key(name)
	token := uuid.NewString()
	deadline := time.Now().Add(l.timeout)
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, services.Wrap(services.ErrTransient, "ingest", "redis lock", "set lock key", err)
		}
		if ok {
			break
		}
		if !time.Now().Before(deadline) {
			return nil, services.Wrap(services.ErrTransient, "ingest", "redis lock",
				fmt.Sprintf("repository %s is being ingested elsewhere", name), nil)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryDelay):
		}
	}

	release := func() error {
		// The caller's context may already be canceled.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return releaseScript.Run(ctx, l.client, []string{key}, token).Err()
	}
	return release, nil
}

// MultiLocker acquires every locker in order and releases in reverse.
type MultiLocker []Locker

// Acquire holds all locks or none.
func (m MultiLocker) Acquire(ctx context.Context, name string) (func() error, error) {
	releases := make([]func() error, 0, len(m))
	releaseAll := func() error {
		var errs []error
		for i := len(releases) - 1; i >= 0; i-- {
			if err := releases[i](); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
	for _, locker := range m {
		release, err := locker.Acquire(ctx, name)
		if err != nil {
			_ = releaseAll()
			return nil, err
		}
		releases = append(releases, release)
	}
	return releaseAll, nil
}
