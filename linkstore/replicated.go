package linkstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const defaultMirrorTimeout = 8 * time.Second

// Replicated serves every call from Primary and, once a mutation succeeds
// there, repeats it on each mirror without waiting. Mirror failures are
// logged and dropped; they never reach the caller and are not retried.
type Replicated struct {
	Primary Store
	Mirrors []Store
	Timeout time.Duration
	Log     *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewReplicated(primary Store, mirrors []Store, timeout time.Duration, log *slog.Logger) *Replicated {
	if timeout <= 0 {
		timeout = defaultMirrorTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Replicated{
		Primary: primary,
		Mirrors: mirrors,
		Timeout: timeout,
		Log:     log,
	}
}

func (r *Replicated) Backend() string {
	return fmt.Sprintf("%s+%d", r.Primary.Backend(), len(r.Mirrors))
}

func (r *Replicated) Get(ctx context.Context, externalID string) (Record, bool, error) {
	return r.Primary.Get(ctx, externalID)
}

func (r *Replicated) GetBySubject(ctx context.Context, subjectID int64) (Record, bool, error) {
	return r.Primary.GetBySubject(ctx, subjectID)
}

func (r *Replicated) Upsert(ctx context.Context, rec Record) error {
	if err := r.Primary.Upsert(ctx, rec); err != nil {
		return err
	}
	r.fanOut(ctx, "upsert", func(ctx context.Context, m Store) error {
		return m.Upsert(ctx, rec)
	})
	return nil
}

func (r *Replicated) SetAttempts(ctx context.Context, externalID string, attempts int, lastAttemptAt int64) error {
	if err := r.Primary.SetAttempts(ctx, externalID, attempts, lastAttemptAt); err != nil {
		return err
	}
	r.fanOut(ctx, "set_attempts", func(ctx context.Context, m Store) error {
		return m.SetAttempts(ctx, externalID, attempts, lastAttemptAt)
	})
	return nil
}

func (r *Replicated) MarkVerified(ctx context.Context, externalID string) error {
	if err := r.Primary.MarkVerified(ctx, externalID); err != nil {
		return err
	}
	r.fanOut(ctx, "mark_verified", func(ctx context.Context, m Store) error {
		return m.MarkVerified(ctx, externalID)
	})
	return nil
}

func (r *Replicated) Delete(ctx context.Context, externalID string) (bool, error) {
	ok, err := r.Primary.Delete(ctx, externalID)
	if err != nil {
		return false, err
	}
	r.fanOut(ctx, "delete", func(ctx context.Context, m Store) error {
		_, err := m.Delete(ctx, externalID)
		return err
	})
	return ok, nil
}

func (r *Replicated) DeleteExpired(ctx context.Context, maxAgeSeconds int64) (int64, error) {
	n, err := r.Primary.DeleteExpired(ctx, maxAgeSeconds)
	if err != nil {
		return 0, err
	}
	r.fanOut(ctx, "delete_expired", func(ctx context.Context, m Store) error {
		_, err := m.DeleteExpired(ctx, maxAgeSeconds)
		return err
	})
	return n, nil
}

func (r *Replicated) IsModerator(ctx context.Context, externalID string) (bool, error) {
	return r.Primary.IsModerator(ctx, externalID)
}

func (r *Replicated) GrantModerator(ctx context.Context, m Moderator) error {
	if err := r.Primary.GrantModerator(ctx, m); err != nil {
		return err
	}
	r.fanOut(ctx, "grant_moderator", func(ctx context.Context, s Store) error {
		return s.GrantModerator(ctx, m)
	})
	return nil
}

func (r *Replicated) RevokeModerator(ctx context.Context, externalID string) (bool, error) {
	ok, err := r.Primary.RevokeModerator(ctx, externalID)
	if err != nil {
		return false, err
	}
	r.fanOut(ctx, "revoke_moderator", func(ctx context.Context, s Store) error {
		_, err := s.RevokeModerator(ctx, externalID)
		return err
	})
	return ok, nil
}

func (r *Replicated) ListModerators(ctx context.Context) ([]Moderator, error) {
	return r.Primary.ListModerators(ctx)
}

func (r *Replicated) GetRoleConfig(ctx context.Context, guildID string) (RoleConfig, bool, error) {
	return r.Primary.GetRoleConfig(ctx, guildID)
}

func (r *Replicated) PutRoleConfig(ctx context.Context, cfg RoleConfig) error {
	if err := r.Primary.PutRoleConfig(ctx, cfg); err != nil {
		return err
	}
	r.fanOut(ctx, "put_role_config", func(ctx context.Context, s Store) error {
		return s.PutRoleConfig(ctx, cfg)
	})
	return nil
}

// Wait blocks until in-flight mirror writes finish or ctx is done.
func (r *Replicated) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops new mirror writes, drains the in-flight ones and closes every
// store. Mutations after Close still reach the primary only.
func (r *Replicated) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	if err := r.Wait(ctx); err != nil {
		r.log().Warn("mirror_drain_incomplete", "error", err.Error())
	}
	var errs []error
	for _, m := range r.Mirrors {
		if err := m.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := r.Primary.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// fanOut starts one goroutine per mirror. The caller's cancellation is not
// inherited, only its values; each write gets its own timeout.
func (r *Replicated) fanOut(ctx context.Context, op string, fn func(context.Context, Store) error) {
	if len(r.Mirrors) == 0 {
		return
	}
	base := context.WithoutCancel(ctx)
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = defaultMirrorTimeout
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		r.log().Debug("mirror_write_skipped", "op", op, "reason", "closed")
		return
	}
	for i, m := range r.Mirrors {
		r.wg.Add(1)
		go func(i int, m Store) {
			defer r.wg.Done()
			mctx, cancel := context.WithTimeout(base, timeout)
			defer cancel()
			if err := fn(mctx, m); err != nil {
				r.log().Warn("mirror_write_failed",
					"op", op,
					"mirror", i+1,
					"backend", m.Backend(),
					"error", err.Error(),
				)
			}
		}(i, m)
	}
}

func (r *Replicated) log() *slog.Logger {
	if r.Log != nil {
		return r.Log
	}
	return slog.Default()
}
