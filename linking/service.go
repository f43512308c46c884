package linking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/quailyquaily/linkkeeper/linkstore"
)

type State string

const (
	StateAbsent   State = "absent"
	StatePending  State = "pending"
	StateVerified State = "verified"
)

const (
	DefaultExpiry            = 900 * time.Second
	defaultSideEffectTimeout = 10 * time.Second
)

type Resolver interface {
	ResolveSubjectID(ctx context.Context, usernameOrID string) (int64, error)
}

type ProfileFetcher interface {
	FetchProfileText(ctx context.Context, subjectID int64) (string, error)
}

type Notifier interface {
	Notify(ctx context.Context, externalID, message string) error
}

type RoleManager interface {
	GrantRole(ctx context.Context, externalID string) error
	RevokeRole(ctx context.Context, externalID string) error
}

type Config struct {
	// Expiry is how long a pending link stays valid.
	Expiry time.Duration
	// CheckCooldown is the minimum gap between two failed checks. Zero disables it.
	CheckCooldown time.Duration
}

type Deps struct {
	Store    linkstore.Store
	Resolver Resolver
	Profiles ProfileFetcher
	Notifier Notifier
	Roles    RoleManager
	Log      *slog.Logger
	Now      func() time.Time
}

type Challenge struct {
	Code      string
	SubjectID int64
	ExpiresAt time.Time
}

type CheckResult struct {
	State     State
	SubjectID int64
	Attempts  int
}

type Status struct {
	State     State
	SubjectID int64
	Code      string
	Attempts  int
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Service owns the pending -> verified lifecycle of a link record.
// Checks for the same external id are not serialized; the verified flag
// write is idempotent so racing checks converge.
type Service struct {
	store    linkstore.Store
	resolver Resolver
	profiles ProfileFetcher
	notifier Notifier
	roles    RoleManager
	log      *slog.Logger
	now      func() time.Time

	expiry   time.Duration
	cooldown time.Duration
}

func NewService(deps Deps, cfg Config) *Service {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.Expiry <= 0 {
		cfg.Expiry = DefaultExpiry
	}
	if cfg.CheckCooldown < 0 {
		cfg.CheckCooldown = 0
	}
	return &Service{
		store:    deps.Store,
		resolver: deps.Resolver,
		profiles: deps.Profiles,
		notifier: deps.Notifier,
		roles:    deps.Roles,
		log:      deps.Log,
		now:      deps.Now,
		expiry:   cfg.Expiry,
		cooldown: cfg.CheckCooldown,
	}
}

func (s *Service) Expiry() time.Duration { return s.expiry }

// InitiateLink creates a pending record with a fresh challenge code.
func (s *Service) InitiateLink(ctx context.Context, externalID, usernameOrID string) (Challenge, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return Challenge{}, errMissingExternalID
	}
	now := s.now()

	existing, ok, err := s.store.Get(ctx, externalID)
	if err != nil {
		return Challenge{}, s.storeFailure("initiate", externalID, err)
	}
	if ok {
		if existing.Verified {
			return Challenge{}, &AlreadyLinkedError{SubjectID: existing.SubjectID}
		}
		if !s.expired(existing, now) {
			return Challenge{}, ErrAlreadyPending
		}
	}

	subjectID, err := s.resolve(ctx, "initiate", externalID, usernameOrID)
	if err != nil {
		return Challenge{}, err
	}
	if err := s.ensureSubjectFree(ctx, externalID, subjectID); err != nil {
		return Challenge{}, err
	}

	code, err := newChallengeCode()
	if err != nil {
		return Challenge{}, err
	}
	rec := linkstore.Record{
		ExternalID:    externalID,
		SubjectID:     subjectID,
		ChallengeCode: code,
		CreatedAt:     now.Unix(),
	}
	if err := s.store.Upsert(ctx, rec); err != nil {
		return Challenge{}, s.storeFailure("initiate", externalID, err)
	}
	s.log.Info("link_initiated", "external_id", externalID, "subject_id", subjectID)
	return Challenge{
		Code:      code,
		SubjectID: subjectID,
		ExpiresAt: time.Unix(rec.CreatedAt, 0).Add(s.expiry),
	}, nil
}

// CheckVerification fetches the subject's profile and looks for the stored
// challenge code in it.
func (s *Service) CheckVerification(ctx context.Context, externalID string) (CheckResult, error) {
	externalID = strings.TrimSpace(externalID)
	now := s.now()

	rec, ok, err := s.store.Get(ctx, externalID)
	if err != nil {
		return CheckResult{}, s.storeFailure("check", externalID, err)
	}
	if !ok || s.expired(rec, now) {
		return CheckResult{}, ErrNotLinked
	}
	if rec.Verified {
		return CheckResult{State: StateVerified, SubjectID: rec.SubjectID, Attempts: rec.Attempts}, nil
	}
	if s.cooldown > 0 && rec.LastAttemptAt > 0 &&
		now.Sub(time.Unix(rec.LastAttemptAt, 0)) < s.cooldown {
		return CheckResult{}, ErrCheckTooSoon
	}

	text, err := s.profiles.FetchProfileText(ctx, rec.SubjectID)
	if err != nil {
		s.log.Warn("link_profile_fetch_failed",
			"external_id", externalID,
			"subject_id", rec.SubjectID,
			"error", err.Error(),
		)
		if errors.Is(err, ErrNotFound) {
			// The account vanished after resolution; still not a verdict on the code.
			return CheckResult{}, &UpstreamError{Op: "fetch_profile", Err: fmt.Errorf("profile %d unavailable", rec.SubjectID)}
		}
		return CheckResult{}, err
	}

	if rec.ChallengeCode == "" || !strings.Contains(text, rec.ChallengeCode) {
		attempts := rec.Attempts + 1
		if err := s.store.SetAttempts(ctx, externalID, attempts, now.Unix()); err != nil {
			if errors.Is(err, linkstore.ErrNotFound) {
				return CheckResult{}, ErrNotLinked
			}
			return CheckResult{}, s.storeFailure("check", externalID, err)
		}
		s.log.Info("link_check_mismatch", "external_id", externalID, "attempts", attempts)
		return CheckResult{State: StatePending, SubjectID: rec.SubjectID, Attempts: attempts}, nil
	}

	if err := s.ensureSubjectFree(ctx, externalID, rec.SubjectID); err != nil {
		return CheckResult{}, err
	}
	if err := s.store.MarkVerified(ctx, externalID); err != nil {
		if errors.Is(err, linkstore.ErrNotFound) {
			return CheckResult{}, ErrNotLinked
		}
		return CheckResult{}, s.storeFailure("check", externalID, err)
	}
	s.log.Info("link_verified", "external_id", externalID, "subject_id", rec.SubjectID)
	s.afterVerify(ctx, externalID, rec.SubjectID)
	return CheckResult{State: StateVerified, SubjectID: rec.SubjectID, Attempts: rec.Attempts}, nil
}

// AdminManualLink binds externalID to a subject without a challenge. The
// operator is authorized by the caller, see IsModerator.
func (s *Service) AdminManualLink(ctx context.Context, externalID, usernameOrID string) (CheckResult, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return CheckResult{}, errMissingExternalID
	}

	existing, ok, err := s.store.Get(ctx, externalID)
	if err != nil {
		return CheckResult{}, s.storeFailure("manual_link", externalID, err)
	}
	if ok && existing.Verified {
		return CheckResult{}, &AlreadyLinkedError{SubjectID: existing.SubjectID}
	}

	subjectID, err := s.resolve(ctx, "manual_link", externalID, usernameOrID)
	if err != nil {
		return CheckResult{}, err
	}
	if err := s.ensureSubjectFree(ctx, externalID, subjectID); err != nil {
		return CheckResult{}, err
	}

	rec := linkstore.Record{
		ExternalID:    externalID,
		SubjectID:     subjectID,
		ChallengeCode: ManualCode,
		Verified:      true,
		CreatedAt:     s.now().Unix(),
	}
	if err := s.store.Upsert(ctx, rec); err != nil {
		return CheckResult{}, s.storeFailure("manual_link", externalID, err)
	}
	s.log.Info("link_manual", "external_id", externalID, "subject_id", subjectID)
	s.afterVerify(ctx, externalID, subjectID)
	return CheckResult{State: StateVerified, SubjectID: subjectID}, nil
}

// Unlink removes a verified link. The record is deleted outright, so a second
// call reports ErrNotLinked.
func (s *Service) Unlink(ctx context.Context, externalID string) error {
	externalID = strings.TrimSpace(externalID)

	rec, ok, err := s.store.Get(ctx, externalID)
	if err != nil {
		return s.storeFailure("unlink", externalID, err)
	}
	if !ok || !rec.Verified {
		return ErrNotLinked
	}
	deleted, err := s.store.Delete(ctx, externalID)
	if err != nil {
		return s.storeFailure("unlink", externalID, err)
	}
	if !deleted {
		return ErrNotLinked
	}
	s.log.Info("link_removed", "external_id", externalID, "subject_id", rec.SubjectID)

	sctx, cancel := s.sideEffectContext(ctx)
	defer cancel()
	if s.roles != nil {
		if err := s.roles.RevokeRole(sctx, externalID); err != nil {
			s.log.Warn("link_role_revoke_failed", "external_id", externalID, "error", err.Error())
		}
	}
	s.notify(sctx, externalID, fmt.Sprintf("Your account is no longer linked to game account %d.", rec.SubjectID))
	return nil
}

func (s *Service) Status(ctx context.Context, externalID string) (Status, error) {
	externalID = strings.TrimSpace(externalID)
	rec, ok, err := s.store.Get(ctx, externalID)
	if err != nil {
		return Status{}, s.storeFailure("status", externalID, err)
	}
	if !ok || s.expired(rec, s.now()) {
		return Status{State: StateAbsent}, nil
	}
	created := time.Unix(rec.CreatedAt, 0)
	if rec.Verified {
		return Status{State: StateVerified, SubjectID: rec.SubjectID, CreatedAt: created}, nil
	}
	return Status{
		State:     StatePending,
		SubjectID: rec.SubjectID,
		Code:      rec.ChallengeCode,
		Attempts:  rec.Attempts,
		CreatedAt: created,
		ExpiresAt: created.Add(s.expiry),
	}, nil
}

func (s *Service) IsModerator(ctx context.Context, externalID string) (bool, error) {
	ok, err := s.store.IsModerator(ctx, externalID)
	if err != nil {
		return false, s.storeFailure("is_moderator", externalID, err)
	}
	return ok, nil
}

func (s *Service) GrantModerator(ctx context.Context, externalID, grantedBy string) error {
	err := s.store.GrantModerator(ctx, linkstore.Moderator{
		ExternalID: strings.TrimSpace(externalID),
		GrantedBy:  strings.TrimSpace(grantedBy),
		CreatedAt:  s.now().Unix(),
	})
	if err != nil {
		return s.storeFailure("grant_moderator", externalID, err)
	}
	s.log.Info("moderator_granted", "external_id", externalID, "granted_by", grantedBy)
	return nil
}

func (s *Service) RevokeModerator(ctx context.Context, externalID string) (bool, error) {
	ok, err := s.store.RevokeModerator(ctx, externalID)
	if err != nil {
		return false, s.storeFailure("revoke_moderator", externalID, err)
	}
	if ok {
		s.log.Info("moderator_revoked", "external_id", externalID)
	}
	return ok, nil
}

func (s *Service) ListModerators(ctx context.Context) ([]linkstore.Moderator, error) {
	mods, err := s.store.ListModerators(ctx)
	if err != nil {
		return nil, s.storeFailure("list_moderators", "", err)
	}
	return mods, nil
}

func (s *Service) resolve(ctx context.Context, op, externalID, usernameOrID string) (int64, error) {
	if strings.TrimSpace(usernameOrID) == "" {
		return 0, ErrNotFound
	}
	id, err := s.resolver.ResolveSubjectID(ctx, usernameOrID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.log.Warn("link_resolve_failed",
				"op", op,
				"external_id", externalID,
				"query", usernameOrID,
				"error", err.Error(),
			)
		}
		return 0, err
	}
	return id, nil
}

// ensureSubjectFree rejects a subject that is already verified for a
// different external identity.
func (s *Service) ensureSubjectFree(ctx context.Context, externalID string, subjectID int64) error {
	holder, ok, err := s.store.GetBySubject(ctx, subjectID)
	if err != nil {
		return s.storeFailure("subject_lookup", externalID, err)
	}
	if ok && holder.Verified && holder.ExternalID != externalID {
		return ErrSubjectTaken
	}
	return nil
}

func (s *Service) afterVerify(ctx context.Context, externalID string, subjectID int64) {
	sctx, cancel := s.sideEffectContext(ctx)
	defer cancel()
	if s.roles != nil {
		if err := s.roles.GrantRole(sctx, externalID); err != nil {
			s.log.Warn("link_role_grant_failed", "external_id", externalID, "error", err.Error())
		}
	}
	s.notify(sctx, externalID, fmt.Sprintf("Your account is now linked to game account %d.", subjectID))
}

func (s *Service) notify(ctx context.Context, externalID, msg string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, externalID, msg); err != nil {
		s.log.Warn("link_notify_failed", "external_id", externalID, "error", err.Error())
	}
}

// sideEffectContext ignores caller cancellation and applies its own timeout.
func (s *Service) sideEffectContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), defaultSideEffectTimeout)
}

func (s *Service) expired(rec linkstore.Record, now time.Time) bool {
	return rec.ExpiredAt(now, int64(s.expiry/time.Second))
}

func (s *Service) storeFailure(op, externalID string, err error) error {
	s.log.Error("link_store_error", "op", op, "external_id", externalID, "error", err.Error())
	return err
}
