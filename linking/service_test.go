package linking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/quailyquaily/linkkeeper/gameapi"
	"github.com/quailyquaily/linkkeeper/linkstore"
)

type fakeResolver struct {
	ids   map[string]int64
	err   error
	calls int
}

func (r *fakeResolver) ResolveSubjectID(_ context.Context, q string) (int64, error) {
	r.calls++
	if r.err != nil {
		return 0, r.err
	}
	id, ok := r.ids[q]
	if !ok {
		return 0, gameapi.ErrNotFound
	}
	return id, nil
}

type fakeProfiles struct {
	mu    sync.Mutex
	texts map[int64]string
	err   error
}

func (p *fakeProfiles) FetchProfileText(_ context.Context, id int64) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	return p.texts[id], nil
}

func (p *fakeProfiles) set(id int64, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.texts[id] = text
}

type recorder struct {
	mu       sync.Mutex
	grants   []string
	revokes  []string
	messages []string
	err      error
}

func (r *recorder) GrantRole(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.grants = append(r.grants, id)
	return r.err
}

func (r *recorder) RevokeRole(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revokes = append(r.revokes, id)
	return r.err
}

func (r *recorder) Notify(_ context.Context, id, msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, id+": "+msg)
	return r.err
}

type harness struct {
	svc      *Service
	store    *linkstore.MemStore
	resolver *fakeResolver
	profiles *fakeProfiles
	side     *recorder
	now      time.Time
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		store: linkstore.NewMemStore(),
		resolver: &fakeResolver{ids: map[string]int64{
			"builderman": 42,
			"42":         42,
			"other":      77,
		}},
		profiles: &fakeProfiles{texts: map[int64]string{}},
		side:     &recorder{},
		now:      time.Unix(1_700_000_000, 0),
	}
	h.store.Now = func() time.Time { return h.now }
	h.svc = NewService(Deps{
		Store:    h.store,
		Resolver: h.resolver,
		Profiles: h.profiles,
		Notifier: h.side,
		Roles:    h.side,
		Now:      func() time.Time { return h.now },
	}, cfg)
	return h
}

func (h *harness) record(t *testing.T, id string) linkstore.Record {
	t.Helper()
	rec, ok, err := h.store.Get(context.Background(), id)
	if err != nil || !ok {
		t.Fatalf("Get(%q) = ok %v err %v", id, ok, err)
	}
	return rec
}

func TestInitiateTwiceIsAlreadyPending(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	first, err := h.svc.InitiateLink(ctx, "u1", "builderman")
	if err != nil {
		t.Fatalf("InitiateLink() error = %v", err)
	}
	_, err = h.svc.InitiateLink(ctx, "u1", "other")
	if !errors.Is(err, ErrAlreadyPending) {
		t.Fatalf("second InitiateLink() error = %v, want ErrAlreadyPending", err)
	}

	rec := h.record(t, "u1")
	if rec.SubjectID != 42 || rec.ChallengeCode != first.Code {
		t.Fatalf("record changed after rejected initiation: %+v", rec)
	}
	if h.resolver.calls != 1 {
		t.Fatalf("resolver calls = %d, want 1", h.resolver.calls)
	}
}

func TestInitiateReplacesExpiredPending(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	if _, err := h.svc.InitiateLink(ctx, "u1", "builderman"); err != nil {
		t.Fatalf("InitiateLink() error = %v", err)
	}
	h.now = h.now.Add(901 * time.Second)
	second, err := h.svc.InitiateLink(ctx, "u1", "other")
	if err != nil {
		t.Fatalf("InitiateLink() after expiry error = %v", err)
	}
	if second.SubjectID != 77 {
		t.Fatalf("SubjectID = %d, want 77", second.SubjectID)
	}
	rec := h.record(t, "u1")
	if rec.CreatedAt != h.now.Unix() || rec.SubjectID != 77 || rec.ChallengeCode != second.Code {
		t.Fatalf("expired record not replaced: %+v", rec)
	}
}

func TestInitiateErrors(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	if _, err := h.svc.InitiateLink(ctx, "u1", "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("InitiateLink(ghost) error = %v, want ErrNotFound", err)
	}

	h.resolver.err = &gameapi.UpstreamError{Op: "resolve_username", Err: context.DeadlineExceeded}
	_, err := h.svc.InitiateLink(ctx, "u2", "builderman")
	if !IsTransient(err) {
		t.Fatalf("InitiateLink() error = %v, want transient", err)
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatalf("upstream failure reported as not found")
	}
	if _, ok, _ := h.store.Get(ctx, "u2"); ok {
		t.Fatalf("record created despite upstream failure")
	}
}

func TestInitiateForVerifiedIsAlreadyLinked(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	if _, err := h.svc.AdminManualLink(ctx, "u1", "builderman"); err != nil {
		t.Fatalf("AdminManualLink() error = %v", err)
	}
	_, err := h.svc.InitiateLink(ctx, "u1", "other")
	var ale *AlreadyLinkedError
	if !errors.As(err, &ale) || ale.SubjectID != 42 {
		t.Fatalf("InitiateLink() error = %v, want AlreadyLinkedError{42}", err)
	}
}

func TestLinkScenario(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	ch, err := h.svc.InitiateLink(ctx, "u1", "42")
	if err != nil {
		t.Fatalf("InitiateLink() error = %v", err)
	}
	if ch.SubjectID != 42 {
		t.Fatalf("SubjectID = %d, want 42", ch.SubjectID)
	}

	st, err := h.svc.Status(ctx, "u1")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st.State != StatePending || len(st.Code) != 6 || st.Code != ch.Code {
		t.Fatalf("Status() = %+v, want pending with 6-char code %q", st, ch.Code)
	}
	if !st.ExpiresAt.Equal(h.now.Add(900 * time.Second)) {
		t.Fatalf("ExpiresAt = %v", st.ExpiresAt)
	}

	// Pin the code so the scenario matches a known profile text.
	rec := h.record(t, "u1")
	rec.ChallengeCode = "ABC123"
	if err := h.store.Upsert(ctx, rec); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	h.profiles.set(42, "bio: ABC123")

	res, err := h.svc.CheckVerification(ctx, "u1")
	if err != nil {
		t.Fatalf("CheckVerification() error = %v", err)
	}
	if res.State != StateVerified || res.SubjectID != 42 {
		t.Fatalf("CheckVerification() = %+v, want verified 42", res)
	}
	if len(h.side.grants) != 1 || len(h.side.messages) != 1 {
		t.Fatalf("side effects grants=%v messages=%v", h.side.grants, h.side.messages)
	}

	rec = h.record(t, "u1")
	if !rec.Verified || rec.ChallengeCode != "ABC123" || rec.Attempts != 0 {
		t.Fatalf("record after verify = %+v", rec)
	}

	// A second check is a read-only answer.
	h.profiles.set(42, "nothing here")
	res, err = h.svc.CheckVerification(ctx, "u1")
	if err != nil || res.State != StateVerified || res.SubjectID != 42 {
		t.Fatalf("repeat CheckVerification() = %+v, %v", res, err)
	}
	if got := h.record(t, "u1"); got != rec {
		t.Fatalf("repeat check mutated record: %+v -> %+v", rec, got)
	}
	if len(h.side.grants) != 1 {
		t.Fatalf("role granted twice: %v", h.side.grants)
	}

	st, _ = h.svc.Status(ctx, "u1")
	if st.State != StateVerified || st.SubjectID != 42 {
		t.Fatalf("Status() = %+v, want verified 42", st)
	}
}

func TestCheckMismatchCountsAttempt(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	if _, err := h.svc.InitiateLink(ctx, "u1", "builderman"); err != nil {
		t.Fatalf("InitiateLink() error = %v", err)
	}
	code := h.record(t, "u1").ChallengeCode
	h.profiles.set(42, "bio: "+code[:5]+" almost")

	h.now = h.now.Add(30 * time.Second)
	res, err := h.svc.CheckVerification(ctx, "u1")
	if err != nil {
		t.Fatalf("CheckVerification() error = %v", err)
	}
	if res.State != StatePending || res.Attempts != 1 {
		t.Fatalf("CheckVerification() = %+v, want pending attempts=1", res)
	}
	rec := h.record(t, "u1")
	if rec.Verified || rec.Attempts != 1 || rec.LastAttemptAt != h.now.Unix() {
		t.Fatalf("record after mismatch = %+v", rec)
	}
	if len(h.side.grants) != 0 {
		t.Fatalf("role granted on mismatch")
	}
}

func TestCheckUpstreamFailureDoesNotCountAttempt(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	if _, err := h.svc.InitiateLink(ctx, "u1", "builderman"); err != nil {
		t.Fatalf("InitiateLink() error = %v", err)
	}
	h.profiles.err = gameapi.ErrNotFound

	_, err := h.svc.CheckVerification(ctx, "u1")
	if !IsTransient(err) || errors.Is(err, ErrNotFound) {
		t.Fatalf("CheckVerification() error = %v, want transient", err)
	}
	if rec := h.record(t, "u1"); rec.Attempts != 0 || rec.Verified {
		t.Fatalf("record after upstream failure = %+v", rec)
	}
}

func TestCheckCooldown(t *testing.T) {
	h := newHarness(t, Config{CheckCooldown: time.Minute})
	ctx := context.Background()
	if _, err := h.svc.InitiateLink(ctx, "u1", "builderman"); err != nil {
		t.Fatalf("InitiateLink() error = %v", err)
	}
	if _, err := h.svc.CheckVerification(ctx, "u1"); err != nil {
		t.Fatalf("first CheckVerification() error = %v", err)
	}
	h.now = h.now.Add(10 * time.Second)
	if _, err := h.svc.CheckVerification(ctx, "u1"); !errors.Is(err, ErrCheckTooSoon) {
		t.Fatalf("CheckVerification() error = %v, want ErrCheckTooSoon", err)
	}
	h.now = h.now.Add(time.Minute)
	res, err := h.svc.CheckVerification(ctx, "u1")
	if err != nil || res.Attempts != 2 {
		t.Fatalf("CheckVerification() = %+v, %v; want attempts=2", res, err)
	}
}

func TestCheckAbsentOrExpired(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	if _, err := h.svc.CheckVerification(ctx, "nobody"); !errors.Is(err, ErrNotLinked) {
		t.Fatalf("CheckVerification(absent) error = %v, want ErrNotLinked", err)
	}
	if _, err := h.svc.InitiateLink(ctx, "u1", "builderman"); err != nil {
		t.Fatalf("InitiateLink() error = %v", err)
	}
	h.now = h.now.Add(901 * time.Second)
	if _, err := h.svc.CheckVerification(ctx, "u1"); !errors.Is(err, ErrNotLinked) {
		t.Fatalf("CheckVerification(expired) error = %v, want ErrNotLinked", err)
	}
	if st, _ := h.svc.Status(ctx, "u1"); st.State != StateAbsent {
		t.Fatalf("Status(expired) = %+v, want absent", st)
	}
}

func TestTwoPendingForSameSubjectOnlyOneVerifies(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	a, err := h.svc.InitiateLink(ctx, "a", "builderman")
	if err != nil {
		t.Fatalf("InitiateLink(a) error = %v", err)
	}
	b, err := h.svc.InitiateLink(ctx, "b", "builderman")
	if err != nil {
		t.Fatalf("InitiateLink(b) error = %v", err)
	}

	h.profiles.set(42, a.Code+" "+b.Code)
	if res, err := h.svc.CheckVerification(ctx, "a"); err != nil || res.State != StateVerified {
		t.Fatalf("CheckVerification(a) = %+v, %v", res, err)
	}
	if _, err := h.svc.CheckVerification(ctx, "b"); !errors.Is(err, ErrSubjectTaken) {
		t.Fatalf("CheckVerification(b) error = %v, want ErrSubjectTaken", err)
	}
	if rec := h.record(t, "b"); rec.Verified {
		t.Fatalf("b verified despite subject taken")
	}
	if _, err := h.svc.InitiateLink(ctx, "c", "builderman"); !errors.Is(err, ErrSubjectTaken) {
		t.Fatalf("InitiateLink(c) error = %v, want ErrSubjectTaken", err)
	}
}

func TestConcurrentChecksConverge(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	ch, err := h.svc.InitiateLink(ctx, "u1", "builderman")
	if err != nil {
		t.Fatalf("InitiateLink() error = %v", err)
	}
	h.profiles.set(42, ch.Code)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.svc.CheckVerification(ctx, "u1")
			if err == nil && res.State != StateVerified {
				err = errors.New("not verified")
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent CheckVerification() error = %v", err)
		}
	}
	if rec := h.record(t, "u1"); !rec.Verified || rec.Attempts != 0 {
		t.Fatalf("record = %+v", rec)
	}
}

func TestAdminManualLink(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	res, err := h.svc.AdminManualLink(ctx, "a", "builderman")
	if err != nil || res.State != StateVerified || res.SubjectID != 42 {
		t.Fatalf("AdminManualLink(a) = %+v, %v", res, err)
	}
	if rec := h.record(t, "a"); rec.ChallengeCode != ManualCode || !rec.Verified {
		t.Fatalf("manual record = %+v", rec)
	}

	_, err = h.svc.AdminManualLink(ctx, "b", "42")
	if !errors.Is(err, ErrSubjectTaken) {
		t.Fatalf("AdminManualLink(b) error = %v, want ErrSubjectTaken", err)
	}
	if _, ok, _ := h.store.Get(ctx, "b"); ok {
		t.Fatalf("b created despite subject taken")
	}
	if rec := h.record(t, "a"); !rec.Verified {
		t.Fatalf("a lost verification")
	}

	_, err = h.svc.AdminManualLink(ctx, "a", "other")
	var ale *AlreadyLinkedError
	if !errors.As(err, &ale) || ale.SubjectID != 42 || !errors.Is(err, ErrAlreadyLinked) {
		t.Fatalf("AdminManualLink(a again) error = %v, want AlreadyLinkedError{42}", err)
	}
}

func TestAdminManualLinkOverridesPending(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	if _, err := h.svc.InitiateLink(ctx, "a", "other"); err != nil {
		t.Fatalf("InitiateLink() error = %v", err)
	}
	res, err := h.svc.AdminManualLink(ctx, "a", "builderman")
	if err != nil || res.SubjectID != 42 {
		t.Fatalf("AdminManualLink() = %+v, %v", res, err)
	}
	if rec := h.record(t, "a"); !rec.Verified || rec.SubjectID != 42 {
		t.Fatalf("record = %+v", rec)
	}
}

func TestUnlinkIsIdempotent(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	if _, err := h.svc.AdminManualLink(ctx, "u1", "builderman"); err != nil {
		t.Fatalf("AdminManualLink() error = %v", err)
	}
	if err := h.svc.Unlink(ctx, "u1"); err != nil {
		t.Fatalf("Unlink() error = %v", err)
	}
	if err := h.svc.Unlink(ctx, "u1"); !errors.Is(err, ErrNotLinked) {
		t.Fatalf("second Unlink() error = %v, want ErrNotLinked", err)
	}
	if st, _ := h.svc.Status(ctx, "u1"); st.State != StateAbsent {
		t.Fatalf("Status() after unlink = %+v", st)
	}
	if len(h.side.revokes) != 1 {
		t.Fatalf("revokes = %v, want one", h.side.revokes)
	}
}

func TestUnlinkPendingIsNotLinked(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	if _, err := h.svc.InitiateLink(ctx, "u1", "builderman"); err != nil {
		t.Fatalf("InitiateLink() error = %v", err)
	}
	if err := h.svc.Unlink(ctx, "u1"); !errors.Is(err, ErrNotLinked) {
		t.Fatalf("Unlink(pending) error = %v, want ErrNotLinked", err)
	}
	if _, ok, _ := h.store.Get(ctx, "u1"); !ok {
		t.Fatalf("pending record removed by rejected unlink")
	}
}

func TestSideEffectFailuresDoNotRollBack(t *testing.T) {
	h := newHarness(t, Config{})
	h.side.err = errors.New("discord down")
	ctx := context.Background()

	if _, err := h.svc.AdminManualLink(ctx, "u1", "builderman"); err != nil {
		t.Fatalf("AdminManualLink() error = %v", err)
	}
	if rec := h.record(t, "u1"); !rec.Verified {
		t.Fatalf("verification rolled back")
	}
	if err := h.svc.Unlink(ctx, "u1"); err != nil {
		t.Fatalf("Unlink() error = %v", err)
	}
	if _, ok, _ := h.store.Get(ctx, "u1"); ok {
		t.Fatalf("unlink rolled back")
	}
}

type brokenStore struct {
	*linkstore.MemStore
}

func (brokenStore) Get(context.Context, string) (linkstore.Record, bool, error) {
	return linkstore.Record{}, false, &linkstore.StoreError{Op: "get", Backend: "test", Err: errors.New("io")}
}

func TestStoreFailureIsTransient(t *testing.T) {
	svc := NewService(Deps{
		Store:    brokenStore{linkstore.NewMemStore()},
		Resolver: &fakeResolver{},
		Profiles: &fakeProfiles{},
	}, Config{})
	ctx := context.Background()

	if _, err := svc.InitiateLink(ctx, "u1", "x"); !IsTransient(err) {
		t.Fatalf("InitiateLink() error = %v, want transient", err)
	}
	if _, err := svc.CheckVerification(ctx, "u1"); !IsTransient(err) {
		t.Fatalf("CheckVerification() error = %v, want transient", err)
	}
	if err := svc.Unlink(ctx, "u1"); !IsTransient(err) {
		t.Fatalf("Unlink() error = %v, want transient", err)
	}
	if IsTransient(ErrNotLinked) {
		t.Fatalf("IsTransient(ErrNotLinked) = true")
	}
}

func TestModerators(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	if err := h.svc.GrantModerator(ctx, "m1", "owner"); err != nil {
		t.Fatalf("GrantModerator() error = %v", err)
	}
	ok, err := h.svc.IsModerator(ctx, "m1")
	if err != nil || !ok {
		t.Fatalf("IsModerator() = %v, %v", ok, err)
	}
	mods, err := h.svc.ListModerators(ctx)
	if err != nil || len(mods) != 1 || mods[0].GrantedBy != "owner" {
		t.Fatalf("ListModerators() = %+v, %v", mods, err)
	}
	removed, err := h.svc.RevokeModerator(ctx, "m1")
	if err != nil || !removed {
		t.Fatalf("RevokeModerator() = %v, %v", removed, err)
	}
}

func TestChallengeCodeShape(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		code, err := newChallengeCode()
		if err != nil {
			t.Fatalf("newChallengeCode() error = %v", err)
		}
		if len(code) != 6 {
			t.Fatalf("code %q length = %d", code, len(code))
		}
		for _, r := range code {
			if !(r >= '0' && r <= '9' || r >= 'A' && r <= 'F') {
				t.Fatalf("code %q has non-hex rune %q", code, r)
			}
		}
		seen[code] = true
	}
	if len(seen) < 40 {
		t.Fatalf("only %d distinct codes out of 50", len(seen))
	}
}

func TestInitiateRejectsBlankExternalID(t *testing.T) {
	h := newHarness(t, Config{})
	for _, id := range []string{"", "   "} {
		_, err := h.svc.InitiateLink(context.Background(), id, "builderman")
		if err == nil || IsTransient(err) {
			t.Fatalf("InitiateLink(%q) error = %v, want non-transient rejection", id, err)
		}
	}
	if h.resolver.calls != 0 {
		t.Fatalf("resolver calls = %d, want 0", h.resolver.calls)
	}
}
