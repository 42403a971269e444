package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"identity-service/internal/events"
	"identity-service/internal/model"
	"identity-service/internal/repository/redis"
	"identity-service/internal/repository/scylla"
)

// -------------------- FAKES --------------------

type memStore struct {
	mu     sync.Mutex
	data   map[string][]byte
	ttls   map[string]time.Duration
	getErr error
}

func newMemStore() *memStore {
	return &memStore{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (s *memStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	v, ok := s.data[key]
	if !ok {
		return nil, redis.ErrCacheMiss
	}
	return v, nil
}

func (s *memStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	s.ttls[key] = ttl
	return nil
}

func (s *memStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.data, k)
		delete(s.ttls, k)
	}
	return nil
}

func (s *memStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[key]
	return ok, nil
}

func (s *memStore) ScanPrefix(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (s *memStore) has(key string) bool {
	ok, _ := s.Exists(context.Background(), key)
	return ok
}

type memEmployers struct {
	mu        sync.Mutex
	employers map[string]*model.Employer
	gets      int
	err       error
}

func (r *memEmployers) GetEmployerByEmail(_ context.Context, email string) (*model.Employer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gets++
	if r.err != nil {
		return nil, r.err
	}
	emp, ok := r.employers[email]
	if !ok {
		return nil, scylla.ErrEmployerNotFound
	}
	cp := *emp
	return &cp, nil
}

func (r *memEmployers) UpdateActiveStatus(_ context.Context, email string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	emp, ok := r.employers[email]
	if !ok {
		return scylla.ErrEmployerNotFound
	}
	emp.ActiveStatus = active
	return nil
}

func (r *memEmployers) UpsertEmployer(_ context.Context, emp *model.Employer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *emp
	r.employers[emp.Email] = &cp
	return nil
}

func (r *memEmployers) HealthCheck(context.Context) error { return nil }

func (r *memEmployers) active(email string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.employers[email].ActiveStatus
}

type seqIssuer struct{ n int }

func (i *seqIssuer) IssuePair(emp *model.Employer) (string, string, error) {
	i.n++
	return fmt.Sprintf("access-%d-%s", i.n, emp.Email), fmt.Sprintf("refresh-%d", i.n), nil
}

// VerifySubject accepts tokens minted by IssuePair.
func (i *seqIssuer) VerifySubject(accessToken string) (string, error) {
	parts := strings.SplitN(accessToken, "-", 3)
	if len(parts) != 3 || parts[0] != "access" {
		return "", errors.New("not an access token")
	}
	return parts[2], nil
}

type fakeLimiter struct {
	blocked  bool
	failures int
	resets   int
}

func (l *fakeLimiter) Blocked(context.Context, string) (bool, time.Duration, error) {
	return l.blocked, time.Minute, nil
}

func (l *fakeLimiter) RecordFailure(context.Context, string) (int, error) {
	l.failures++
	return l.failures, nil
}

func (l *fakeLimiter) Reset(context.Context, string) error {
	l.resets++
	return nil
}

type capturePublisher struct {
	mu     sync.Mutex
	events []model.SessionEvent
}

func (p *capturePublisher) Publish(_ context.Context, evt model.SessionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *capturePublisher) types() []model.SessionEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.SessionEventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.EventType
	}
	return out
}

// -------------------- FIXTURE --------------------

const testEmail = "e@x.com"

type fixture struct {
	mgr       *SessionManager
	store     *memStore
	employers *memEmployers
	issuer    *seqIssuer
	limiter   *fakeLimiter
	events    *capturePublisher
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: newMemStore(),
		employers: &memEmployers{employers: map[string]*model.Employer{
			testEmail: {
				EmployerID: 11,
				BranchID:   3,
				Email:      testEmail,
				FirstName:  "Nimal",
				Role:       model.RoleCashier,
				Pin:        4321,
			},
		}},
		issuer:  &seqIssuer{},
		limiter: &fakeLimiter{},
		events:  &capturePublisher{},
		now:     time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
	}
	f.mgr = NewSessionManager(f.store, f.employers, f.issuer, f.limiter, f.events, nil, zap.NewNop(), 0)
	f.mgr.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) login(t *testing.T) *model.SessionView {
	t.Helper()
	view, err := f.mgr.AuthenticateFromCache(context.Background(), testEmail, 4321)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	return view
}

func (f *fixture) cached(t *testing.T) *model.CachedSession {
	t.Helper()
	s, err := f.mgr.GetCachedSession(context.Background(), testEmail)
	if err != nil {
		t.Fatalf("GetCachedSession: %v", err)
	}
	return s
}

// -------------------- TESTS --------------------

func TestCacheSessionWritesBothKeys(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.mgr.CacheSession(ctx, " E@X.com ", "tok-a", "tok-r")
	if err != nil {
		t.Fatalf("CacheSession: %v", err)
	}
	if s.Email != testEmail || s.EmployerID != 11 || s.Pin != 4321 {
		t.Fatalf("session = %+v", s)
	}
	if want := f.now.Add(24 * time.Hour).UnixMilli(); s.ExpiresAt != want {
		t.Fatalf("expiresAt = %d, want %d", s.ExpiresAt, want)
	}
	if f.store.ttls[redis.SessionKey(testEmail)] != 24*time.Hour {
		t.Fatalf("session ttl = %v", f.store.ttls[redis.SessionKey(testEmail)])
	}
	if got := string(f.store.data[redis.TokenKey("tok-a")]); got != testEmail {
		t.Fatalf("token index = %q", got)
	}
	if f.store.ttls[redis.TokenKey("tok-a")] != 24*time.Hour {
		t.Fatal("token index must carry the session ttl")
	}
}

func TestCacheSessionUnknownEmployer(t *testing.T) {
	f := newFixture(t)
	_, err := f.mgr.CacheSession(context.Background(), "ghost@x.com", "a", "r")
	if !errors.Is(err, ErrEmployerNotFound) {
		t.Fatalf("err = %v", err)
	}
	if len(f.store.data) != 0 {
		t.Fatal("nothing should be cached for an unknown employer")
	}
}

func TestGetCachedSessionDegradesToAbsent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if s, err := f.mgr.GetCachedSession(ctx, testEmail); s != nil || err != nil {
		t.Fatalf("miss = %v, %v", s, err)
	}

	f.store.data[redis.SessionKey(testEmail)] = []byte("not json")
	if s, err := f.mgr.GetCachedSession(ctx, testEmail); s != nil || err != nil {
		t.Fatalf("garbage = %v, %v", s, err)
	}

	f.store.getErr = errors.New("connection refused")
	if s, err := f.mgr.GetCachedSession(ctx, testEmail); s != nil || err != nil {
		t.Fatalf("store error = %v, %v", s, err)
	}
}

func TestGetCachedSessionReadsLegacyPayload(t *testing.T) {
	f := newFixture(t)
	legacy := fmt.Sprintf(`["com.pharmacy.CachedSession", {
		"employerId": "11", "employerEmail": %q, "pin": "4321", "role": "manager",
		"activeStatus": "true", "accessToken": "old", "expiresAt": "%d"}]`,
		testEmail, f.now.Add(time.Hour).UnixMilli())
	f.store.data[redis.SessionKey(testEmail)] = []byte(legacy)

	s := f.cached(t)
	if s == nil || s.EmployerID != 11 || s.Role != model.RoleManager || !s.ActiveStatus {
		t.Fatalf("legacy decode = %+v", s)
	}
	if !f.mgr.IsUsable(s) {
		t.Fatal("legacy session should be usable")
	}
}

func TestIsUsable(t *testing.T) {
	f := newFixture(t)
	now := f.now.UnixMilli()
	cases := []struct {
		name string
		s    *model.CachedSession
		want bool
	}{
		{"nil", nil, false},
		{"live", &model.CachedSession{ExpiresAt: now + 1}, true},
		{"expires now", &model.CachedSession{ExpiresAt: now}, false},
		{"expired", &model.CachedSession{ExpiresAt: now - 1}, false},
		{"revoked", &model.CachedSession{ExpiresAt: now + 1000, Revoked: true}, false},
		{"expired and revoked", &model.CachedSession{ExpiresAt: now - 1, Revoked: true}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := f.mgr.IsUsable(tc.s); got != tc.want {
				t.Fatalf("IsUsable = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestLoginFromStore(t *testing.T) {
	f := newFixture(t)

	view := f.login(t)
	if view.AuthenticationResponse.AccessToken != "access-1-"+testEmail {
		t.Fatalf("access token = %q", view.AuthenticationResponse.AccessToken)
	}
	if view.EmployerDetails.Role != model.RoleCashier || len(view.EmployerDetails.Permissions) != 4 {
		t.Fatalf("details = %+v", view.EmployerDetails)
	}
	if !f.employers.active(testEmail) {
		t.Fatal("persistent active flag should be set")
	}
	if f.limiter.resets != 1 {
		t.Fatalf("limiter resets = %d", f.limiter.resets)
	}
	s := f.cached(t)
	if s == nil || s.LoginTimestamp != f.now.UnixMilli() || !s.ActiveStatus {
		t.Fatalf("cached = %+v", s)
	}
}

func TestWrongPINWithoutCacheFails(t *testing.T) {
	f := newFixture(t)

	_, err := f.mgr.AuthenticateFromCache(context.Background(), testEmail, 1111)
	if !errors.Is(err, ErrInvalidPIN) || !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("err = %v", err)
	}
	if f.cached(t) != nil {
		t.Fatal("a failed login must not cache a session")
	}
	if f.limiter.failures != 1 {
		t.Fatalf("failures = %d", f.limiter.failures)
	}
	if f.employers.active(testEmail) {
		t.Fatal("failed login must not activate the employer")
	}
}

func TestTemporaryLogoutKeepsSessionUsable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.login(t)

	f.now = f.now.Add(2 * time.Hour)
	if err := f.mgr.TemporaryLogout(ctx, testEmail); err != nil {
		t.Fatalf("TemporaryLogout: %v", err)
	}
	if f.employers.active(testEmail) {
		t.Fatal("persistent flag should be false")
	}
	s := f.cached(t)
	if s == nil || s.ActiveStatus {
		t.Fatalf("cached = %+v", s)
	}
	if want := f.now.Add(24 * time.Hour).UnixMilli(); s.ExpiresAt != want {
		t.Fatalf("expiresAt = %d, want %d", s.ExpiresAt, want)
	}

	// the cached branch does not look at the PIN
	view, err := f.mgr.AuthenticateFromCache(ctx, testEmail, 9999)
	if err != nil {
		t.Fatalf("re-entry: %v", err)
	}
	if view.EmployerDetails.ActiveStatus {
		t.Fatal("view should reflect the inactive snapshot")
	}
	if f.employers.active(testEmail) {
		t.Fatal("cache-hit login must not touch the persistent flag")
	}
	if f.issuer.n != 1 {
		t.Fatalf("tokens issued %d times, want 1", f.issuer.n)
	}
}

func TestTemporaryLogoutUnknownEmployer(t *testing.T) {
	f := newFixture(t)
	if err := f.mgr.TemporaryLogout(context.Background(), "ghost@x.com"); !errors.Is(err, ErrEmployerNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestPermanentLogoutThenLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.login(t)

	if err := f.mgr.PermanentLogout(ctx, testEmail); err != nil {
		t.Fatalf("PermanentLogout: %v", err)
	}
	if f.store.has(redis.SessionKey(testEmail)) || f.store.has(redis.TokenKey(first.AuthenticationResponse.AccessToken)) {
		t.Fatal("session and token index should be gone")
	}
	if f.employers.active(testEmail) {
		t.Fatal("persistent flag should be false")
	}

	if _, err := f.mgr.AuthenticateFromCache(ctx, testEmail, 9999); !errors.Is(err, ErrInvalidPIN) {
		t.Fatalf("wrong PIN after logout: %v", err)
	}

	f.now = f.now.Add(time.Minute)
	view, err := f.mgr.AuthenticateFromCache(ctx, testEmail, 4321)
	if err != nil {
		t.Fatalf("login after logout: %v", err)
	}
	if view.AuthenticationResponse.AccessToken == first.AuthenticationResponse.AccessToken {
		t.Fatal("expected a fresh token pair")
	}
	if s := f.cached(t); s.LoginTimestamp != f.now.UnixMilli() {
		t.Fatalf("loginTimestamp = %d, want %d", s.LoginTimestamp, f.now.UnixMilli())
	}
}

func TestPermanentLogoutIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.login(t)

	for i := 0; i < 2; i++ {
		if err := f.mgr.PermanentLogout(ctx, testEmail); err != nil {
			t.Fatalf("call %d: %v", i+1, err)
		}
	}
	if len(f.store.data) != 0 {
		t.Fatalf("leftover keys: %v", f.store.data)
	}
	if f.employers.active(testEmail) {
		t.Fatal("persistent flag should be false")
	}
}

func TestPermanentLogoutRemovesUndecodableEntry(t *testing.T) {
	f := newFixture(t)
	f.store.data[redis.SessionKey(testEmail)] = []byte("{broken")
	if err := f.mgr.PermanentLogout(context.Background(), testEmail); err != nil {
		t.Fatalf("PermanentLogout: %v", err)
	}
	if f.store.has(redis.SessionKey(testEmail)) {
		t.Fatal("undecodable entry should be deleted")
	}
}

func TestExpiredSessionDoesNotFallThrough(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	gets := f.employers.gets

	f.now = f.now.Add(25 * time.Hour)
	_, err := f.mgr.AuthenticateFromCache(context.Background(), testEmail, 4321)
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("err = %v", err)
	}
	if f.employers.gets != gets {
		t.Fatal("expired session must not fall back to the identity store")
	}
}

func TestRevokedSessionIsRefused(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	s := f.cached(t)
	s.Revoked = true
	data, _ := model.EncodeSession(s)
	f.store.data[redis.SessionKey(testEmail)] = data

	_, err := f.mgr.AuthenticateFromCache(context.Background(), testEmail, 4321)
	if !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("err = %v", err)
	}
	view, err := f.mgr.GetSessionView(context.Background(), testEmail)
	if err != nil || !view.Revoked {
		t.Fatalf("view = %+v, %v", view, err)
	}
}

func TestCacheHitTouchesActivity(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	f.now = f.now.Add(30 * time.Minute)
	if _, err := f.mgr.AuthenticateFromCache(context.Background(), testEmail, 0); err != nil {
		t.Fatalf("cache hit: %v", err)
	}
	s := f.cached(t)
	if s.LastActivityTimestamp != f.now.UnixMilli() {
		t.Fatalf("lastActivity = %d", s.LastActivityTimestamp)
	}
	if s.ExpiresAt != f.now.Add(24*time.Hour).UnixMilli() {
		t.Fatal("rewrite should slide expiresAt")
	}
}

func TestPINLockout(t *testing.T) {
	f := newFixture(t)
	f.limiter.blocked = true

	_, err := f.mgr.AuthenticateFromCache(context.Background(), testEmail, 4321)
	if !errors.Is(err, ErrPINLocked) || !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("err = %v", err)
	}
	if f.employers.gets != 0 {
		t.Fatal("a locked employer must not reach the identity store")
	}
}

func TestIdentityStoreUnavailable(t *testing.T) {
	f := newFixture(t)
	f.employers.err = errors.New("no hosts available")

	_, err := f.mgr.AuthenticateFromCache(context.Background(), testEmail, 4321)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("err = %v", err)
	}
}

func TestUpdateLastActivity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.mgr.UpdateLastActivity(ctx, testEmail); err != nil {
		t.Fatalf("absent session: %v", err)
	}
	if len(f.store.data) != 0 {
		t.Fatal("touch must not create a session")
	}

	f.login(t)
	f.now = f.now.Add(time.Hour)
	if err := f.mgr.UpdateLastActivity(ctx, testEmail); err != nil {
		t.Fatalf("UpdateLastActivity: %v", err)
	}
	s := f.cached(t)
	if s.LastActivityTimestamp != f.now.UnixMilli() || s.ExpiresAt != f.now.Add(24*time.Hour).UnixMilli() {
		t.Fatalf("session = %+v", s)
	}
}

func TestListAndCheckSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.employers.employers["a@x.com"] = &model.Employer{Email: "a@x.com", Pin: 1}
	f.login(t)
	if _, err := f.mgr.CacheSession(ctx, "a@x.com", "t2", "r2"); err != nil {
		t.Fatalf("CacheSession: %v", err)
	}
	f.store.data[redis.SessionKey("junk@x.com")] = []byte("???")

	sessions, err := f.mgr.ListCachedSessions(ctx)
	if err != nil {
		t.Fatalf("ListCachedSessions: %v", err)
	}
	if len(sessions) != 2 || sessions[0].Email != "a@x.com" || sessions[1].Email != testEmail {
		t.Fatalf("sessions = %+v", sessions)
	}

	cached, err := f.mgr.IsSessionCached(ctx, testEmail)
	if err != nil || !cached {
		t.Fatalf("IsSessionCached = %v, %v", cached, err)
	}
	f.now = f.now.Add(48 * time.Hour)
	valid, err := f.mgr.IsSessionValid(ctx, testEmail)
	if err != nil || valid {
		t.Fatalf("IsSessionValid = %v, %v", valid, err)
	}
}

func TestGetSessionViewMissing(t *testing.T) {
	f := newFixture(t)
	if _, err := f.mgr.GetSessionView(context.Background(), testEmail); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestInvalidEmailRejected(t *testing.T) {
	f := newFixture(t)
	if _, err := f.mgr.AuthenticateFromCache(context.Background(), "  ", 1); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v", err)
	}
	if err := f.mgr.PermanentLogout(context.Background(), "a*@x.com"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v", err)
	}
}

func TestLifecycleEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.login(t)
	_ = f.mgr.TemporaryLogout(ctx, testEmail)
	_, _ = f.mgr.AuthenticateFromCache(ctx, testEmail, 0)
	_ = f.mgr.PermanentLogout(ctx, testEmail)
	_, _ = f.mgr.AuthenticateFromCache(ctx, testEmail, 0)

	want := []model.SessionEventType{
		model.EventSessionCached,
		model.EventStoreAuthenticated,
		model.EventTemporaryLogout,
		model.EventCacheAuthenticated,
		model.EventPermanentLogout,
		model.EventAuthenticationDenied,
	}
	got := f.events.types()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d = %s, want %s", i, got[i], want[i])
		}
	}
	if e := f.events.events[0]; e.EmployerEmail != testEmail || e.BranchID != 3 || e.Role != "CASHIER" {
		t.Fatalf("event = %+v", e)
	}
}

func TestCleanupExpiredSessionsIsNoop(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	f.mgr.CleanupExpiredSessions(context.Background())
	if f.cached(t) == nil {
		t.Fatal("cleanup must not remove sessions")
	}
}

type blockingSink struct {
	release chan struct{}
}

func (s *blockingSink) Name() string { return "blocking" }

func (s *blockingSink) Write(ctx context.Context, _ model.SessionEvent) error {
	select {
	case <-s.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestStalledEventSinkDoesNotDelayOperations(t *testing.T) {
	f := newFixture(t)
	sink := &blockingSink{release: make(chan struct{})}
	publisher := events.NewFanOut(zap.NewNop(), nil, 10*time.Second, sink)
	defer publisher.Close()
	defer close(sink.release)

	f.mgr = NewSessionManager(f.store, f.employers, f.issuer, f.limiter, publisher, nil, zap.NewNop(), 0)
	ctx := context.Background()

	start := time.Now()
	f.login(t)
	if err := f.mgr.TemporaryLogout(ctx, testEmail); err != nil {
		t.Fatalf("TemporaryLogout: %v", err)
	}
	if err := f.mgr.PermanentLogout(ctx, testEmail); err != nil {
		t.Fatalf("PermanentLogout: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("session operations took %v behind a stalled sink", elapsed)
	}
}

func TestCacheSessionDropsSupersededTokenIndex(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.mgr.CacheSession(ctx, testEmail, "old-access", "old-refresh"); err != nil {
		t.Fatalf("first CacheSession: %v", err)
	}
	if _, err := f.mgr.CacheSession(ctx, testEmail, "new-access", "new-refresh"); err != nil {
		t.Fatalf("second CacheSession: %v", err)
	}
	if f.store.has(redis.TokenKey("old-access")) {
		t.Fatal("superseded token index entry still present")
	}
	if !f.store.has(redis.TokenKey("new-access")) {
		t.Fatal("current token index entry missing")
	}

	// same pair again keeps its own index entry
	if _, err := f.mgr.CacheSession(ctx, testEmail, "new-access", "new-refresh"); err != nil {
		t.Fatalf("third CacheSession: %v", err)
	}
	if !f.store.has(redis.TokenKey("new-access")) {
		t.Fatal("re-caching the same pair removed its index entry")
	}

	if err := f.mgr.PermanentLogout(ctx, testEmail); err != nil {
		t.Fatalf("PermanentLogout: %v", err)
	}
	for _, key := range []string{redis.TokenKey("old-access"), redis.TokenKey("new-access"), redis.SessionKey(testEmail)} {
		if f.store.has(key) {
			t.Fatalf("%s survived permanent logout", key)
		}
	}
}

func TestAuthorizeToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	access := f.login(t).AuthenticationResponse.AccessToken

	view, err := f.mgr.AuthorizeToken(ctx, access, model.PermCashierRead)
	if err != nil {
		t.Fatalf("AuthorizeToken: %v", err)
	}
	if view.EmployerDetails.Email != testEmail || view.AuthenticationResponse.AccessToken != access {
		t.Fatalf("view = %+v", view)
	}
	if _, err := f.mgr.AuthorizeToken(ctx, access, ""); err != nil {
		t.Fatalf("AuthorizeToken without permission: %v", err)
	}

	if _, err := f.mgr.AuthorizeToken(ctx, access, model.PermOwnerDelete); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("cashier asking for owner:delete = %v", err)
	}
	if _, err := f.mgr.AuthorizeToken(ctx, "garbage", ""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("unverifiable token = %v", err)
	}
	if _, err := f.mgr.AuthorizeToken(ctx, "access-99-e@x.com", ""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("unindexed token = %v", err)
	}
}

func TestAuthorizeTokenRejectsMismatchedIndex(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	access := f.login(t).AuthenticationResponse.AccessToken

	_ = f.store.Set(ctx, redis.TokenKey(access), []byte("other@x.com"), time.Hour)
	if _, err := f.mgr.AuthorizeToken(ctx, access, ""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("AuthorizeToken = %v, want ErrInvalidToken", err)
	}
}

func TestAuthorizeTokenFollowsSessionLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	access := f.login(t).AuthenticationResponse.AccessToken

	if err := f.mgr.TemporaryLogout(ctx, testEmail); err != nil {
		t.Fatalf("TemporaryLogout: %v", err)
	}
	if _, err := f.mgr.AuthorizeToken(ctx, access, ""); err != nil {
		t.Fatalf("token after temporary logout: %v", err)
	}

	f.now = f.now.Add(25 * time.Hour)
	if _, err := f.mgr.AuthorizeToken(ctx, access, ""); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("token of expired session = %v", err)
	}
	f.now = f.now.Add(-25 * time.Hour)

	if err := f.mgr.PermanentLogout(ctx, testEmail); err != nil {
		t.Fatalf("PermanentLogout: %v", err)
	}
	if _, err := f.mgr.AuthorizeToken(ctx, access, ""); !errors.Is(err, ErrInvalidToken) || !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("token after permanent logout = %v", err)
	}
}
