package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"identity-service/internal/events"
	"identity-service/internal/metrics"
	"identity-service/internal/model"
	"identity-service/internal/repository/redis"
	"identity-service/internal/repository/scylla"
	"identity-service/internal/util"
)

const DefaultSessionTTL = 24 * time.Hour

// TokenIssuer mints the token pair stored with a session and tells which
// employer an access token was issued to.
type TokenIssuer interface {
	IssuePair(emp *model.Employer) (access, refresh string, err error)
	VerifySubject(accessToken string) (string, error)
}

// PinLimiter throttles wrong PINs on the store-backed login path.
type PinLimiter interface {
	Blocked(ctx context.Context, email string) (bool, time.Duration, error)
	RecordFailure(ctx context.Context, email string) (int, error)
	Reset(ctx context.Context, email string) error
}

// SessionManager owns the employer session lifecycle: caching a login,
// temporary and permanent logout, and PIN re-entry from the cache.
type SessionManager struct {
	store     redis.CacheStore
	employers scylla.EmployerRepository
	issuer    TokenIssuer
	limiter   PinLimiter
	events    events.Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
	ttl       time.Duration
	now       func() time.Time
}

// NewSessionManager wires the manager. limiter, publisher and m may be nil.
func NewSessionManager(
	store redis.CacheStore,
	employers scylla.EmployerRepository,
	issuer TokenIssuer,
	limiter PinLimiter,
	publisher events.Publisher,
	m *metrics.Metrics,
	logger *zap.Logger,
	ttl time.Duration,
) *SessionManager {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionManager{
		store:     store,
		employers: employers,
		issuer:    issuer,
		limiter:   limiter,
		events:    publisher,
		metrics:   m,
		logger:    logger,
		ttl:       ttl,
		now:       time.Now,
	}
}

// CacheSession snapshots the employer together with the token pair and
// writes the session entry, then the token index entry. The index entry of a
// replaced token pair is removed.
func (m *SessionManager) CacheSession(ctx context.Context, email, accessToken, refreshToken string) (_ *model.CachedSession, err error) {
	defer m.observe("cache_session", time.Now(), &err)

	email, err = normalize(email)
	if err != nil {
		return nil, err
	}
	emp, err := m.loadEmployer(ctx, email)
	if err != nil {
		return nil, err
	}

	previous := m.readSession(ctx, redis.SessionKey(email))

	session := model.NewCachedSession(emp, accessToken, refreshToken, m.now(), m.ttl)
	if err := m.writeSession(ctx, session); err != nil {
		return nil, err
	}
	if err := m.store.Set(ctx, redis.TokenKey(accessToken), []byte(email), m.ttl); err != nil {
		return nil, fmt.Errorf("failed to write token index: %w", err)
	}
	if previous != nil && previous.AccessToken != "" && previous.AccessToken != accessToken {
		if err := m.store.Delete(ctx, redis.TokenKey(previous.AccessToken)); err != nil {
			m.logger.Warn("Failed to drop superseded token index",
				util.String("email", email), util.ErrorField(err))
		}
	}

	m.logger.Info("Session cached",
		util.String("email", email),
		util.String("role", emp.Role.String()),
		util.Int("branch_id", int(emp.BranchID)))
	m.emit(ctx, model.EventSessionCached, session, "")
	return session, nil
}

// GetCachedSession returns the cached session, or nil when there is none.
// Unreadable entries are logged and reported as absent.
func (m *SessionManager) GetCachedSession(ctx context.Context, email string) (*model.CachedSession, error) {
	email, err := normalize(email)
	if err != nil {
		return nil, err
	}
	return m.readSession(ctx, redis.SessionKey(email)), nil
}

// IsUsable reports whether a cached session can stand in for a full login.
func (m *SessionManager) IsUsable(s *model.CachedSession) bool {
	return s.IsUsable(m.now())
}

// TemporaryLogout marks the employer inactive but keeps the cached session
// so the employee can come back with just the PIN.
func (m *SessionManager) TemporaryLogout(ctx context.Context, email string) (err error) {
	defer m.observe("temporary_logout", time.Now(), &err)

	email, err = normalize(email)
	if err != nil {
		return err
	}
	if err := m.setActive(ctx, email, false); err != nil {
		return err
	}

	session := m.readSession(ctx, redis.SessionKey(email))
	if session == nil {
		m.logger.Info("Temporary logout without cached session", util.String("email", email))
		m.emit(ctx, model.EventTemporaryLogout, &model.CachedSession{Email: email}, "no_cached_session")
		return nil
	}

	session.ActiveStatus = false
	session.Touch(m.now(), m.ttl)
	if err := m.writeSession(ctx, session); err != nil {
		return err
	}

	m.logger.Info("Temporary logout", util.String("email", email))
	m.emit(ctx, model.EventTemporaryLogout, session, "")
	return nil
}

// PermanentLogout removes the cached session and its token index entry and
// marks the employer inactive. It is safe to call repeatedly.
func (m *SessionManager) PermanentLogout(ctx context.Context, email string) (err error) {
	defer m.observe("permanent_logout", time.Now(), &err)

	email, err = normalize(email)
	if err != nil {
		return err
	}

	var errs []error
	session := m.readSession(ctx, redis.SessionKey(email))
	if session != nil && session.AccessToken != "" {
		if err := m.store.Delete(ctx, redis.TokenKey(session.AccessToken)); err != nil {
			errs = append(errs, fmt.Errorf("failed to delete token index: %w", err))
		}
	}
	// the session key goes even when its payload could not be decoded
	if err := m.store.Delete(ctx, redis.SessionKey(email)); err != nil {
		errs = append(errs, fmt.Errorf("failed to delete session: %w", err))
	}
	if err := m.setActive(ctx, email, false); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	if session == nil {
		session = &model.CachedSession{Email: email}
	}
	m.logger.Info("Permanent logout", util.String("email", email))
	m.emit(ctx, model.EventPermanentLogout, session, "")
	return nil
}

// AuthenticateFromCache is the PIN login. A usable cached session is accepted
// as is and the PIN is not compared. With no cached session the PIN is
// checked against the identity store and a fresh session is cached.
func (m *SessionManager) AuthenticateFromCache(ctx context.Context, username string, pin int) (_ *model.SessionView, err error) {
	defer m.observe("authenticate_from_cache", time.Now(), &err)

	email, err := normalize(username)
	if err != nil {
		return nil, err
	}

	if session := m.readSession(ctx, redis.SessionKey(email)); session != nil {
		now := m.now()
		if !session.IsUsable(now) {
			reason := "expired"
			err := ErrSessionExpired
			if session.Revoked {
				reason, err = "revoked", ErrSessionRevoked
			}
			m.logger.Warn("Cached session refused",
				util.String("email", email),
				util.String("reason", reason))
			m.emit(ctx, model.EventAuthenticationDenied, session, reason)
			return nil, err
		}

		session.Touch(now, m.ttl)
		if err := m.writeSession(ctx, session); err != nil {
			m.logger.Warn("Failed to refresh last activity", util.String("email", email), util.ErrorField(err))
		}
		m.logger.Info("Authenticated from cached session", util.String("email", email))
		m.emit(ctx, model.EventCacheAuthenticated, session, "")
		return session.View("Authenticated from cached session"), nil
	}

	return m.authenticateFromStore(ctx, email, pin)
}

func (m *SessionManager) authenticateFromStore(ctx context.Context, email string, pin int) (*model.SessionView, error) {
	if m.limiter != nil {
		blocked, retryIn, err := m.limiter.Blocked(ctx, email)
		if err != nil {
			m.logger.Warn("PIN limiter unavailable", util.String("email", email), util.ErrorField(err))
		}
		if blocked {
			m.emit(ctx, model.EventAuthenticationDenied, &model.CachedSession{Email: email}, "pin_locked")
			return nil, fmt.Errorf("%w, retry in %s", ErrPINLocked, retryIn.Round(time.Second))
		}
	}

	emp, err := m.loadEmployer(ctx, email)
	if err != nil {
		return nil, err
	}

	if emp.Pin != pin {
		if m.limiter != nil {
			if attempts, err := m.limiter.RecordFailure(ctx, email); err != nil {
				m.logger.Warn("Failed to record PIN failure", util.String("email", email), util.ErrorField(err))
			} else {
				m.logger.Warn("Invalid PIN", util.String("email", email), util.Int("attempts", attempts))
			}
		}
		m.emit(ctx, model.EventAuthenticationDenied, sessionStub(emp), "invalid_pin")
		return nil, ErrInvalidPIN
	}

	if m.limiter != nil {
		if err := m.limiter.Reset(ctx, email); err != nil {
			m.logger.Warn("Failed to reset PIN attempts", util.String("email", email), util.ErrorField(err))
		}
	}
	if err := m.setActive(ctx, email, true); err != nil {
		return nil, err
	}

	access, refresh, err := m.issuer.IssuePair(emp)
	if err != nil {
		return nil, fmt.Errorf("failed to issue tokens: %w", err)
	}
	session, err := m.CacheSession(ctx, email, access, refresh)
	if err != nil {
		return nil, err
	}

	m.logger.Info("Authenticated against identity store", util.String("email", email))
	m.emit(ctx, model.EventStoreAuthenticated, session, "")
	return session.View("Authentication successful"), nil
}

// UpdateLastActivity slides the session window. Without a cached session it
// does nothing.
func (m *SessionManager) UpdateLastActivity(ctx context.Context, email string) error {
	email, err := normalize(email)
	if err != nil {
		return err
	}
	session := m.readSession(ctx, redis.SessionKey(email))
	if session == nil {
		return nil
	}
	session.Touch(m.now(), m.ttl)
	return m.writeSession(ctx, session)
}

// CleanupExpiredSessions has nothing to do: the store expires entries by TTL.
func (m *SessionManager) CleanupExpiredSessions(ctx context.Context) {
	m.logger.Debug("Session cleanup skipped, expiry is handled by the cache TTL")
}

// ListCachedSessions decodes every cached session, ordered by email.
// Entries that cannot be read are skipped.
func (m *SessionManager) ListCachedSessions(ctx context.Context) (_ []*model.CachedSession, err error) {
	defer m.observe("list_sessions", time.Now(), &err)

	keys, err := m.store.ScanPrefix(ctx, redis.SessionKeyPrefix)
	if err != nil {
		return nil, err
	}
	sessions := make([]*model.CachedSession, 0, len(keys))
	for _, key := range keys {
		if s := m.readSession(ctx, key); s != nil {
			sessions = append(sessions, s)
		}
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].Email < sessions[j].Email })
	return sessions, nil
}

func (m *SessionManager) IsSessionCached(ctx context.Context, email string) (bool, error) {
	email, err := normalize(email)
	if err != nil {
		return false, err
	}
	return m.store.Exists(ctx, redis.SessionKey(email))
}

func (m *SessionManager) IsSessionValid(ctx context.Context, email string) (bool, error) {
	session, err := m.GetCachedSession(ctx, email)
	if err != nil {
		return false, err
	}
	return m.IsUsable(session), nil
}

// GetSessionView returns the client view of the cached session, including
// its revoked flag and expiry, or ErrSessionNotFound.
func (m *SessionManager) GetSessionView(ctx context.Context, email string) (*model.SessionView, error) {
	session, err := m.GetCachedSession(ctx, email)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	return session.View("Cached session"), nil
}

// AuthorizeToken resolves a bearer access token to its cached session. The
// token must verify, still be indexed under the same employer and belong to
// a usable session. A non-empty perm must be granted by the session's role.
func (m *SessionManager) AuthorizeToken(ctx context.Context, accessToken string, perm model.Permission) (_ *model.SessionView, err error) {
	defer m.observe("authorize_token", time.Now(), &err)

	subject, err := m.issuer.VerifySubject(accessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	indexed, err := m.store.Get(ctx, redis.TokenKey(accessToken))
	if err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			m.logger.Warn("Token index read failed", util.String("email", subject), util.ErrorField(err))
		}
		return nil, fmt.Errorf("%w: token is not active", ErrInvalidToken)
	}
	email := string(indexed)
	if email != subject {
		m.logger.Warn("Token index does not match token subject",
			util.String("subject", subject),
			util.String("indexed", email))
		return nil, fmt.Errorf("%w: token subject mismatch", ErrInvalidToken)
	}

	session := m.readSession(ctx, redis.SessionKey(email))
	if session == nil {
		return nil, ErrSessionNotFound
	}
	if session.AccessToken != accessToken {
		return nil, fmt.Errorf("%w: token was superseded", ErrInvalidToken)
	}
	if !session.IsUsable(m.now()) {
		if session.Revoked {
			return nil, ErrSessionRevoked
		}
		return nil, ErrSessionExpired
	}
	if perm != "" && !session.Role.Can(perm) {
		return nil, fmt.Errorf("%w: role %s lacks %s", ErrPermissionDenied, session.Role, perm)
	}
	return session.View("Token verified"), nil
}

// -------------------- HELPERS --------------------

func normalize(email string) (string, error) {
	normalized, ok := util.NormalizeEmail(email)
	if !ok {
		return "", fmt.Errorf("%w: malformed email", ErrInvalidInput)
	}
	return normalized, nil
}

func (m *SessionManager) loadEmployer(ctx context.Context, email string) (*model.Employer, error) {
	emp, err := m.employers.GetEmployerByEmail(ctx, email)
	if errors.Is(err, scylla.ErrEmployerNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrEmployerNotFound, email)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return emp, nil
}

func (m *SessionManager) setActive(ctx context.Context, email string, active bool) error {
	err := m.employers.UpdateActiveStatus(ctx, email, active)
	if errors.Is(err, scylla.ErrEmployerNotFound) {
		return fmt.Errorf("%w: %s", ErrEmployerNotFound, email)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// readSession never fails: a miss, a store error and an undecodable payload
// all come back as nil.
func (m *SessionManager) readSession(ctx context.Context, key string) *model.CachedSession {
	data, err := m.store.Get(ctx, key)
	if errors.Is(err, redis.ErrCacheMiss) {
		return nil
	}
	if err != nil {
		m.logger.Warn("Session cache read failed", util.String("key", key), util.ErrorField(err))
		return nil
	}

	session, fallback, err := model.DecodeSession(data)
	if err != nil {
		m.metrics.DecodeFailure()
		m.logger.Error("Discarding undecodable cached session", util.String("key", key), util.ErrorField(err))
		return nil
	}
	if fallback {
		m.metrics.DecodeFallback()
		m.logger.Debug("Cached session decoded field by field", util.String("key", key))
	}
	if session.Email == "" {
		session.Email = strings.TrimPrefix(key, redis.SessionKeyPrefix)
	}
	return session
}

func (m *SessionManager) writeSession(ctx context.Context, session *model.CachedSession) error {
	data, err := model.EncodeSession(session)
	if err != nil {
		return err
	}
	if err := m.store.Set(ctx, redis.SessionKey(session.Email), data, m.ttl); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	return nil
}

func (m *SessionManager) emit(ctx context.Context, typ model.SessionEventType, s *model.CachedSession, reason string) {
	if m.events == nil {
		return
	}
	evt := model.SessionEvent{
		EventID:       uuid.NewString(),
		EventType:     typ,
		EmployerEmail: s.Email,
		EmployerID:    s.EmployerID,
		BranchID:      s.BranchID,
		Role:          s.Role.String(),
		Reason:        reason,
		OccurredAt:    m.now().UTC(),
	}
	// delivery problems are logged and counted by the publisher
	_ = m.events.Publish(ctx, evt)
}

func (m *SessionManager) observe(op string, started time.Time, err *error) {
	m.metrics.ObserveOperation(op, operationResult(*err), started)
}

func sessionStub(emp *model.Employer) *model.CachedSession {
	return &model.CachedSession{
		Email:      emp.Email,
		EmployerID: emp.EmployerID,
		BranchID:   emp.BranchID,
		Role:       emp.Role,
	}
}
