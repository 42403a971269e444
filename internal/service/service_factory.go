package service

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"identity-service/internal/events"
	"identity-service/internal/metrics"
	"identity-service/internal/repository/redis"
	"identity-service/internal/repository/scylla"
)

// ServiceFactory holds the collaborators and hands out service singletons.
type ServiceFactory struct {
	store     redis.CacheStore
	employers scylla.EmployerRepository
	issuer    TokenIssuer
	limiter   PinLimiter
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
	ttl       time.Duration

	once           sync.Once
	sessionManager *SessionManager
}

func NewServiceFactory(
	store redis.CacheStore,
	employers scylla.EmployerRepository,
	issuer TokenIssuer,
	limiter PinLimiter,
	publisher events.Publisher,
	m *metrics.Metrics,
	logger *zap.Logger,
	ttl time.Duration,
) *ServiceFactory {
	return &ServiceFactory{
		store:     store,
		employers: employers,
		issuer:    issuer,
		limiter:   limiter,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		ttl:       ttl,
	}
}

// SessionManager returns the session manager instance (singleton).
func (f *ServiceFactory) SessionManager() *SessionManager {
	f.once.Do(func() {
		f.sessionManager = NewSessionManager(
			f.store,
			f.employers,
			f.issuer,
			f.limiter,
			f.publisher,
			f.metrics,
			f.logger,
			f.ttl,
		)
	})
	return f.sessionManager
}
