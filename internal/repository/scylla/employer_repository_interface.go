package scylla

import (
	"context"
	"errors"

	"identity-service/internal/model"
)

// ErrEmployerNotFound is returned when no employer row exists for an email.
var ErrEmployerNotFound = errors.New("employer not found")

// EmployerRepository is the persistent identity store for employers.
type EmployerRepository interface {
	GetEmployerByEmail(ctx context.Context, email string) (*model.Employer, error)
	UpdateActiveStatus(ctx context.Context, email string, active bool) error
	UpsertEmployer(ctx context.Context, emp *model.Employer) error
	HealthCheck(ctx context.Context) error
}
