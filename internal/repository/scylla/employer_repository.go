package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"identity-service/internal/bucketing"
	"identity-service/internal/model"
	"identity-service/internal/util"
)

type employerRepository struct {
	client  *ScyllaClient
	buckets *bucketing.BucketingManager
}

func NewEmployerRepository(client *ScyllaClient, buckets *bucketing.BucketingManager) EmployerRepository {
	return &employerRepository{client: client, buckets: buckets}
}

func (r *employerRepository) GetEmployerByEmail(ctx context.Context, email string) (*model.Employer, error) {
	row := make(map[string]interface{})
	err := r.client.Session.Query(stmtGetEmployer, r.buckets.EmployerBucket(email), email).
		WithContext(ctx).
		MapScan(row)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, ErrEmployerNotFound
	}
	if err != nil {
		util.Error("Failed to load employer",
			zap.String("email", email),
			zap.Error(err))
		return nil, fmt.Errorf("failed to load employer: %w", err)
	}
	return employerFromRow(row), nil
}

// UpdateActiveStatus flips the persistent active flag. The conditional update
// makes a vanished employer surface as ErrEmployerNotFound instead of
// silently creating a partial row.
func (r *employerRepository) UpdateActiveStatus(ctx context.Context, email string, active bool) error {
	applied, err := r.client.Session.Query(stmtUpdateActiveStatus,
		active, time.Now().UTC(), r.buckets.EmployerBucket(email), email).
		WithContext(ctx).
		ScanCAS()
	if err != nil {
		util.Error("Failed to update employer active status",
			zap.String("email", email),
			zap.Bool("active", active),
			zap.Error(err))
		return fmt.Errorf("failed to update active status: %w", err)
	}
	if !applied {
		return ErrEmployerNotFound
	}
	util.Debug("Employer active status updated",
		zap.String("email", email),
		zap.Bool("active", active))
	return nil
}

func (r *employerRepository) UpsertEmployer(ctx context.Context, emp *model.Employer) error {
	if emp.UpdatedAt.IsZero() {
		emp.UpdatedAt = time.Now().UTC()
	}
	err := r.client.Session.Query(stmtUpsertEmployer,
		r.buckets.EmployerBucket(emp.Email), emp.Email, emp.EmployerID, emp.BranchID,
		emp.NicName, emp.FirstName, emp.LastName, emp.Phone, emp.Address, emp.Salary,
		emp.NIC, emp.Role.String(), emp.Gender, emp.DateOfBirth, emp.Pin,
		emp.ActiveStatus, emp.UpdatedAt).
		WithContext(ctx).
		Exec()
	if err != nil {
		util.Error("Failed to upsert employer",
			zap.String("email", emp.Email),
			zap.Error(err))
		return fmt.Errorf("failed to upsert employer: %w", err)
	}
	return nil
}

func (r *employerRepository) HealthCheck(ctx context.Context) error {
	return r.client.HealthCheck(ctx)
}

// employerFromRow maps a MapScan row. Missing or null columns keep their
// zero values; an unknown role is read as the least privileged role.
func employerFromRow(row map[string]interface{}) *model.Employer {
	emp := &model.Employer{
		EmployerID:  asInt64(row["employer_id"]),
		BranchID:    asInt64(row["branch_id"]),
		Email:       asString(row["employer_email"]),
		NicName:     asString(row["nic_name"]),
		FirstName:   asString(row["first_name"]),
		LastName:    asString(row["last_name"]),
		Phone:       asString(row["phone"]),
		Address:     asString(row["address"]),
		NIC:         asString(row["nic"]),
		Gender:      asString(row["gender"]),
		DateOfBirth: asString(row["date_of_birth"]),
		Pin:         int(asInt64(row["pin"])),
	}
	if v, ok := row["salary"].(float64); ok {
		emp.Salary = v
	}
	if v, ok := row["active_status"].(bool); ok {
		emp.ActiveStatus = v
	}
	if v, ok := row["updated_at"].(time.Time); ok {
		emp.UpdatedAt = v
	}
	if role, err := model.ParseRole(asString(row["role"])); err == nil {
		emp.Role = role
	} else {
		util.Warn("Employer row has unknown role", zap.String("email", emp.Email), zap.Error(err))
	}
	return emp
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case int32:
		return int64(n)
	}
	return 0
}
