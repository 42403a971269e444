package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"identity-service/internal/config"
	"identity-service/internal/util"
)

// Statements used by the employer repository. gocql prepares and caches each
// statement on first execution.
const (
	stmtGetEmployer = `
        SELECT employer_id, branch_id, employer_email, nic_name, first_name, last_name,
            phone, address, salary, nic, role, gender, date_of_birth, pin,
            active_status, updated_at
        FROM employers WHERE employer_bucket = ? AND employer_email = ?`

	stmtUpdateActiveStatus = `
        UPDATE employers SET active_status = ?, updated_at = ?
        WHERE employer_bucket = ? AND employer_email = ? IF EXISTS`

	stmtUpsertEmployer = `
        INSERT INTO employers (
            employer_bucket, employer_email, employer_id, branch_id, nic_name,
            first_name, last_name, phone, address, salary, nic, role, gender,
            date_of_birth, pin, active_status, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
)

// schemaCQL creates the employer table when SCYLLA_ENSURE_SCHEMA is set.
const schemaCQL = `
    CREATE TABLE IF NOT EXISTS employers (
        employer_bucket int,
        employer_email text,
        employer_id bigint,
        branch_id bigint,
        nic_name text,
        first_name text,
        last_name text,
        phone text,
        address text,
        salary double,
        nic text,
        role text,
        gender text,
        date_of_birth text,
        pin int,
        active_status boolean,
        updated_at timestamp,
        PRIMARY KEY ((employer_bucket), employer_email)
    )`

type ScyllaClient struct {
	Session *gocql.Session
	config  config.ScyllaConfig
}

func NewScyllaClient(cfg *config.Config) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.SerialConsistency = gocql.LocalSerial
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.MaxPreparedStmts = 1000
	cluster.PageSize = 1000
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        100 * time.Millisecond,
		Max:        2 * time.Second,
		NumRetries: 3,
	}

	if scyllaConfig.EnableTLS {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 scyllaConfig.CAPath,
			CertPath:               scyllaConfig.CertPath,
			KeyPath:                scyllaConfig.KeyPath,
			EnableHostVerification: true,
		}
	}
	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}
	client := &ScyllaClient{Session: session, config: scyllaConfig}

	if scyllaConfig.EnsureSchema {
		if err := client.EnsureSchema(context.Background()); err != nil {
			session.Close()
			return nil, err
		}
	}

	util.Info("ScyllaDB client initialized",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))
	return client, nil
}

// EnsureSchema creates the tables this service reads if they are missing.
func (s *ScyllaClient) EnsureSchema(ctx context.Context) error {
	if err := s.Session.Query(schemaCQL).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("failed to create employers table: %w", err)
	}
	util.Info("ScyllaDB schema ensured", zap.String("keyspace", s.config.Keyspace))
	return nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}
	util.Debug("ScyllaDB health check passed", zap.String("cluster_name", clusterName))
	return nil
}
