// Command seed loads employer records from a JSON file into ScyllaDB.
//
//	seed -file employers.json
//
// The file holds an array of employer objects in the same camelCase shape the
// API returns, plus "pin".
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"identity-service/internal/bucketing"
	"identity-service/internal/config"
	"identity-service/internal/model"
	"identity-service/internal/repository/scylla"
	"identity-service/internal/util"
)

func main() {
	file := flag.String("file", "employers.json", "path to a JSON array of employers")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)
	defer util.Sync()

	employers, err := readEmployers(*file)
	if err != nil {
		util.Fatal("Failed to read employers", util.String("file", *file), util.ErrorField(err))
	}

	client, err := scylla.NewScyllaClient(cfg)
	if err != nil {
		util.Fatal("Failed to connect to ScyllaDB", util.ErrorField(err))
	}
	defer client.Close()

	repo := scylla.NewEmployerRepository(client, bucketing.NewBucketingManager(cfg.Bucketing.EmployerBuckets))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := seed(ctx, repo, employers); err != nil {
		util.Fatal("Seeding failed", util.ErrorField(err))
	}
	util.Info("Employers seeded", util.Int("count", len(employers)))
}

func readEmployers(path string) ([]*model.Employer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var employers []*model.Employer
	if err := json.Unmarshal(data, &employers); err != nil {
		return nil, fmt.Errorf("invalid employer file: %w", err)
	}
	return employers, nil
}

func seed(ctx context.Context, repo scylla.EmployerRepository, employers []*model.Employer) error {
	now := time.Now().UTC()
	for i, emp := range employers {
		email, ok := util.NormalizeEmail(emp.Email)
		if !ok {
			return fmt.Errorf("employer %d: invalid email %q", i, emp.Email)
		}
		emp.Email = email
		if emp.UpdatedAt.IsZero() {
			emp.UpdatedAt = now
		}
		if err := repo.UpsertEmployer(ctx, emp); err != nil {
			return fmt.Errorf("employer %s: %w", email, err)
		}
	}
	return nil
}
