package events

import (
	"context"
	"encoding/json"
	"fmt"

	"identity-service/internal/model"
)

type messageProducer interface {
	ProduceMessage(ctx context.Context, key, value []byte, headers map[string]string) error
}

// KafkaSink publishes events keyed by employer email.
type KafkaSink struct {
	producer messageProducer
}

func NewKafkaSink(p messageProducer) *KafkaSink { return &KafkaSink{producer: p} }

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Write(ctx context.Context, evt model.SessionEvent) error {
	value, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	return s.producer.ProduceMessage(ctx, []byte(evt.EmployerEmail), value, map[string]string{
		"event_type": string(evt.EventType),
		"event_id":   evt.EventID,
	})
}

type batchInserter interface {
	Exec(ctx context.Context, query string, args ...interface{}) error
	BatchInsert(ctx context.Context, query string, rows [][]interface{}) error
}

const (
	clickhouseEventsTable = `
        CREATE TABLE IF NOT EXISTS employer_session_events (
            event_id String,
            event_type LowCardinality(String),
            employer_email String,
            employer_id Int64,
            branch_id Int64,
            role LowCardinality(String),
            reason String,
            occurred_at DateTime64(3, 'UTC')
        ) ENGINE = MergeTree
        PARTITION BY toYYYYMM(occurred_at)
        ORDER BY (employer_email, occurred_at)`

	clickhouseInsertEvent = `INSERT INTO employer_session_events (
        event_id, event_type, employer_email, employer_id, branch_id, role, reason, occurred_at)`
)

// ClickHouseSink appends events to an analytics table.
type ClickHouseSink struct {
	ch batchInserter
}

func NewClickHouseSink(ch batchInserter) *ClickHouseSink { return &ClickHouseSink{ch: ch} }

func (s *ClickHouseSink) Name() string { return "clickhouse" }

// EnsureTable creates the events table if it does not exist.
func (s *ClickHouseSink) EnsureTable(ctx context.Context) error {
	if err := s.ch.Exec(ctx, clickhouseEventsTable); err != nil {
		return fmt.Errorf("failed to create employer_session_events: %w", err)
	}
	return nil
}

func (s *ClickHouseSink) Write(ctx context.Context, evt model.SessionEvent) error {
	return s.ch.BatchInsert(ctx, clickhouseInsertEvent, [][]interface{}{{
		evt.EventID, string(evt.EventType), evt.EmployerEmail, evt.EmployerID,
		evt.BranchID, evt.Role, evt.Reason, evt.OccurredAt,
	}})
}

type documentIndexer interface {
	IndexDocument(ctx context.Context, index, id string, document interface{}) error
}

// ElasticsearchSink indexes events for audit search, one document per event.
type ElasticsearchSink struct {
	es    documentIndexer
	index string
}

func NewElasticsearchSink(es documentIndexer, index string) *ElasticsearchSink {
	return &ElasticsearchSink{es: es, index: index}
}

func (s *ElasticsearchSink) Name() string { return "elasticsearch" }

func (s *ElasticsearchSink) Write(ctx context.Context, evt model.SessionEvent) error {
	return s.es.IndexDocument(ctx, s.index, evt.EventID, evt)
}
