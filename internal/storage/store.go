// Package storage is the ledger document store: typed entity documents kept
// per collection and family, with optimistic versioning, an outbox table and
// a unit-of-work boundary for multi-document writes.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"time"
)

// Collection names a set of documents of one entity type.
type Collection string

const (
	Accounts        Collection = "accounts"
	CategoryGroups  Collection = "category_groups"
	Categories      Collection = "categories"
	PayPeriods      Collection = "pay_periods"
	Assignments     Collection = "assignments"
	Carryovers      Collection = "carryovers"
	IncomeEntries   Collection = "income_entries"
	Transactions    Collection = "transactions"
	Reconciliations Collection = "reconciliations"
	Bills           Collection = "bills"
	Goals           Collection = "goals"
)

var (
	ErrNotFound        = errors.New("document not found")
	ErrVersionConflict = errors.New("document version conflict")
	ErrInvalidFilter   = errors.New("invalid filter field")
)

// Document is a stored JSON body. Version is authoritative over any version
// field inside Body.
type Document struct {
	Collection Collection
	Family     string
	Key        string
	Version    int64
	Body       json.RawMessage
	UpdatedAt  time.Time
}

// Filter is a conjunction of equality conditions on top-level JSON fields.
// Values may be strings, bools or integers.
type Filter map[string]any

var fieldName = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

func (f Filter) validate() error {
	for k := range f {
		if !fieldName.MatchString(k) {
			return ErrInvalidFilter
		}
	}
	return nil
}

// OutboxEvent is a domain event recorded in the same unit of work as the
// writes it describes, published later by the relay.
type OutboxEvent struct {
	ID           int64
	Type         string
	Family       string
	AggregateKey string
	Payload      json.RawMessage
	CreatedAt    time.Time
	PublishedAt  *time.Time
	Attempts     int
	LastError    string
}

// Reader reads documents.
type Reader interface {
	Get(ctx context.Context, c Collection, family, key string) (Document, error)
	Query(ctx context.Context, c Collection, family string, f Filter) ([]Document, error)
}

// Writer writes documents.
//
// Upsert with a non-zero doc.Version only succeeds if the stored version
// still equals it, otherwise it fails with ErrVersionConflict. A zero
// version writes unconditionally. The new version is returned.
type Writer interface {
	Upsert(ctx context.Context, doc Document) (int64, error)
	Delete(ctx context.Context, c Collection, family, key string) error
	AppendOutbox(ctx context.Context, ev OutboxEvent) error
}

// Tx is the view of the store inside a unit of work.
type Tx interface {
	Reader
	Writer
}

// Store is the full document store. Calls made directly on a Store commit
// individually; calls made on the Tx passed to Atomically commit together
// or not at all. The function must only use the Tx it is given.
type Store interface {
	Tx
	Atomically(ctx context.Context, fn func(tx Tx) error) error

	PendingOutbox(ctx context.Context, limit int) ([]OutboxEvent, error)
	MarkPublished(ctx context.Context, id int64) error
	MarkPublishError(ctx context.Context, id int64, cause string) error

	Ping(ctx context.Context) error
	Close() error
}
