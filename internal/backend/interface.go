// Package backend builds the document store and its optional collaborators
// (event broker, balance exporter) from configuration.
package backend

import (
	"context"

	"lifeops/internal/amqp"
	"lifeops/internal/sheets"
	"lifeops/internal/storage"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult contains the store and an optional cleanup function
type BackendResult struct {
	Store   storage.Store
	Cleanup CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	// CreateBackend opens the document store selected by config
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
	// CreateBroker connects to AMQP, or returns nil when no URL is configured
	CreateBroker(config Config, bindings ...string) (*amqp.Client, error)
	// CreateExporter returns the Google Sheets exporter when a spreadsheet is
	// configured and an in-memory exporter otherwise
	CreateExporter(ctx context.Context, config Config) (sheets.BalanceExporter, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// SQLite specific
	SQLiteDBPath string

	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	GoogleSpreadsheetID string
	GoogleSheetName     string
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
