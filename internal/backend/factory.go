package backend

import (
	"context"
	"fmt"

	"lifeops/internal/amqp"
	"lifeops/internal/log"
	"lifeops/internal/sheets"
	gsheet "lifeops/internal/sheets/google"
	"lifeops/internal/sheets/memory"
	"lifeops/internal/storage"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.Default(log.ComponentBackend)
	}
	return &DefaultFactory{
		logger: logger.WithComponent(log.ComponentBackend),
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case SQLiteBackend:
		return f.createSQLiteBackend(config)
	case MemoryBackend:
		return f.createMemoryBackend()
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createSQLiteBackend(config Config) (*BackendResult, error) {
	store, err := storage.NewSQLiteStore(config.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite store: %w", err)
	}

	f.logger.Info("Initialized SQLite backend", "db_path", config.SQLiteDBPath)

	return &BackendResult{
		Store:   store,
		Cleanup: store.Close,
	}, nil
}

func (f *DefaultFactory) createMemoryBackend() (*BackendResult, error) {
	f.logger.Warn("Using in-memory backend, data is lost on restart")

	return &BackendResult{
		Store:   storage.NewMemoryStore(),
		Cleanup: nil,
	}, nil
}

// CreateBroker implements Factory.CreateBroker. With no bindings the queue
// receives every event.
func (f *DefaultFactory) CreateBroker(config Config, bindings ...string) (*amqp.Client, error) {
	if config.AMQPURL == "" {
		f.logger.Info("AMQP not configured, events stay in the outbox")
		return nil, nil
	}

	client, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue, bindings...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize AMQP client: %w", err)
	}

	f.logger.Info("Initialized AMQP client",
		"exchange", config.AMQPExchange,
		"queue", config.AMQPQueue,
		"bindings", bindings)
	return client, nil
}

// CreateExporter implements Factory.CreateExporter
func (f *DefaultFactory) CreateExporter(ctx context.Context, config Config) (sheets.BalanceExporter, error) {
	if config.GoogleSpreadsheetID == "" {
		f.logger.Info("No spreadsheet configured, balances are exported in memory")
		return memory.New(), nil
	}

	cli, err := gsheet.New(ctx, config.GoogleSpreadsheetID, config.GoogleSheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Google Sheets client: %w", err)
	}

	f.logger.Info("Initialized Google Sheets exporter", "sheet", config.GoogleSheetName)
	return cli, nil
}
