package ingestion

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fieldsales/backend/internal/storage/models"
	"github.com/fieldsales/backend/pkg/logger"
)

type Store interface {
	InsertCustomers(ctx context.Context, customers []*models.Customer) error
	InsertRouteReports(ctx context.Context, reports []*models.RouteReport) error
}

type Processor struct {
	db      Store
	maxRows int
}

func NewProcessor(db Store, maxRows int) *Processor {
	return &Processor{
		db:      db,
		maxRows: maxRows,
	}
}

type ImportResult struct {
	Imported int
	Warnings []string
}

func (p *Processor) Parse(filename string, data []byte) (*Table, error) {
	return Parse(filename, data, p.maxRows)
}

func (p *Processor) ImportCustomers(ctx context.Context, filename string, data []byte) (*ImportResult, error) {
	logger.Info("Importing customers", zap.String("file", filename), zap.Int("bytes", len(data)))

	table, err := p.Parse(filename, data)
	if err != nil {
		return nil, err
	}

	customers, warnings, err := CustomersFromTable(table)
	if err != nil {
		return nil, err
	}
	if len(customers) == 0 {
		return nil, fmt.Errorf("%w: no usable customer rows", ErrEmptyFile)
	}

	if err := p.db.InsertCustomers(ctx, customers); err != nil {
		return nil, fmt.Errorf("failed to insert customers: %w", err)
	}

	logger.Info("Customers imported",
		zap.String("file", filename),
		zap.Int("imported", len(customers)),
		zap.Int("warnings", len(warnings)),
	)
	return &ImportResult{Imported: len(customers), Warnings: warnings}, nil
}

func (p *Processor) ImportRouteReports(ctx context.Context, filename string, data []byte) (*ImportResult, error) {
	logger.Info("Importing route reports", zap.String("file", filename), zap.Int("bytes", len(data)))

	table, err := p.Parse(filename, data)
	if err != nil {
		return nil, err
	}

	reports, warnings, err := RouteReportsFromTable(table)
	if err != nil {
		return nil, err
	}
	if len(reports) == 0 {
		return nil, fmt.Errorf("%w: no usable route rows", ErrEmptyFile)
	}

	if err := p.db.InsertRouteReports(ctx, reports); err != nil {
		return nil, fmt.Errorf("failed to insert route reports: %w", err)
	}

	logger.Info("Route reports imported",
		zap.String("file", filename),
		zap.Int("imported", len(reports)),
		zap.Int("warnings", len(warnings)),
	)
	return &ImportResult{Imported: len(reports), Warnings: warnings}, nil
}
