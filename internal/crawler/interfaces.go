package crawler

import (
	"context"
	"time"

	"github.com/masahif/appsnowball/internal/expansion"
	"github.com/masahif/appsnowball/internal/marketplace"
	"github.com/masahif/appsnowball/internal/storage"
)

// Storage is the crawl-state store the pipelines persist through.
type Storage interface {
	Now() time.Time
	EnsureTables(ctx context.Context, tables ...storage.Table) error

	// Existence and insert-if-absent
	Exists(ctx context.Context, table, column string, value any, within time.Duration) storage.Check
	InsertIfAbsent(ctx context.Context, table string, row storage.Row, unique []string) (bool, error)
	InsertMany(ctx context.Context, table string, rows []storage.Row) error
	Stamp(ctx context.Context, table, keyColumn, key, column string, onlyIfNull bool) (int64, error)

	// Bulk reads
	FindLatest(ctx context.Context, table string, w storage.Where) (storage.Row, []string, error)
	ColumnValues(ctx context.Context, table, column string, w storage.Where) ([]string, error)
	UnionJSONSets(ctx context.Context, table, column string, w storage.Where) ([]string, error)
	MostFrequent(ctx context.Context, table, column string, w storage.Where, n int) ([]string, error)
	Count(ctx context.Context, table string, w storage.Where) (int, error)
}

// Marketplace is the worker API used by the pipelines.
type Marketplace interface {
	expansion.Marketplace
	App(ctx context.Context, market marketplace.Market, appID string) (*marketplace.App, error)
	Permissions(ctx context.Context, market marketplace.Market, appID string) ([]string, error)
	Reviews(ctx context.Context, market marketplace.Market, appID string, page int) ([]map[string]any, error)
}
