package writer

import (
	"context"
	"fmt"

	cbigquery "cloud.google.com/go/bigquery"
	"github.com/angelmondragon/highlightz-backend/internal/analytics/types"
)

type tableEnsurer interface {
	tableInserter
	EnsureTable(ctx context.Context, name string, schema cbigquery.Schema, partitionField string) error
}

// Open makes sure the outcomes table exists, partitioned by finished_at, and
// returns a writer for it.
func Open(ctx context.Context, client tableEnsurer, table string) (*OutcomeWriter, error) {
	w, err := New(client, Config{Table: table})
	if err != nil {
		return nil, err
	}
	schema, err := types.TaskOutcomeSchema()
	if err != nil {
		return nil, fmt.Errorf("infer task outcome schema: %w", err)
	}
	if err := client.EnsureTable(ctx, w.table, schema, "finished_at"); err != nil {
		return nil, err
	}
	return w, nil
}
