// Package bigquery persists the ledger in BigQuery tables.
package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/finance-assistant/internal/domain"
	"github.com/dvloznov/finance-assistant/internal/storage"
	"google.golang.org/api/iterator"
)

// Repository implements storage.Repository. It holds a shared BigQuery
// client to avoid creating a new connection for each operation.
type Repository struct {
	client    *bigquery.Client
	projectID string
	datasetID string
	now       func() time.Time
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository opens a client for projectID.
func NewRepository(ctx context.Context, projectID, datasetID string) (*Repository, error) {
	if projectID == "" {
		return nil, fmt.Errorf("NewRepository: project id is required")
	}
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewRepository: creating client: %w", err)
	}
	return NewRepositoryWithClient(client, projectID, datasetID), nil
}

// NewRepositoryWithClient wraps an existing client.
func NewRepositoryWithClient(client *bigquery.Client, projectID, datasetID string) *Repository {
	return &Repository{
		client:    client,
		projectID: projectID,
		datasetID: datasetID,
		now:       time.Now,
	}
}

// Close closes the BigQuery client connection.
func (r *Repository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

func (r *Repository) table(name string) string {
	return tableRef(r.projectID, r.datasetID, name)
}

func tableRef(projectID, datasetID, name string) string {
	return "`" + projectID + "." + datasetID + "." + name + "`"
}

func (r *Repository) ListTransactions(ctx context.Context, ownerID string) ([]domain.Transaction, error) {
	q := r.client.Query(listTransactionsSQL(r.table(transactionsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "owner_id", Value: ownerID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListTransactions: query read: %w", err)
	}

	var txs []domain.Transaction
	for {
		var row TransactionRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListTransactions: iter next: %w", err)
		}
		tx, err := fromRow(&row)
		if err != nil {
			return nil, fmt.Errorf("ListTransactions: %w", err)
		}
		txs = append(txs, tx)
	}

	return txs, nil
}

func (r *Repository) InsertTransaction(ctx context.Context, ownerID string, tx domain.Transaction) error {
	if err := r.InsertTransactions(ctx, ownerID, []domain.Transaction{tx}); err != nil {
		return fmt.Errorf("InsertTransaction: %w", err)
	}
	return nil
}

// InsertTransactions writes the batch with a MERGE keyed on
// (owner_id, transaction_id). Rows whose key already exists are left alone.
func (r *Repository) InsertTransactions(ctx context.Context, ownerID string, txs []domain.Transaction) error {
	if len(txs) == 0 {
		return nil
	}

	rows := toRows(ownerID, txs, r.now().UnixNano())
	q := r.client.Query(mergeTransactionsSQL(r.table(transactionsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "rows", Value: rows},
	}

	if err := runDML(ctx, q); err != nil {
		return fmt.Errorf("InsertTransactions: %w", err)
	}
	return nil
}

func (r *Repository) DeleteTransaction(ctx context.Context, ownerID, id string) error {
	q := r.client.Query(`
		DELETE FROM ` + r.table(transactionsTable) + `
		WHERE owner_id = @owner_id AND transaction_id = @transaction_id
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "owner_id", Value: ownerID},
		{Name: "transaction_id", Value: id},
	}

	if err := runDML(ctx, q); err != nil {
		return fmt.Errorf("DeleteTransaction: %w", err)
	}
	return nil
}

func (r *Repository) DeleteAllTransactions(ctx context.Context, ownerID string) error {
	q := r.client.Query(`
		DELETE FROM ` + r.table(transactionsTable) + `
		WHERE owner_id = @owner_id
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "owner_id", Value: ownerID},
	}

	if err := runDML(ctx, q); err != nil {
		return fmt.Errorf("DeleteAllTransactions: %w", err)
	}
	return nil
}

func (r *Repository) GetSettings(ctx context.Context, ownerID string) (domain.Settings, error) {
	q := r.client.Query(`
		SELECT owner_id, persona_text, currency, updated_ts
		FROM ` + r.table(settingsTable) + `
		WHERE owner_id = @owner_id
		ORDER BY updated_ts DESC
		LIMIT 1
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "owner_id", Value: ownerID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return domain.Settings{}, fmt.Errorf("GetSettings: query read: %w", err)
	}

	var row SettingsRow
	err = it.Next(&row)
	if err == iterator.Done {
		return domain.DefaultSettings(), storage.ErrNotFound
	}
	if err != nil {
		return domain.Settings{}, fmt.Errorf("GetSettings: iter next: %w", err)
	}

	return settingsFromRow(&row), nil
}

func (r *Repository) PutSettings(ctx context.Context, ownerID string, s domain.Settings) error {
	q := r.client.Query(`
		MERGE ` + r.table(settingsTable) + ` T
		USING (SELECT @owner_id AS owner_id) S
		ON T.owner_id = S.owner_id
		WHEN MATCHED THEN
		  UPDATE SET persona_text = @persona_text, currency = @currency, updated_ts = CURRENT_TIMESTAMP()
		WHEN NOT MATCHED THEN
		  INSERT (owner_id, persona_text, currency, updated_ts)
		  VALUES (@owner_id, @persona_text, @currency, CURRENT_TIMESTAMP())
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "owner_id", Value: ownerID},
		{Name: "persona_text", Value: s.PersonaText},
		{Name: "currency", Value: s.Currency},
	}

	if err := runDML(ctx, q); err != nil {
		return fmt.Errorf("PutSettings: %w", err)
	}
	return nil
}

func listTransactionsSQL(table string) string {
	return `
		SELECT
		  owner_id,
		  transaction_id,
		  occurred_at,
		  occurred_date,
		  description,
		  amount,
		  category,
		  type,
		  seq
		FROM ` + table + `
		WHERE owner_id = @owner_id
		ORDER BY seq
	`
}

func mergeTransactionsSQL(table string) string {
	return `
		MERGE ` + table + ` T
		USING UNNEST(@rows) S
		ON T.owner_id = S.owner_id AND T.transaction_id = S.transaction_id
		WHEN NOT MATCHED THEN
		  INSERT (owner_id, transaction_id, occurred_at, occurred_date, description, amount, category, type, seq)
		  VALUES (S.owner_id, S.transaction_id, S.occurred_at, S.occurred_date, S.description, S.amount, S.category, S.type, S.seq)
	`
}

func runDML(ctx context.Context, q *bigquery.Query) error {
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("run query: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("wait for job: %w", err)
	}

	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}

	return nil
}
