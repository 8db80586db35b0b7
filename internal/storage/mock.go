package storage

import (
	"context"

	"github.com/dvloznov/finance-assistant/internal/domain"
)

// MockRepository is a Repository whose behaviour is set per test through the
// func fields. A nil field succeeds with a zero result.
type MockRepository struct {
	ListTransactionsFunc      func(ctx context.Context, ownerID string) ([]domain.Transaction, error)
	InsertTransactionFunc     func(ctx context.Context, ownerID string, tx domain.Transaction) error
	InsertTransactionsFunc    func(ctx context.Context, ownerID string, txs []domain.Transaction) error
	DeleteTransactionFunc     func(ctx context.Context, ownerID, id string) error
	DeleteAllTransactionsFunc func(ctx context.Context, ownerID string) error
	GetSettingsFunc           func(ctx context.Context, ownerID string) (domain.Settings, error)
	PutSettingsFunc           func(ctx context.Context, ownerID string, s domain.Settings) error
}

func (m *MockRepository) ListTransactions(ctx context.Context, ownerID string) ([]domain.Transaction, error) {
	if m.ListTransactionsFunc != nil {
		return m.ListTransactionsFunc(ctx, ownerID)
	}
	return nil, nil
}

func (m *MockRepository) InsertTransaction(ctx context.Context, ownerID string, tx domain.Transaction) error {
	if m.InsertTransactionFunc != nil {
		return m.InsertTransactionFunc(ctx, ownerID, tx)
	}
	return nil
}

func (m *MockRepository) InsertTransactions(ctx context.Context, ownerID string, txs []domain.Transaction) error {
	if m.InsertTransactionsFunc != nil {
		return m.InsertTransactionsFunc(ctx, ownerID, txs)
	}
	return nil
}

func (m *MockRepository) DeleteTransaction(ctx context.Context, ownerID, id string) error {
	if m.DeleteTransactionFunc != nil {
		return m.DeleteTransactionFunc(ctx, ownerID, id)
	}
	return nil
}

func (m *MockRepository) DeleteAllTransactions(ctx context.Context, ownerID string) error {
	if m.DeleteAllTransactionsFunc != nil {
		return m.DeleteAllTransactionsFunc(ctx, ownerID)
	}
	return nil
}

func (m *MockRepository) GetSettings(ctx context.Context, ownerID string) (domain.Settings, error) {
	if m.GetSettingsFunc != nil {
		return m.GetSettingsFunc(ctx, ownerID)
	}
	return domain.Settings{}, ErrNotFound
}

func (m *MockRepository) PutSettings(ctx context.Context, ownerID string, s domain.Settings) error {
	if m.PutSettingsFunc != nil {
		return m.PutSettingsFunc(ctx, ownerID, s)
	}
	return nil
}

func (m *MockRepository) Close() error { return nil }
