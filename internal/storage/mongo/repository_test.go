package mongo

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dvloznov/finance-assistant/internal/domain"
	"github.com/dvloznov/finance-assistant/internal/storage"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type mockDataStore struct {
	findFunc       func(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
	findOneFunc    func(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	bulkWriteFunc  func(ctx context.Context, models []mongo.WriteModel, opts ...*options.BulkWriteOptions) (*mongo.BulkWriteResult, error)
	updateOneFunc  func(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	deleteOneFunc  func(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
	deleteManyFunc func(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
}

func (m *mockDataStore) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error) {
	if m.findFunc != nil {
		return m.findFunc(ctx, filter, opts...)
	}
	return mongo.NewCursorFromDocuments(nil, nil, nil)
}

func (m *mockDataStore) FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult {
	if m.findOneFunc != nil {
		return m.findOneFunc(ctx, filter, opts...)
	}
	return mongo.NewSingleResultFromDocument(bson.D{}, mongo.ErrNoDocuments, nil)
}

func (m *mockDataStore) BulkWrite(ctx context.Context, models []mongo.WriteModel, opts ...*options.BulkWriteOptions) (*mongo.BulkWriteResult, error) {
	if m.bulkWriteFunc != nil {
		return m.bulkWriteFunc(ctx, models, opts...)
	}
	return &mongo.BulkWriteResult{}, nil
}

func (m *mockDataStore) UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	if m.updateOneFunc != nil {
		return m.updateOneFunc(ctx, filter, update, opts...)
	}
	return &mongo.UpdateResult{}, nil
}

func (m *mockDataStore) DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error) {
	if m.deleteOneFunc != nil {
		return m.deleteOneFunc(ctx, filter, opts...)
	}
	return &mongo.DeleteResult{}, nil
}

func (m *mockDataStore) DeleteMany(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error) {
	if m.deleteManyFunc != nil {
		return m.deleteManyFunc(ctx, filter, opts...)
	}
	return &mongo.DeleteResult{}, nil
}

type mockCollectionProvider struct {
	collectionFunc func(name string) DataStore
}

func (m *mockCollectionProvider) Collection(name string) DataStore {
	if m.collectionFunc != nil {
		return m.collectionFunc(name)
	}
	return &mockDataStore{}
}

func providerFor(t *testing.T, want string, ds DataStore) *mockCollectionProvider {
	return &mockCollectionProvider{
		collectionFunc: func(name string) DataStore {
			if name != want {
				t.Errorf("collection = %s, want %s", name, want)
			}
			return ds
		},
	}
}

func sample(id string) domain.Transaction {
	return domain.Transaction{
		ID:          id,
		Date:        time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC),
		Description: "Groceries",
		Amount:      decimal.RequireFromString("42.10"),
		Category:    "Food",
		Type:        domain.TypeExpense,
	}
}

func TestInsertTransactions_UpsertOnOwnerAndID(t *testing.T) {
	var got []mongo.WriteModel
	ds := &mockDataStore{
		bulkWriteFunc: func(ctx context.Context, models []mongo.WriteModel, opts ...*options.BulkWriteOptions) (*mongo.BulkWriteResult, error) {
			got = models
			return &mongo.BulkWriteResult{UpsertedCount: int64(len(models))}, nil
		},
	}
	repo := NewRepository(providerFor(t, TransactionsCollection, ds), nil)

	if err := repo.InsertTransactions(context.Background(), "alice", []domain.Transaction{sample("1"), sample("2")}); err != nil {
		t.Fatalf("InsertTransactions: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d write models, want 2", len(got))
	}

	m, ok := got[0].(*mongo.UpdateOneModel)
	if !ok {
		t.Fatalf("model type = %T, want *mongo.UpdateOneModel", got[0])
	}
	if m.Upsert == nil || !*m.Upsert {
		t.Error("insert must upsert")
	}
	filter := m.Filter.(bson.M)
	if filter["ownerId"] != "alice" || filter["id"] != "1" {
		t.Errorf("filter = %v", filter)
	}
	update := m.Update.(bson.M)
	doc, ok := update["$setOnInsert"].(transactionDoc)
	if !ok {
		t.Fatalf("update = %v, want $setOnInsert document", update)
	}
	if doc.OwnerID != "alice" || doc.Amount.String() != "42.1" {
		t.Errorf("doc = %+v", doc)
	}
	second := got[1].(*mongo.UpdateOneModel).Update.(bson.M)["$setOnInsert"].(transactionDoc)
	if second.Seq <= doc.Seq {
		t.Errorf("seq not increasing: %d then %d", doc.Seq, second.Seq)
	}
}

func TestInsertTransactions_Empty(t *testing.T) {
	repo := NewRepository(&mockCollectionProvider{
		collectionFunc: func(name string) DataStore {
			t.Error("no collection should be touched for an empty batch")
			return &mockDataStore{}
		},
	}, nil)
	if err := repo.InsertTransactions(context.Background(), "alice", nil); err != nil {
		t.Errorf("InsertTransactions(nil): %v", err)
	}
}

func TestInsertTransaction_Error(t *testing.T) {
	boom := errors.New("write concern failed")
	ds := &mockDataStore{
		bulkWriteFunc: func(ctx context.Context, models []mongo.WriteModel, opts ...*options.BulkWriteOptions) (*mongo.BulkWriteResult, error) {
			return nil, boom
		},
	}
	repo := NewRepository(providerFor(t, TransactionsCollection, ds), nil)

	err := repo.InsertTransaction(context.Background(), "alice", sample("1"))
	if !errors.Is(err, boom) {
		t.Errorf("error = %v, want wrapped %v", err, boom)
	}
}

func TestListTransactions(t *testing.T) {
	a, _ := toDoc("alice", sample("a"), 1)
	b, _ := toDoc("alice", sample("b"), 2)

	ds := &mockDataStore{
		findFunc: func(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error) {
			if filter.(bson.M)["ownerId"] != "alice" {
				t.Errorf("filter = %v, want owner scoped", filter)
			}
			if len(opts) != 1 || opts[0].Sort == nil {
				t.Error("find must sort by seq")
			}
			return mongo.NewCursorFromDocuments([]interface{}{a, b}, nil, nil)
		},
	}
	repo := NewRepository(providerFor(t, TransactionsCollection, ds), nil)

	txs, err := repo.ListTransactions(context.Background(), "alice")
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(txs) != 2 || txs[0].ID != "a" || txs[1].ID != "b" {
		t.Fatalf("txs = %+v", txs)
	}
	want := sample("a")
	want.OwnerID = "alice"
	if !txs[0].Equal(want) {
		t.Errorf("txs[0] = %+v, want %+v", txs[0], want)
	}
}

func TestListTransactions_FindError(t *testing.T) {
	ds := &mockDataStore{
		findFunc: func(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error) {
			return nil, errors.New("no reachable servers")
		},
	}
	repo := NewRepository(providerFor(t, TransactionsCollection, ds), nil)

	_, err := repo.ListTransactions(context.Background(), "alice")
	if err == nil || !strings.Contains(err.Error(), "no reachable servers") {
		t.Errorf("error = %v", err)
	}
}

func TestDeletes(t *testing.T) {
	var one, many bson.M
	ds := &mockDataStore{
		deleteOneFunc: func(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error) {
			one = filter.(bson.M)
			return &mongo.DeleteResult{DeletedCount: 1}, nil
		},
		deleteManyFunc: func(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error) {
			many = filter.(bson.M)
			return &mongo.DeleteResult{}, nil
		},
	}
	repo := NewRepository(providerFor(t, TransactionsCollection, ds), nil)
	ctx := context.Background()

	if err := repo.DeleteTransaction(ctx, "alice", "x"); err != nil {
		t.Fatalf("DeleteTransaction: %v", err)
	}
	if err := repo.DeleteAllTransactions(ctx, "alice"); err != nil {
		t.Fatalf("DeleteAllTransactions: %v", err)
	}
	if one["ownerId"] != "alice" || one["id"] != "x" {
		t.Errorf("delete one filter = %v", one)
	}
	if len(many) != 1 || many["ownerId"] != "alice" {
		t.Errorf("delete many filter = %v, want owner only", many)
	}
}

func TestGetSettings(t *testing.T) {
	tests := []struct {
		name    string
		result  *mongo.SingleResult
		want    domain.Settings
		wantErr error
	}{
		{
			name:    "missing",
			result:  mongo.NewSingleResultFromDocument(bson.D{}, mongo.ErrNoDocuments, nil),
			want:    domain.DefaultSettings(),
			wantErr: storage.ErrNotFound,
		},
		{
			name:   "stored",
			result: mongo.NewSingleResultFromDocument(settingsDoc{OwnerID: "alice", PersonaText: "Pirate", Currency: "gbp"}, nil, nil),
			want:   domain.Settings{PersonaText: "Pirate", Currency: "GBP"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds := &mockDataStore{
				findOneFunc: func(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult {
					return tt.result
				},
			}
			repo := NewRepository(providerFor(t, SettingsCollection, ds), nil)

			got, err := repo.GetSettings(context.Background(), "alice")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("settings = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestPutSettings(t *testing.T) {
	ds := &mockDataStore{
		updateOneFunc: func(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
			if filter.(bson.M)["ownerId"] != "alice" {
				t.Errorf("filter = %v", filter)
			}
			set := update.(bson.M)["$set"].(bson.M)
			if set["personaText"] != "Be kind" || set["currency"] != "EUR" {
				t.Errorf("$set = %v", set)
			}
			if len(opts) != 1 || opts[0].Upsert == nil || !*opts[0].Upsert {
				t.Error("settings save must upsert")
			}
			return &mongo.UpdateResult{UpsertedCount: 1}, nil
		},
	}
	repo := NewRepository(providerFor(t, SettingsCollection, ds), nil)

	if err := repo.PutSettings(context.Background(), "alice", domain.Settings{PersonaText: "Be kind", Currency: "EUR"}); err != nil {
		t.Fatalf("PutSettings: %v", err)
	}
}
