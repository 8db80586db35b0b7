// Package mongo persists the ledger in MongoDB collections.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/finance-assistant/internal/domain"
	"github.com/dvloznov/finance-assistant/internal/storage"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	TransactionsCollection = "transactions"
	SettingsCollection     = "settings"
)

type transactionDoc struct {
	OwnerID     string               `bson:"ownerId"`
	ID          string               `bson:"id"`
	Date        time.Time            `bson:"date"`
	Description string               `bson:"description"`
	Amount      primitive.Decimal128 `bson:"amount"`
	Category    string               `bson:"category"`
	Type        string               `bson:"type"`
	Seq         int64                `bson:"seq"`
}

type settingsDoc struct {
	OwnerID     string    `bson:"ownerId"`
	PersonaText string    `bson:"personaText"`
	Currency    string    `bson:"currency"`
	UpdatedAt   time.Time `bson:"updatedAt"`
}

// Repository implements storage.Repository on top of MongoDB.
type Repository struct {
	provider CollectionProvider
	client   *mongo.Client
	now      func() time.Time
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository uses provider for collections. client may be nil; when set,
// Close disconnects it.
func NewRepository(provider CollectionProvider, client *mongo.Client) *Repository {
	return &Repository{provider: provider, client: client, now: time.Now}
}

// Open connects to uri and uses database.
func Open(ctx context.Context, uri, database string, log zerolog.Logger) (*Repository, error) {
	client, err := Connect(ctx, uri, log)
	if err != nil {
		return nil, fmt.Errorf("Open: %w", err)
	}
	return NewRepository(NewDatabaseProvider(client.Database(database)), client), nil
}

func (r *Repository) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Disconnect(context.Background())
}

func (r *Repository) ListTransactions(ctx context.Context, ownerID string) ([]domain.Transaction, error) {
	coll := r.provider.Collection(TransactionsCollection)
	cur, err := coll.Find(ctx, bson.M{"ownerId": ownerID}, options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("ListTransactions: find: %w", err)
	}
	defer cur.Close(ctx)

	var txs []domain.Transaction
	for cur.Next(ctx) {
		var doc transactionDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("ListTransactions: decode: %w", err)
		}
		tx, err := fromDoc(doc)
		if err != nil {
			return nil, fmt.Errorf("ListTransactions: %w", err)
		}
		txs = append(txs, tx)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("ListTransactions: cursor: %w", err)
	}
	return txs, nil
}

func (r *Repository) InsertTransaction(ctx context.Context, ownerID string, tx domain.Transaction) error {
	if err := r.InsertTransactions(ctx, ownerID, []domain.Transaction{tx}); err != nil {
		return fmt.Errorf("InsertTransaction: %w", err)
	}
	return nil
}

// InsertTransactions upserts with $setOnInsert keyed on (ownerId, id), so a
// retried insert leaves the existing document untouched.
func (r *Repository) InsertTransactions(ctx context.Context, ownerID string, txs []domain.Transaction) error {
	if len(txs) == 0 {
		return nil
	}

	base := r.now().UnixNano()
	models := make([]mongo.WriteModel, 0, len(txs))
	for i, tx := range txs {
		doc, err := toDoc(ownerID, tx, base+int64(i))
		if err != nil {
			return fmt.Errorf("InsertTransactions: %w", err)
		}
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"ownerId": ownerID, "id": tx.ID}).
			SetUpdate(bson.M{"$setOnInsert": doc}).
			SetUpsert(true))
	}

	coll := r.provider.Collection(TransactionsCollection)
	if _, err := coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(true)); err != nil {
		return fmt.Errorf("InsertTransactions: bulk write: %w", err)
	}
	return nil
}

func (r *Repository) DeleteTransaction(ctx context.Context, ownerID, id string) error {
	coll := r.provider.Collection(TransactionsCollection)
	if _, err := coll.DeleteOne(ctx, bson.M{"ownerId": ownerID, "id": id}); err != nil {
		return fmt.Errorf("DeleteTransaction: %w", err)
	}
	return nil
}

func (r *Repository) DeleteAllTransactions(ctx context.Context, ownerID string) error {
	coll := r.provider.Collection(TransactionsCollection)
	if _, err := coll.DeleteMany(ctx, bson.M{"ownerId": ownerID}); err != nil {
		return fmt.Errorf("DeleteAllTransactions: %w", err)
	}
	return nil
}

func (r *Repository) GetSettings(ctx context.Context, ownerID string) (domain.Settings, error) {
	coll := r.provider.Collection(SettingsCollection)

	var doc settingsDoc
	err := coll.FindOne(ctx, bson.M{"ownerId": ownerID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.DefaultSettings(), storage.ErrNotFound
	}
	if err != nil {
		return domain.Settings{}, fmt.Errorf("GetSettings: %w", err)
	}
	return domain.Settings{PersonaText: doc.PersonaText, Currency: doc.Currency}.Normalized(), nil
}

func (r *Repository) PutSettings(ctx context.Context, ownerID string, s domain.Settings) error {
	coll := r.provider.Collection(SettingsCollection)
	update := bson.M{"$set": bson.M{
		"personaText": s.PersonaText,
		"currency":    s.Currency,
		"updatedAt":   r.now().UTC(),
	}}
	if _, err := coll.UpdateOne(ctx, bson.M{"ownerId": ownerID}, update, options.Update().SetUpsert(true)); err != nil {
		return fmt.Errorf("PutSettings: %w", err)
	}
	return nil
}

func toDoc(ownerID string, tx domain.Transaction, seq int64) (transactionDoc, error) {
	amount, err := primitive.ParseDecimal128(tx.Amount.String())
	if err != nil {
		return transactionDoc{}, fmt.Errorf("amount of %s: %w", tx.ID, err)
	}
	return transactionDoc{
		OwnerID:     ownerID,
		ID:          tx.ID,
		Date:        tx.Date.UTC(),
		Description: tx.Description,
		Amount:      amount,
		Category:    tx.Category,
		Type:        string(tx.Type),
		Seq:         seq,
	}, nil
}

func fromDoc(doc transactionDoc) (domain.Transaction, error) {
	amount, err := decimal.NewFromString(doc.Amount.String())
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("amount of %s: %w", doc.ID, err)
	}
	typ, err := domain.ParseTransactionType(doc.Type)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("type of %s: %w", doc.ID, err)
	}
	return domain.Transaction{
		ID:          doc.ID,
		Date:        doc.Date.UTC(),
		Description: doc.Description,
		Amount:      amount,
		Category:    doc.Category,
		Type:        typ,
		OwnerID:     doc.OwnerID,
	}, nil
}
