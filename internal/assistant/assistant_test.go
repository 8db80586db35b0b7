package assistant

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dvloznov/finance-assistant/internal/classifier"
	"github.com/dvloznov/finance-assistant/internal/domain"
	"github.com/dvloznov/finance-assistant/internal/jobs/inmemory"
	"github.com/dvloznov/finance-assistant/internal/ledger"
	"github.com/dvloznov/finance-assistant/internal/normalizer"
	"github.com/dvloznov/finance-assistant/internal/notify"
	"github.com/dvloznov/finance-assistant/internal/reconcile"
	"github.com/dvloznov/finance-assistant/internal/session"
	"github.com/dvloznov/finance-assistant/internal/storage"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"google.golang.org/genai"
)

// MockClassifier returns whatever ClassifyFunc returns.
type MockClassifier struct {
	ClassifyFunc func(ctx context.Context, req *normalizer.Request) classifier.Outcome
	LastRequest  *normalizer.Request
}

func (m *MockClassifier) Classify(ctx context.Context, req *normalizer.Request) classifier.Outcome {
	m.LastRequest = req
	if m.ClassifyFunc != nil {
		return m.ClassifyFunc(ctx, req)
	}
	return classifier.ChatOnly("ok")
}

// jsonGenerator answers every GenerateContent call with the same body.
type jsonGenerator struct {
	body string
}

func (g *jsonGenerator) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Role: "model", Parts: []*genai.Part{{Text: g.body}}},
		}},
	}, nil
}

type harness struct {
	assistant *Assistant
	store     *ledger.Store
	sessions  *session.Manager
	notes     *notify.Center
	queue     *inmemory.Queue
	repo      *storage.MockRepository
}

func newHarness(t *testing.T, cls classifier.Classifier, repo *storage.MockRepository) *harness {
	t.Helper()
	log := zerolog.Nop()
	store := ledger.NewStore()
	sessions := session.NewManager(store, repo, log)
	coord := reconcile.NewCoordinator(store, repo, sessions, log)
	queue := inmemory.NewQueue(inmemory.NewStore(), log, inmemory.WithMaxRetries(1))
	queue.Backoff = func(int) time.Duration { return time.Millisecond }
	if err := queue.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { queue.Close() })
	notes := notify.NewCenter()

	a := New(Deps{
		Classifier:    cls,
		Store:         store,
		Sessions:      sessions,
		Coordinator:   coord,
		Runner:        queue,
		Notifications: notes,
		Logger:        log,
	})
	a.now = func() time.Time { return time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC) }

	if err := sessions.Begin(context.Background(), domain.Session{ID: "alice"}); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	return &harness{assistant: a, store: store, sessions: sessions, notes: notes, queue: queue, repo: repo}
}

func (h *harness) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.queue.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}
}

func TestSubmit_BakeryScenario(t *testing.T) {
	var mu sync.Mutex
	var inserted []domain.Transaction
	repo := &storage.MockRepository{
		InsertTransactionFunc: func(ctx context.Context, ownerID string, tx domain.Transaction) error {
			mu.Lock()
			defer mu.Unlock()
			inserted = append(inserted, tx)
			return nil
		},
	}
	gen := &jsonGenerator{body: `{"action":"ADD_TRANSACTION","transactionData":{"description":"Bakery","amount":30,"category":"Food","type":"expense"},"replyMessage":"Logged 30 at the bakery."}`}
	h := newHarness(t, classifier.NewGeminiClassifier(gen, zerolog.Nop()), repo)

	if h.store.Len() != 0 {
		t.Fatalf("ledger starts with %d entries", h.store.Len())
	}

	res, err := h.assistant.Submit(context.Background(), Input{Text: "Spent 30 on bakery today"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Outcome.Action != classifier.ActionAddTransaction || res.Transaction == nil {
		t.Fatalf("result = %+v", res)
	}
	if res.Transaction.Type != domain.TypeExpense || !res.Transaction.Amount.Equal(decimal.NewFromInt(30)) {
		t.Errorf("transaction = %+v", res.Transaction)
	}
	if h.store.Len() != 1 {
		t.Errorf("ledger len = %d, want 1", h.store.Len())
	}

	h.drain(t)
	mu.Lock()
	defer mu.Unlock()
	if len(inserted) != 1 || inserted[0].ID != res.Transaction.ID || inserted[0].OwnerID != "alice" {
		t.Errorf("durable inserts = %+v, want the single new record", inserted)
	}
}

func TestSubmit_AddTransactionCopiesFields(t *testing.T) {
	data := classifier.TransactionData{
		Description: "Salary",
		Amount:      decimal.RequireFromString("2100.55"),
		Category:    "Work",
		Type:        domain.TypeIncome,
	}
	cls := &MockClassifier{ClassifyFunc: func(ctx context.Context, req *normalizer.Request) classifier.Outcome {
		return classifier.AddTransaction(data, "Nice!")
	}}
	h := newHarness(t, cls, &storage.MockRepository{})

	res, err := h.assistant.Submit(context.Background(), Input{Text: "got paid"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	h.drain(t)

	snap := h.store.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("ledger len = %d, want 1", len(snap))
	}
	got := snap[0]
	if got.Type != data.Type || got.Category != data.Category || !got.Amount.Equal(data.Amount) || got.Description != data.Description {
		t.Errorf("ledger entry = %+v, want fields of %+v", got, data)
	}
	if got.ID == "" || got.ID != res.Transaction.ID {
		t.Errorf("id = %q, result id = %q", got.ID, res.Transaction.ID)
	}
	if !got.Date.Equal(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("date = %v", got.Date)
	}
	if res.TaskID == "" {
		t.Error("result should name the background write")
	}
}

func TestSubmit_ChatOnlyLeavesLedger(t *testing.T) {
	cls := &MockClassifier{ClassifyFunc: func(ctx context.Context, req *normalizer.Request) classifier.Outcome {
		return classifier.Fallback()
	}}
	h := newHarness(t, cls, &storage.MockRepository{})

	res, err := h.assistant.Submit(context.Background(), Input{Text: "hello"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Transaction != nil || res.Outcome.Reply != classifier.FallbackReply {
		t.Errorf("result = %+v", res)
	}
	if h.store.Len() != 0 {
		t.Errorf("ledger len = %d, want 0", h.store.Len())
	}
}

func TestSubmit_InvalidInput(t *testing.T) {
	cls := &MockClassifier{}
	h := newHarness(t, cls, &storage.MockRepository{})

	_, err := h.assistant.Submit(context.Background(), Input{Text: "   "})
	var ie *normalizer.InvalidInputError
	if !errors.As(err, &ie) {
		t.Fatalf("error = %v, want InvalidInputError", err)
	}
	if cls.LastRequest != nil {
		t.Error("classifier must not be called for empty input")
	}
}

func TestSubmit_NoSession(t *testing.T) {
	h := newHarness(t, &MockClassifier{}, &storage.MockRepository{})
	h.sessions.End()

	_, err := h.assistant.Submit(context.Background(), Input{Text: "hi"})
	if !errors.Is(err, session.ErrNoSession) {
		t.Errorf("error = %v, want ErrNoSession", err)
	}
}

func TestSubmit_PassesContextAndPersona(t *testing.T) {
	cls := &MockClassifier{}
	repo := &storage.MockRepository{
		ListTransactionsFunc: func(ctx context.Context, ownerID string) ([]domain.Transaction, error) {
			var txs []domain.Transaction
			for _, id := range []string{"1", "2", "3", "4", "5", "6", "7", "8", "9", "10", "11", "12"} {
				txs = append(txs, domain.Transaction{ID: id, Type: domain.TypeExpense})
			}
			return txs, nil
		},
		GetSettingsFunc: func(ctx context.Context, ownerID string) (domain.Settings, error) {
			return domain.Settings{PersonaText: "Talk like a pirate."}, nil
		},
	}
	h := newHarness(t, cls, repo)

	if _, err := h.assistant.Submit(context.Background(), Input{Text: "how am I doing?"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	req := cls.LastRequest
	if req.Persona != "Talk like a pirate." {
		t.Errorf("persona = %q", req.Persona)
	}
	if len(req.Recent) != normalizer.DefaultContextWindow || req.Recent[0].ID != "12" {
		t.Errorf("recent = %d records starting at %q, want 10 most-recent-first", len(req.Recent), req.Recent[0].ID)
	}
}

func TestSubmit_DurableFailureKeepsLocalAndWarns(t *testing.T) {
	var attempts int
	var mu sync.Mutex
	repo := &storage.MockRepository{
		InsertTransactionFunc: func(ctx context.Context, ownerID string, tx domain.Transaction) error {
			mu.Lock()
			attempts++
			mu.Unlock()
			return errors.New("offline")
		},
	}
	cls := &MockClassifier{ClassifyFunc: func(ctx context.Context, req *normalizer.Request) classifier.Outcome {
		return classifier.AddTransaction(classifier.TransactionData{Description: "Tea", Amount: decimal.NewFromInt(2), Category: "Food", Type: domain.TypeExpense}, "ok")
	}}
	h := newHarness(t, cls, repo)

	if _, err := h.assistant.Submit(context.Background(), Input{Text: "tea 2"}); err != nil {
		t.Fatalf("Submit should not fail on durable errors: %v", err)
	}
	h.drain(t)

	if h.store.Len() != 1 {
		t.Error("transaction must stay in the ledger")
	}
	if attempts != 2 {
		t.Errorf("insert attempts = %d, want 2 (one retry)", attempts)
	}
	notes := h.notes.List("alice")
	if len(notes) != 1 || notes[0].Level != notify.LevelWarning || notes[0].Message != msgSavedLocally {
		t.Errorf("notifications = %+v", notes)
	}
}

func TestDeleteTransaction_FailureRestoresAndNotifies(t *testing.T) {
	tx := domain.Transaction{ID: "keep", Amount: decimal.NewFromInt(5), Type: domain.TypeExpense, OwnerID: "alice", Description: "Lunch"}
	repo := &storage.MockRepository{
		ListTransactionsFunc: func(ctx context.Context, ownerID string) ([]domain.Transaction, error) {
			return []domain.Transaction{tx}, nil
		},
		DeleteTransactionFunc: func(ctx context.Context, ownerID, id string) error {
			return errors.New("denied")
		},
	}
	h := newHarness(t, &MockClassifier{}, repo)

	err := h.assistant.DeleteTransaction(context.Background(), "keep")
	var pe *reconcile.PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("error = %v, want PersistenceError", err)
	}
	got, ok := h.store.Get("keep")
	if !ok || !got.Equal(tx) {
		t.Errorf("ledger entry = %+v, %v; want restored %+v", got, ok, tx)
	}
	notes := h.notes.List("alice")
	if len(notes) != 1 || notes[0].Level != notify.LevelError {
		t.Errorf("notifications = %+v", notes)
	}
}

func TestDeleteTransaction_Success(t *testing.T) {
	repo := &storage.MockRepository{
		ListTransactionsFunc: func(ctx context.Context, ownerID string) ([]domain.Transaction, error) {
			return []domain.Transaction{{ID: "gone", Type: domain.TypeIncome, OwnerID: "alice"}}, nil
		},
	}
	h := newHarness(t, &MockClassifier{}, repo)

	if err := h.assistant.DeleteTransaction(context.Background(), "gone"); err != nil {
		t.Fatalf("DeleteTransaction: %v", err)
	}
	if h.store.Len() != 0 {
		t.Error("transaction should be removed")
	}
}

func TestImport_ValidBackup(t *testing.T) {
	var replaced []domain.Transaction
	repo := &storage.MockRepository{
		InsertTransactionsFunc: func(ctx context.Context, ownerID string, txs []domain.Transaction) error {
			replaced = txs
			return nil
		},
	}
	h := newHarness(t, &MockClassifier{}, repo)
	h.store.Append(domain.Transaction{ID: "old", Type: domain.TypeIncome, OwnerID: "alice"})

	n, err := h.assistant.Import(context.Background(), []byte(`[{"id":"1","amount":10,"date":"2024-01-01T00:00:00Z","description":"x","category":"y","type":"income"}]`))
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if n != 1 {
		t.Errorf("imported %d, want 1", n)
	}

	want := domain.Transaction{
		ID:          "1",
		Date:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Description: "x",
		Amount:      decimal.NewFromInt(10),
		Category:    "y",
		Type:        domain.TypeIncome,
		OwnerID:     "alice",
	}
	snap := h.store.Snapshot()
	if len(snap) != 1 || !snap[0].Equal(want) {
		t.Errorf("ledger = %+v, want exactly %+v", snap, want)
	}
	if len(replaced) != 1 || !replaced[0].Equal(want) {
		t.Errorf("durable replace = %+v", replaced)
	}
}

func TestImport_InvalidBackupChangesNothing(t *testing.T) {
	called := false
	repo := &storage.MockRepository{
		DeleteAllTransactionsFunc: func(ctx context.Context, ownerID string) error {
			called = true
			return nil
		},
	}
	h := newHarness(t, &MockClassifier{}, repo)
	existing := domain.Transaction{ID: "old", Type: domain.TypeIncome, OwnerID: "alice"}
	h.store.Append(existing)

	_, err := h.assistant.Import(context.Background(), []byte(`[{"id":"1"}]`))
	if err == nil || !strings.Contains(err.Error(), "invalid backup") {
		t.Fatalf("error = %v, want validation error", err)
	}
	snap := h.store.Snapshot()
	if len(snap) != 1 || !snap[0].Equal(existing) {
		t.Errorf("ledger changed: %+v", snap)
	}
	if called {
		t.Error("durable store must not be touched by a rejected import")
	}
}

func TestImport_DurableFailureNotifies(t *testing.T) {
	repo := &storage.MockRepository{
		InsertTransactionsFunc: func(ctx context.Context, ownerID string, txs []domain.Transaction) error {
			return errors.New("quota")
		},
	}
	h := newHarness(t, &MockClassifier{}, repo)

	_, err := h.assistant.Import(context.Background(), []byte(`[{"id":"1","amount":1,"date":"2024-01-01T00:00:00Z","type":"income"}]`))
	var pe *reconcile.PersistenceError
	if !errors.As(err, &pe) || pe.Stage != storage.StageInsert {
		t.Fatalf("error = %v, want insert-stage PersistenceError", err)
	}
	if h.store.Len() != 1 {
		t.Error("local ledger keeps the imported set")
	}
	if notes := h.notes.List("alice"); len(notes) != 1 || notes[0].Level != notify.LevelError {
		t.Errorf("notifications = %+v", notes)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	h := newHarness(t, &MockClassifier{}, &storage.MockRepository{})
	h.store.Append(domain.Transaction{ID: "a", Date: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Amount: decimal.NewFromInt(3), Type: domain.TypeExpense, OwnerID: "alice"})

	path := t.TempDir() + "/ledger.json"
	if err := h.assistant.ExportTo(context.Background(), path); err != nil {
		t.Fatalf("ExportTo: %v", err)
	}
	h.store.Reset()

	n, err := h.assistant.ImportFrom(context.Background(), path)
	if err != nil {
		t.Fatalf("ImportFrom: %v", err)
	}
	if n != 1 || h.store.Len() != 1 {
		t.Errorf("imported %d, ledger len %d", n, h.store.Len())
	}
}

func TestUpdateSettings(t *testing.T) {
	saved := make(chan domain.Settings, 1)
	repo := &storage.MockRepository{
		PutSettingsFunc: func(ctx context.Context, ownerID string, s domain.Settings) error {
			saved <- s
			return nil
		},
	}
	h := newHarness(t, &MockClassifier{}, repo)

	applied, taskID, err := h.assistant.UpdateSettings(context.Background(), domain.Settings{PersonaText: "Be brief", Currency: "eur"})
	if err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}
	if applied.Currency != "EUR" || taskID == "" {
		t.Errorf("applied = %+v, task = %q", applied, taskID)
	}
	if got, _ := h.assistant.Settings(); got != applied {
		t.Errorf("Settings() = %+v, want %+v immediately", got, applied)
	}
	h.drain(t)
	if got := <-saved; got != applied {
		t.Errorf("saved = %+v", got)
	}
}

func TestUpdateSettings_SaveFailureWarns(t *testing.T) {
	repo := &storage.MockRepository{
		PutSettingsFunc: func(ctx context.Context, ownerID string, s domain.Settings) error {
			return errors.New("offline")
		},
	}
	h := newHarness(t, &MockClassifier{}, repo)

	if _, _, err := h.assistant.UpdateSettings(context.Background(), domain.Settings{PersonaText: "x"}); err != nil {
		t.Fatalf("UpdateSettings must not fail on save errors: %v", err)
	}
	h.drain(t)

	if got, _ := h.assistant.Settings(); got.PersonaText != "x" {
		t.Error("settings stay applied locally")
	}
	notes, _ := h.assistant.Notifications()
	if len(notes) != 1 || notes[0].Message != msgSettingsNotSaved {
		t.Fatalf("notifications = %+v", notes)
	}
	if ok, _ := h.assistant.Dismiss(notes[0].ID); !ok {
		t.Error("Dismiss returned false")
	}
}

func TestDeleteTransaction_AbsentIDFailureSaysNotSaved(t *testing.T) {
	repo := &storage.MockRepository{
		DeleteTransactionFunc: func(ctx context.Context, ownerID, id string) error {
			return errors.New("denied")
		},
	}
	h := newHarness(t, &MockClassifier{}, repo)

	err := h.assistant.DeleteTransaction(context.Background(), "elsewhere")
	var pe *reconcile.PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("error = %v, want PersistenceError", err)
	}
	if h.store.Len() != 0 {
		t.Errorf("ledger len = %d, nothing should be restored", h.store.Len())
	}
	notes := h.notes.List("alice")
	if len(notes) != 1 || notes[0].Message != msgDeleteNotSaved {
		t.Errorf("notifications = %+v, want %q", notes, msgDeleteNotSaved)
	}
}

func TestDeleteTransaction_CancelsRetryingInsert(t *testing.T) {
	var mu sync.Mutex
	durable := make(map[string]bool)
	attempts := 0
	failed := make(chan struct{})
	repo := &storage.MockRepository{
		InsertTransactionFunc: func(ctx context.Context, ownerID string, tx domain.Transaction) error {
			mu.Lock()
			defer mu.Unlock()
			attempts++
			if attempts == 1 {
				close(failed)
				return errors.New("offline")
			}
			durable[tx.ID] = true
			return nil
		},
		DeleteTransactionFunc: func(ctx context.Context, ownerID, id string) error {
			mu.Lock()
			defer mu.Unlock()
			delete(durable, id)
			return nil
		},
	}
	cls := &MockClassifier{ClassifyFunc: func(ctx context.Context, req *normalizer.Request) classifier.Outcome {
		return classifier.AddTransaction(classifier.TransactionData{Description: "Tea", Amount: decimal.NewFromInt(2), Category: "Food", Type: domain.TypeExpense}, "ok")
	}}
	h := newHarness(t, cls, repo)
	h.queue.Backoff = func(int) time.Duration { return 200 * time.Millisecond }

	res, err := h.assistant.Submit(context.Background(), Input{Text: "tea 2"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-failed

	if err := h.assistant.DeleteTransaction(context.Background(), res.Transaction.ID); err != nil {
		t.Fatalf("DeleteTransaction: %v", err)
	}
	h.drain(t)

	mu.Lock()
	defer mu.Unlock()
	if durable[res.Transaction.ID] {
		t.Error("retried insert landed after the delete")
	}
	if h.store.Len() != 0 {
		t.Errorf("ledger len = %d, want 0", h.store.Len())
	}
	if len(h.notes.List("alice")) != 0 {
		t.Errorf("notifications = %+v, want none", h.notes.List("alice"))
	}
}

func TestPendingInserts(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name       string
		deleteErr  error
		wantInsert bool
	}{
		{name: "delete cancels insert", deleteErr: nil, wantInsert: false},
		{name: "failed delete keeps insert", deleteErr: boom, wantInsert: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPendingInserts()
			p.add("t1")

			if err := p.remove("t1", func() error { return tt.deleteErr }); err != tt.deleteErr {
				t.Fatalf("remove error = %v, want %v", err, tt.deleteErr)
			}
			inserted := false
			if err := p.insert("t1", func() error { inserted = true; return nil }); err != nil {
				t.Fatalf("insert: %v", err)
			}
			if inserted != tt.wantInsert {
				t.Errorf("inserted = %v, want %v", inserted, tt.wantInsert)
			}
			if _, ok := p.cancelled["t1"]; ok {
				t.Error("t1 should be forgotten once the insert settles")
			}
		})
	}
}
