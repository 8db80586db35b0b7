// Package app builds the object graph shared by the server and the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/finance-assistant/internal/assistant"
	"github.com/dvloznov/finance-assistant/internal/backup"
	"github.com/dvloznov/finance-assistant/internal/classifier"
	"github.com/dvloznov/finance-assistant/internal/config"
	"github.com/dvloznov/finance-assistant/internal/jobs/inmemory"
	"github.com/dvloznov/finance-assistant/internal/ledger"
	"github.com/dvloznov/finance-assistant/internal/notify"
	"github.com/dvloznov/finance-assistant/internal/reconcile"
	"github.com/dvloznov/finance-assistant/internal/session"
	"github.com/dvloznov/finance-assistant/internal/storage"
	bqstore "github.com/dvloznov/finance-assistant/internal/storage/bigquery"
	"github.com/dvloznov/finance-assistant/internal/storage/local"
	mongostore "github.com/dvloznov/finance-assistant/internal/storage/mongo"
	"github.com/rs/zerolog"
)

// App holds every long-lived component.
type App struct {
	Config        *config.Config
	Log           zerolog.Logger
	Repository    storage.Repository
	Ledger        *ledger.Store
	Sessions      *session.Manager
	Coordinator   *reconcile.Coordinator
	Jobs          *inmemory.Store
	Queue         *inmemory.Queue
	Notifications *notify.Center
	Assistant     *assistant.Assistant
}

// Overrides replace components that New would otherwise build from cfg.
type Overrides struct {
	Classifier classifier.Classifier
	Repository storage.Repository
}

// New wires the application and starts the task workers.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger, o Overrides) (*App, error) {
	repo := o.Repository
	if repo == nil {
		var err error
		repo, err = OpenRepository(ctx, cfg, log)
		if err != nil {
			return nil, fmt.Errorf("New: %w", err)
		}
	}

	cls := o.Classifier
	if cls == nil {
		client, err := classifier.NewGenAIClient(ctx, cfg.GeminiAPIKey)
		if err != nil {
			repo.Close()
			return nil, fmt.Errorf("New: %w", err)
		}
		cls = classifier.NewGeminiClassifier(client.Models, log,
			classifier.WithModels(cfg.ClassifierModel, cfg.ClassifierFastModel))
	}

	store := ledger.NewStore()
	sessions := session.NewManager(store, repo, log)
	coord := reconcile.NewCoordinator(store, repo, sessions, log)

	jobStore := inmemory.NewStore()
	queue := inmemory.NewQueue(jobStore, log,
		inmemory.WithWorkers(cfg.TaskWorkers),
		inmemory.WithMaxRetries(cfg.TaskMaxRetries))
	if err := queue.Start(); err != nil {
		repo.Close()
		return nil, fmt.Errorf("New: starting queue: %w", err)
	}

	notes := notify.NewCenter()

	a := assistant.New(assistant.Deps{
		Classifier:    cls,
		Store:         store,
		Sessions:      sessions,
		Coordinator:   coord,
		Runner:        queue,
		Notifications: notes,
		Files:         &backup.Files{},
		ContextWindow: cfg.ContextWindow,
		Logger:        log,
	})

	return &App{
		Config:        cfg,
		Log:           log,
		Repository:    repo,
		Ledger:        store,
		Sessions:      sessions,
		Coordinator:   coord,
		Jobs:          jobStore,
		Queue:         queue,
		Notifications: notes,
		Assistant:     a,
	}, nil
}

// OpenRepository connects the durable backend named by cfg.
func OpenRepository(ctx context.Context, cfg *config.Config, log zerolog.Logger) (storage.Repository, error) {
	switch cfg.StoreBackend {
	case config.BackendBigQuery:
		repo, err := bqstore.NewRepository(ctx, cfg.BQProject, cfg.BQDataset)
		if err != nil {
			return nil, fmt.Errorf("OpenRepository: %w", err)
		}
		return repo, nil
	case config.BackendMongo:
		repo, err := mongostore.Open(ctx, cfg.MongoURI, cfg.MongoDatabase, log)
		if err != nil {
			return nil, fmt.Errorf("OpenRepository: %w", err)
		}
		return repo, nil
	case config.BackendLocal, "":
		repo, err := local.NewRepository(cfg.LocalStoreDir, log)
		if err != nil {
			return nil, fmt.Errorf("OpenRepository: %w", err)
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("OpenRepository: unknown backend %q", cfg.StoreBackend)
	}
}

// Close waits up to timeout for background writes, then releases resources.
func (a *App) Close(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if err := a.Queue.Drain(ctx); err != nil {
		a.Log.Warn().Err(err).Msg("Background tasks still running at shutdown")
		errs = append(errs, err)
	}
	if err := a.Queue.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.Repository.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
