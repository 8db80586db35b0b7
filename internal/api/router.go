// Package api exposes the assistant over HTTP.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/dvloznov/finance-assistant/internal/api/handlers"
	"github.com/dvloznov/finance-assistant/internal/api/middleware"
	"github.com/dvloznov/finance-assistant/internal/app"
)

// NewRouter registers every route on a new mux and wraps it in the
// middleware chain.
func NewRouter(a *app.App) http.Handler {
	log := a.Log

	sessionHandler := handlers.NewSessionHandler(a.Sessions)
	messagesHandler := handlers.NewMessagesHandler(a.Assistant)
	transactionsHandler := handlers.NewTransactionsHandler(a.Assistant)
	backupHandler := handlers.NewBackupHandler(a.Assistant)
	settingsHandler := handlers.NewSettingsHandler(a.Assistant)
	notificationsHandler := handlers.NewNotificationsHandler(a.Assistant)
	tasksHandler := handlers.NewTasksHandler(a.Jobs, a.Sessions)

	mux := http.NewServeMux()

	mux.HandleFunc("/api/session", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			sessionHandler.Begin(w, r)
		case http.MethodDelete:
			sessionHandler.End(w, r)
		case http.MethodGet:
			sessionHandler.Get(w, r)
		default:
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/messages", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			messagesHandler.Submit(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/transactions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			transactionsHandler.ListTransactions(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/transactions/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			id := strings.TrimPrefix(r.URL.Path, "/api/transactions/")
			if id == "" {
				middleware.WriteError(w, http.StatusBadRequest, "Transaction ID is required")
				return
			}
			transactionsHandler.DeleteTransaction(w, r, id)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/backup", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			backupHandler.Export(w, r)
		case http.MethodPost:
			backupHandler.Import(w, r)
		default:
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/settings", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			settingsHandler.GetSettings(w, r)
		case http.MethodPut:
			settingsHandler.UpdateSettings(w, r)
		default:
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/notifications", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			notificationsHandler.ListNotifications(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/notifications/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			id := strings.TrimPrefix(r.URL.Path, "/api/notifications/")
			if id == "" {
				middleware.WriteError(w, http.StatusBadRequest, "Notification ID is required")
				return
			}
			notificationsHandler.Dismiss(w, r, id)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/tasks", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			tasksHandler.ListTasks(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/tasks/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			taskID := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
			if taskID == "" {
				middleware.WriteError(w, http.StatusBadRequest, "Task ID is required")
				return
			}
			tasksHandler.GetTask(w, r, taskID)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	return middleware.Chain(mux,
		middleware.Recovery(log),
		middleware.RequestID,
		middleware.Logger(log),
		middleware.CORS,
		middleware.RequireSession(a.Sessions, "/health", "/api/session"),
	)
}
