package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/dvloznov/finance-assistant/internal/api/middleware"
	"github.com/dvloznov/finance-assistant/internal/assistant"
	"github.com/dvloznov/finance-assistant/internal/backup"
	"github.com/dvloznov/finance-assistant/internal/domain"
	"github.com/dvloznov/finance-assistant/internal/jobs"
	"github.com/dvloznov/finance-assistant/internal/logger"
	"github.com/dvloznov/finance-assistant/internal/normalizer"
	"github.com/dvloznov/finance-assistant/internal/reconcile"
	"github.com/dvloznov/finance-assistant/internal/session"
)

// MaxUploadSize bounds a multipart message or a backup body.
const MaxUploadSize = 20 << 20

// writeAssistantError maps pipeline errors onto HTTP statuses. Failures are
// logged through the request-scoped logger.
func writeAssistantError(w http.ResponseWriter, r *http.Request, err error, action string) {
	log := logger.FromContext(r.Context())
	var invalid *normalizer.InvalidInputError
	var importErr *backup.ImportValidationError
	var persistErr *reconcile.PersistenceError

	switch {
	case errors.Is(err, session.ErrNoSession):
		middleware.WriteError(w, http.StatusUnauthorized, "No active session")
	case errors.As(err, &invalid):
		middleware.WriteError(w, http.StatusBadRequest, invalid.Error())
	case errors.As(err, &importErr):
		middleware.WriteError(w, http.StatusBadRequest, importErr.Error())
	case errors.Is(err, reconcile.ErrDuplicateID):
		middleware.WriteError(w, http.StatusConflict, "Transaction already exists")
	case errors.Is(err, reconcile.ErrOwnerMismatch):
		middleware.WriteError(w, http.StatusBadRequest, "Transaction belongs to another user")
	case errors.As(err, &persistErr):
		log.Error().Err(err).Msg(action + " failed to persist")
		middleware.WriteError(w, http.StatusBadGateway, action+" could not be saved")
	default:
		log.Error().Err(err).Msg(action + " failed")
		middleware.WriteError(w, http.StatusInternalServerError, action+" failed")
	}
}

// SessionHandler signs users in and out.
type SessionHandler struct {
	sessions *session.Manager
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(sessions *session.Manager) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
	}
}

// BeginSessionRequest is the body of POST /api/session. Identity is
// resolved upstream; the API trusts user_id.
type BeginSessionRequest struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

// Begin handles POST /api/session
func (h *SessionHandler) Begin(w http.ResponseWriter, r *http.Request) {
	var req BeginSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		middleware.WriteError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	token := middleware.BearerToken(r)
	if h.sessions.Active() && !h.sessions.Authorize(token) {
		middleware.WriteError(w, http.StatusUnauthorized, "Another session is active")
		return
	}

	sess := domain.Session{
		ID:          strings.TrimSpace(req.UserID),
		DisplayName: req.DisplayName,
		Credential:  token,
	}
	if err := h.sessions.Begin(r.Context(), sess); err != nil {
		log := logger.WithSession(logger.FromContext(r.Context()), sess)
		log.Error().Err(err).Msg("Failed to begin session")
		middleware.WriteError(w, http.StatusServiceUnavailable, "Failed to load ledger")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"session":  sess,
		"settings": h.sessions.Settings(),
	})
}

// End handles DELETE /api/session. Ending without a session is a no-op.
func (h *SessionHandler) End(w http.ResponseWriter, r *http.Request) {
	if h.sessions.Active() && !h.sessions.Authorize(middleware.BearerToken(r)) {
		middleware.WriteError(w, http.StatusUnauthorized, "Invalid credential")
		return
	}
	h.sessions.End()
	w.WriteHeader(http.StatusNoContent)
}

// Get handles GET /api/session
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Current()
	if err != nil {
		middleware.WriteError(w, http.StatusUnauthorized, "No active session")
		return
	}
	if !h.sessions.Authorize(middleware.BearerToken(r)) {
		middleware.WriteError(w, http.StatusUnauthorized, "Invalid credential")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"session": sess,
	})
}

// MessagesHandler feeds user input into the assistant.
type MessagesHandler struct {
	assistant *assistant.Assistant
}

// NewMessagesHandler creates a new messages handler.
func NewMessagesHandler(a *assistant.Assistant) *MessagesHandler {
	return &MessagesHandler{
		assistant: a,
	}
}

// MessageRequest is the JSON form of POST /api/messages.
type MessageRequest struct {
	Text string `json:"text"`
}

// Submit handles POST /api/messages. The body is either JSON {"text": ...}
// or multipart with optional text, image and audio parts.
func (h *MessagesHandler) Submit(w http.ResponseWriter, r *http.Request) {
	in, err := readInput(w, r)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.assistant.Submit(r.Context(), in)
	if err != nil {
		writeAssistantError(w, r, err, "Message")
		return
	}

	status := http.StatusOK
	if res.Transaction != nil {
		status = http.StatusCreated
	}
	middleware.WriteJSON(w, status, res)
}

func readInput(w http.ResponseWriter, r *http.Request) (assistant.Input, error) {
	var in assistant.Input
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize)

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		if err := r.ParseMultipartForm(MaxUploadSize); err != nil {
			return in, errors.New("Invalid multipart body")
		}
		in.Text = r.FormValue("text")

		var err error
		if in.Image, err = readPart(r, "image"); err != nil {
			return in, err
		}
		if in.Audio, err = readPart(r, "audio"); err != nil {
			return in, err
		}
		return in, nil
	}

	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return in, errors.New("Invalid request body")
	}
	in.Text = req.Text
	return in, nil
}

// readPart returns the named file part, or nil if it is absent.
func readPart(r *http.Request, name string) (*normalizer.Blob, error) {
	file, header, err := r.FormFile(name)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("Invalid %s part", name)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("Failed to read %s part", name)
	}
	return &normalizer.Blob{MIMEType: partType(header, data), Data: data}, nil
}

func partType(header *multipart.FileHeader, data []byte) string {
	if ct := header.Header.Get("Content-Type"); ct != "" && ct != "application/octet-stream" {
		return ct
	}
	return http.DetectContentType(data)
}

// TransactionsHandler handles transaction-related endpoints.
type TransactionsHandler struct {
	assistant *assistant.Assistant
}

// NewTransactionsHandler creates a new transactions handler.
func NewTransactionsHandler(a *assistant.Assistant) *TransactionsHandler {
	return &TransactionsHandler{
		assistant: a,
	}
}

// ListTransactions handles GET /api/transactions
func (h *TransactionsHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.assistant.Transactions()
	if err != nil {
		writeAssistantError(w, r, err, "Listing transactions")
		return
	}
	settings, err := h.assistant.Settings()
	if err != nil {
		writeAssistantError(w, r, err, "Listing transactions")
		return
	}

	if txs == nil {
		txs = []domain.Transaction{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": txs,
		"count":        len(txs),
		"currency":     settings.Currency,
	})
}

// DeleteTransaction handles DELETE /api/transactions/{id}
func (h *TransactionsHandler) DeleteTransaction(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.assistant.DeleteTransaction(r.Context(), id); err != nil {
		writeAssistantError(w, r, err, "Delete")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// BackupHandler downloads and restores ledger backups.
type BackupHandler struct {
	assistant *assistant.Assistant
}

// NewBackupHandler creates a new backup handler.
func NewBackupHandler(a *assistant.Assistant) *BackupHandler {
	return &BackupHandler{
		assistant: a,
	}
}

// Export handles GET /api/backup
func (h *BackupHandler) Export(w http.ResponseWriter, r *http.Request) {
	data, err := h.assistant.Export()
	if err != nil {
		writeAssistantError(w, r, err, "Export")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="transactions.json"`)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// Import handles POST /api/backup. The body is the backup document.
func (h *BackupHandler) Import(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxUploadSize))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Failed to read body")
		return
	}

	n, err := h.assistant.Import(r.Context(), data)
	if err != nil {
		writeAssistantError(w, r, err, "Import")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"imported": n,
	})
}

// SettingsHandler reads and updates user settings.
type SettingsHandler struct {
	assistant *assistant.Assistant
}

// NewSettingsHandler creates a new settings handler.
func NewSettingsHandler(a *assistant.Assistant) *SettingsHandler {
	return &SettingsHandler{
		assistant: a,
	}
}

// GetSettings handles GET /api/settings
func (h *SettingsHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.assistant.Settings()
	if err != nil {
		writeAssistantError(w, r, err, "Settings")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, s)
}

// UpdateSettings handles PUT /api/settings
func (h *SettingsHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var s domain.Settings
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	applied, taskID, err := h.assistant.UpdateSettings(r.Context(), s)
	if err != nil {
		writeAssistantError(w, r, err, "Settings")
		return
	}
	middleware.WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"settings": applied,
		"task_id":  taskID,
	})
}

// NotificationsHandler lists and dismisses notifications.
type NotificationsHandler struct {
	assistant *assistant.Assistant
}

// NewNotificationsHandler creates a new notifications handler.
func NewNotificationsHandler(a *assistant.Assistant) *NotificationsHandler {
	return &NotificationsHandler{
		assistant: a,
	}
}

// ListNotifications handles GET /api/notifications
func (h *NotificationsHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	notes, err := h.assistant.Notifications()
	if err != nil {
		writeAssistantError(w, r, err, "Notifications")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": notes,
		"count":         len(notes),
	})
}

// Dismiss handles DELETE /api/notifications/{id}
func (h *NotificationsHandler) Dismiss(w http.ResponseWriter, r *http.Request, id string) {
	ok, err := h.assistant.Dismiss(id)
	if err != nil {
		writeAssistantError(w, r, err, "Notifications")
		return
	}
	if !ok {
		middleware.WriteError(w, http.StatusNotFound, "Notification not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TasksHandler exposes background task state.
type TasksHandler struct {
	store    jobs.JobStore
	sessions *session.Manager
}

// NewTasksHandler creates a new tasks handler.
func NewTasksHandler(store jobs.JobStore, sessions *session.Manager) *TasksHandler {
	return &TasksHandler{
		store:    store,
		sessions: sessions,
	}
}

// GetTask handles GET /api/tasks/{id}. Tasks of other owners are reported
// as missing.
func (h *TasksHandler) GetTask(w http.ResponseWriter, r *http.Request, taskID string) {
	sess, err := h.sessions.Current()
	if err != nil {
		middleware.WriteError(w, http.StatusUnauthorized, "No active session")
		return
	}

	job, err := h.store.GetJob(r.Context(), taskID)
	if err != nil || job.OwnerID != sess.ID {
		middleware.WriteError(w, http.StatusNotFound, "Task not found")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListTasks handles GET /api/tasks
func (h *TasksHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Current()
	if err != nil {
		middleware.WriteError(w, http.StatusUnauthorized, "No active session")
		return
	}

	query := r.URL.Query()
	filter := jobs.JobFilter{
		OwnerID: sess.ID,
		Status:  jobs.JobStatus(query.Get("status")),
	}
	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}
	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	list, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("Failed to list tasks")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list tasks")
		return
	}
	if list == nil {
		list = []*jobs.Job{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"tasks": list,
		"count": len(list),
	})
}
