package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"nlink_desk/internal/ipc"
	"nlink_desk/internal/profile"
	"nlink_desk/internal/shared/types"
)

const maxBodySize = 4 << 20

// ShellController is what the web handler needs from the shell.
// It decouples the web package from the app package.
type ShellController interface {
	TailLogs(n int) []types.LogEntry
	HeadLogs(n int) []types.LogEntry

	Profiles() []profile.Profile
	CurrentProfile() profile.Profile
	CreateLocal(name, content string) (profile.Profile, error)
	ImportRemote(ctx context.Context, url string, makeCurrent bool) (profile.Profile, error)
	SetCurrent(ctx context.Context, id string, apply bool) (profile.Profile, error)
	UpdateContent(id, content string) (profile.Profile, error)
	RefreshProfile(ctx context.Context, id string) (profile.Profile, error)
	RemoveProfile(id string) error

	ApplyCurrent(ctx context.Context) error
	StopBackend(ctx context.Context) error
	SelectFile(ctx context.Context, title string) (string, error)

	Status() ShellStatus
}

// ShellStatus is returned by GET /api/status.
type ShellStatus struct {
	BackendURL       string    `json:"backend_url"`
	LogStreamRunning bool      `json:"log_stream_running"`
	LogCount         int       `json:"log_count"`
	LogCapacity      int       `json:"log_capacity"`
	LogTotal         uint64    `json:"log_total"`
	CurrentProfileID string    `json:"current_profile_id"`
	CurrentProfile   string    `json:"current_profile"`
	Profiles         int       `json:"profiles"`
	StartedAt        time.Time `json:"started_at"`
}

// Handler holds the dependencies of the HTTP handlers.
type Handler struct {
	shell ShellController
	hub   *Hub
}

func NewHandler(shell ShellController, hub *Hub) *Handler {
	return &Handler{shell: shell, hub: hub}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(data)
}

// writeError maps an error onto a status code. IPC failures have already been pushed
// to the UI by the hub, so they are only reported in the response here.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case ipc.IsApplication(err):
		status = http.StatusUnprocessableEntity
	case ipc.IsTransport(err):
		status = http.StatusBadGateway
	case errors.Is(err, profile.ErrProfileNotFound):
		status = http.StatusNotFound
	case errors.Is(err, profile.ErrProfileInUse),
		errors.Is(err, profile.ErrLastProfile),
		errors.Is(err, profile.ErrNotRemote),
		errors.Is(err, profile.ErrDuplicateID):
		status = http.StatusConflict
	case errors.Is(err, profile.ErrFetchFailed):
		status = http.StatusBadGateway
	case errors.Is(err, errBadRequest):
		status = http.StatusBadRequest
	}
	msg := err.Error()
	var ipcErr *ipc.Error
	if errors.As(err, &ipcErr) {
		msg = ipcErr.UserMessage()
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

var errBadRequest = errors.New("bad request")

func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return errors.Join(errBadRequest, err)
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return errors.Join(errBadRequest, err)
	}
	return nil
}

func countParam(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("n"))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// HandleTailLogs handles GET /api/logs?n=.
func (h *Handler) HandleTailLogs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.shell.TailLogs(countParam(r)))
}

// HandleHeadLogs handles GET /api/logs/head?n=.
func (h *Handler) HandleHeadLogs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.shell.HeadLogs(countParam(r)))
}

type profilesResponse struct {
	CurrentID string            `json:"current_id"`
	Profiles  []profile.Profile `json:"profiles"`
}

// HandleListProfiles handles GET /api/profiles.
func (h *Handler) HandleListProfiles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, profilesResponse{
		CurrentID: h.shell.CurrentProfile().ID,
		Profiles:  h.shell.Profiles(),
	})
}

type createProfileRequest struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// HandleCreateProfile handles POST /api/profiles. An empty content creates the local default.
func (h *Handler) HandleCreateProfile(w http.ResponseWriter, r *http.Request) {
	var req createProfileRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	p, err := h.shell.CreateLocal(req.Name, req.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

type importRemoteRequest struct {
	URL         string `json:"url"`
	MakeCurrent bool   `json:"make_current"`
}

// HandleImportRemote handles POST /api/profiles/remote.
func (h *Handler) HandleImportRemote(w http.ResponseWriter, r *http.Request) {
	var req importRemoteRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.URL == "" {
		writeError(w, errors.Join(errBadRequest, errors.New("url is required")))
		return
	}
	p, err := h.shell.ImportRemote(r.Context(), req.URL, req.MakeCurrent)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// HandleGetCurrent handles GET /api/profiles/current.
func (h *Handler) HandleGetCurrent(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.shell.CurrentProfile())
}

type setCurrentRequest struct {
	ID    string `json:"id"`
	Apply bool   `json:"apply"`
}

// HandleSetCurrent handles PUT /api/profiles/current.
func (h *Handler) HandleSetCurrent(w http.ResponseWriter, r *http.Request) {
	var req setCurrentRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	p, err := h.shell.SetCurrent(r.Context(), req.ID, req.Apply)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type updateContentRequest struct {
	Content string `json:"content"`
}

// HandleUpdateContent handles PUT /api/profiles/{id}/content.
func (h *Handler) HandleUpdateContent(w http.ResponseWriter, r *http.Request) {
	var req updateContentRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	p, err := h.shell.UpdateContent(chi.URLParam(r, "id"), req.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// HandleRefreshProfile handles POST /api/profiles/{id}/refresh.
func (h *Handler) HandleRefreshProfile(w http.ResponseWriter, r *http.Request) {
	p, err := h.shell.RefreshProfile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// HandleDeleteProfile handles DELETE /api/profiles/{id}.
func (h *Handler) HandleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	if err := h.shell.RemoveProfile(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleRestart handles POST /api/backend/restart.
func (h *Handler) HandleRestart(w http.ResponseWriter, r *http.Request) {
	if err := h.shell.ApplyCurrent(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// HandleStop handles POST /api/backend/stop.
func (h *Handler) HandleStop(w http.ResponseWriter, r *http.Request) {
	if err := h.shell.StopBackend(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type selectFileRequest struct {
	Title string `json:"title"`
}

// HandleSelectFile handles POST /api/backend/select_file.
func (h *Handler) HandleSelectFile(w http.ResponseWriter, r *http.Request) {
	var req selectFileRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	path, err := h.shell.SelectFile(r.Context(), req.Title)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": path})
}

type statusResponse struct {
	ShellStatus
	Clients       int            `json:"ws_clients"`
	Notifications []Notification `json:"notifications"`
}

// HandleStatus handles GET /api/status.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		ShellStatus:   h.shell.Status(),
		Clients:       h.hub.ClientCount(),
		Notifications: h.hub.RecentNotifications(),
	})
}
