package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/hive/internal/model"
	"github.com/sakif/hive/internal/service"
)

// WorkspaceHandler manages workspaces and their swarm configuration.
// Every route is behind RequireSession.
type WorkspaceHandler struct {
	workspaces *service.WorkspaceService
	logger     *slog.Logger
}

func NewWorkspaceHandler(workspaces *service.WorkspaceService, logger *slog.Logger) *WorkspaceHandler {
	return &WorkspaceHandler{workspaces: workspaces, logger: logger}
}

type workspaceRequest struct {
	Name          string `json:"name"`
	Slug          string `json:"slug"`
	Description   string `json:"description"`
	RepositoryURL string `json:"repositoryUrl"`
}

func (req workspaceRequest) input() service.WorkspaceInput {
	return service.WorkspaceInput{
		Name:          req.Name,
		Slug:          req.Slug,
		Description:   req.Description,
		RepositoryURL: req.RepositoryURL,
	}
}

type swarmRequest struct {
	Name                 string            `json:"name"`
	RepositoryURL        string            `json:"repositoryUrl"`
	DefaultBranch        string            `json:"defaultBranch"`
	PoolAPIKey           string            `json:"poolApiKey"`
	ContainerFiles       map[string]string `json:"containerFiles"`
	EnvironmentVariables []model.EnvVar    `json:"environmentVariables"`
}

// HandleCreate handles POST /api/workspaces.
func (h *WorkspaceHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req workspaceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	ws, err := h.workspaces.Create(r.Context(), userID, req.input())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ws)
}

// HandleList handles GET /api/workspaces?limit=20&offset=0.
//
// Bad numbers fall back to the defaults instead of failing.
func (h *WorkspaceHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	list, err := h.workspaces.List(r.Context(), userID, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []model.Workspace{}
	}
	writeJSON(w, http.StatusOK, list)
}

// HandleGet handles GET /api/workspaces/{slug}.
func (h *WorkspaceHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	ws, err := h.workspaces.Get(r.Context(), userID, chi.URLParam(r, "slug"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ws)
}

// HandleUpdate handles PUT /api/workspaces/{slug}.
func (h *WorkspaceHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req workspaceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	ws, err := h.workspaces.Update(r.Context(), userID, chi.URLParam(r, "slug"), req.input())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ws)
}

// HandleDelete handles DELETE /api/workspaces/{slug}.
func (h *WorkspaceHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := h.workspaces.Delete(r.Context(), userID, chi.URLParam(r, "slug")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleConfigureSwarm handles PUT /api/workspaces/{slug}/swarm.
func (h *WorkspaceHandler) HandleConfigureSwarm(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req swarmRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	swarm, err := h.workspaces.ConfigureSwarm(r.Context(), userID, chi.URLParam(r, "slug"), service.SwarmInput{
		Name:                 req.Name,
		RepositoryURL:        req.RepositoryURL,
		DefaultBranch:        req.DefaultBranch,
		PoolAPIKey:           req.PoolAPIKey,
		ContainerFiles:       req.ContainerFiles,
		EnvironmentVariables: req.EnvironmentVariables,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, swarm)
}
