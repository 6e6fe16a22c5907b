package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/hive/internal/poolmanager"
	"github.com/sakif/hive/internal/service"
)

type PoolHandler struct {
	pools  *service.PoolService
	logger *slog.Logger
}

func NewPoolHandler(pools *service.PoolService, logger *slog.Logger) *PoolHandler {
	return &PoolHandler{pools: pools, logger: logger}
}

type createPoolRequest struct {
	WorkspaceSlug  string            `json:"workspaceSlug"`
	ContainerFiles map[string]string `json:"container_files"`
}

// poolErrorResponse relays a Pool Manager failure as the manager reported it.
type poolErrorResponse struct {
	Error   string `json:"error"`
	Service string `json:"service"`
	Status  int    `json:"status"`
}

// HandleCreatePool provisions the workspace's VM pool.
//
// HTTP: POST /api/pool-manager/create-pool
// REQUEST BODY: {"workspaceSlug": "acme", "container_files": {"Dockerfile": "..."}}
func (h *PoolHandler) HandleCreatePool(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req createPoolRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	pool, err := h.pools.CreatePool(r.Context(), userID, req.WorkspaceSlug, req.ContainerFiles)
	if err != nil {
		var apiErr *poolmanager.APIError
		if errors.As(err, &apiErr) {
			writeJSON(w, apiErr.Status, poolErrorResponse{
				Error:   apiErr.Message,
				Service: apiErr.Service,
				Status:  apiErr.Status,
			})
			return
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"pool": pool})
}
