package handler

import (
	"encoding/json"
	"net/http"

	"statebridge/internal/domain"
	"statebridge/internal/service"
	"statebridge/pkg/response"

	"github.com/go-playground/validator/v10"
)

type StateHandler struct {
	vault    *service.StateVault
	validate *validator.Validate
}

func NewStateHandler(vault *service.StateVault) *StateHandler {
	return &StateHandler{
		vault:    vault,
		validate: validator.New(),
	}
}

type saveStateResponse struct {
	Saved bool `json:"saved"`
}

func (h *StateHandler) Get(w http.ResponseWriter, r *http.Request) {
	state, ok := h.vault.Load(r.Context())
	if !ok {
		response.NotFound(w, "No project state stored")
		return
	}
	response.Success(w, json.RawMessage(state))
}

// Put saves the snapshot. A failed remote save still answers 202: the
// snapshot is kept on this host and the identity is notified.
func (h *StateHandler) Put(w http.ResponseWriter, r *http.Request) {
	var req domain.SaveStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request payload")
		return
	}

	if err := h.validate.Struct(req); err != nil || !domain.SnapshotPresent(req.State) {
		response.BadRequest(w, "state is required")
		return
	}

	if !h.vault.Save(r.Context(), req.State) {
		response.JSON(w, http.StatusAccepted, saveStateResponse{Saved: false})
		return
	}
	response.Success(w, saveStateResponse{Saved: true})
}
