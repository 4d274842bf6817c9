package handler

import (
	"encoding/json"
	"net/http"

	"statebridge/internal/domain"
	"statebridge/internal/service"
	"statebridge/pkg/response"

	"github.com/go-playground/validator/v10"
)

type ActivityHandler struct {
	activity *service.ActivityRecorder
	validate *validator.Validate
}

func NewActivityHandler(activity *service.ActivityRecorder) *ActivityHandler {
	return &ActivityHandler{
		activity: activity,
		validate: validator.New(),
	}
}

// Record accepts one activity entry. A request with only a route is a page
// view.
func (h *ActivityHandler) Record(w http.ResponseWriter, r *http.Request) {
	var req domain.RecordActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request payload")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	if req.Action == "" {
		h.activity.RecordRoute(r.Context(), req.Route)
		response.JSON(w, http.StatusAccepted, map[string]string{"message": "Activity recorded"})
		return
	}

	metadata := req.Metadata
	if req.Route != "" {
		if metadata == nil {
			metadata = make(map[string]any, 1)
		}
		metadata["route"] = req.Route
	}
	h.activity.Record(r.Context(), req.Action, metadata)

	response.JSON(w, http.StatusAccepted, map[string]string{"message": "Activity recorded"})
}
