package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"statebridge/internal/domain"
	"statebridge/internal/service"
	"statebridge/pkg/response"

	"github.com/go-playground/validator/v10"
)

const maxPackageSize = 8 << 20

type MigrationHandler struct {
	migration *service.MigrationCoordinator
	validate  *validator.Validate
}

func NewMigrationHandler(migration *service.MigrationCoordinator) *MigrationHandler {
	return &MigrationHandler{
		migration: migration,
		validate:  validator.New(),
	}
}

func (h *MigrationHandler) Export(w http.ResponseWriter, r *http.Request) {
	result, err := h.migration.ExportProjectPackage(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, domain.ExportResponse{
		Package:   result.Package,
		Code:      result.Code,
		ExpiresAt: result.ExpiresAt,
	})
}

// Import takes the package file itself as the request body.
func (h *MigrationHandler) Import(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPackageSize))
	if err != nil {
		response.Error(w, http.StatusRequestEntityTooLarge, "Package too large")
		return
	}

	if err := h.migration.ImportProjectPackage(r.Context(), data); err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, map[string]string{"message": "Project imported, reload to continue"})
}

func (h *MigrationHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req domain.RedeemCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request payload")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	if err := h.migration.ImportWithCode(r.Context(), req.Code); err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, map[string]string{"message": "Project transferred, reload to continue"})
}

func (h *MigrationHandler) Restore(w http.ResponseWriter, r *http.Request) {
	result, err := h.migration.AIRecommendedRestore(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, domain.RestoreResponse{
		Restored: result.Restored,
		Reason:   result.Reason,
	})
}

func (h *MigrationHandler) History(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > 100 {
			response.BadRequest(w, "limit must be between 0 and 100")
			return
		}
		limit = n
	}

	records, err := h.migration.MigrationHistory(r.Context(), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if records == nil {
		records = []*domain.MigrationHistoryRecord{}
	}

	response.Success(w, records)
}
