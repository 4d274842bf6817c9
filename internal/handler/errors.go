package handler

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"statebridge/internal/service"
	"statebridge/pkg/response"
)

// writeServiceError maps the service sentinels onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		response.UnprocessableEntity(w, strings.Join(verr.Problems, "; "))
	case errors.Is(err, service.ErrUnauthenticated):
		response.Unauthorized(w, "Sign in to use this feature")
	case errors.Is(err, service.ErrInvalidOrExpiredCode):
		response.Gone(w, service.ErrInvalidOrExpiredCode.Error())
	case errors.Is(err, service.ErrNoProjectState):
		response.NotFound(w, service.ErrNoProjectState.Error())
	case errors.Is(err, service.ErrTransport):
		log.Printf("remote backend error: %v", err)
		response.ServiceUnavailable(w, "Remote storage is unavailable, try again later")
	default:
		log.Printf("unexpected error: %v", err)
		response.InternalError(w, "Internal server error")
	}
}
