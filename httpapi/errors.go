package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/goliatone/go-authorizations/core"
)

const (
	textCodeUnauthenticated = "AUTHORIZATION_OWNER_REQUIRED"
	textCodeProviderDenied  = "AUTHORIZATION_PROVIDER_DENIED"
)

type errorPayload struct {
	TextCode string `json:"text_code"`
	Message  string `json:"message"`
}

type errorBody struct {
	Error errorPayload `json:"error"`
}

func (h *Handler) writeError(c *gin.Context, operation string, err error) {
	rich := core.ToServiceError(err)
	status := http.StatusInternalServerError
	payload := errorPayload{TextCode: core.ServiceErrorInternal, Message: "An unexpected error occurred"}
	if rich != nil {
		if rich.Code >= http.StatusBadRequest {
			status = rich.Code
		}
		payload.TextCode = rich.TextCode
		if status < http.StatusInternalServerError {
			payload.Message = rich.Message
		}
	}
	h.logger.WithContext(c.Request.Context()).Error("authorization request failed",
		"operation", operation,
		"status", status,
		"text_code", payload.TextCode,
		"error", err.Error(),
	)
	c.AbortWithStatusJSON(status, errorBody{Error: payload})
}
