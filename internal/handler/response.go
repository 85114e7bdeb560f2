package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/careline/careline-api/internal/apperr"
	"github.com/careline/careline-api/internal/model"
)

// respondError maps an application error to its HTTP status without
// leaking internal causes to the client
func respondError(c *gin.Context, err error) {
	appErr := apperr.From(err)
	if appErr.RetryAfterSeconds > 0 {
		c.Header("Retry-After", strconv.Itoa(appErr.RetryAfterSeconds))
	}
	c.JSON(appErr.HTTPStatus(), model.ErrorResponse{Error: string(appErr.Code), Message: appErr.Message})
}
