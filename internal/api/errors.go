package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/moogar0880/problems"

	"github.com/LeventeLantos/cart-recovery/internal/errs"
)

const problemContentType = "application/problem+json"

func writeProblem(c *gin.Context, status int, typ, detail string) {
	problem := problems.NewStatusProblem(status).
		WithInstance(c.Request.URL.Path).
		WithType(typ).
		WithDetail(detail)

	c.Header("Content-Type", problemContentType)
	c.AbortWithStatusJSON(status, problem)
}

func badRequest(c *gin.Context, detail string) {
	writeProblem(c, http.StatusBadRequest, "validation_error", detail)
}

func unauthorized(c *gin.Context, detail string) {
	writeProblem(c, http.StatusUnauthorized, "unauthorized", detail)
}

// handleServiceError maps service and repository errors onto problem responses.
// Details of unexpected errors are logged, not returned.
func (h *Handler) handleServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errs.ErrValidation):
		badRequest(c, err.Error())
	case errors.Is(err, errs.ErrUnauthorized):
		unauthorized(c, err.Error())
	case errors.Is(err, errs.ErrNotFound):
		writeProblem(c, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, errs.ErrIllegalTransition), errors.Is(err, errs.ErrDuplicate), errors.Is(err, errs.ErrInUse):
		writeProblem(c, http.StatusConflict, "conflict", err.Error())
	default:
		h.log.Error("request failed", "path", c.Request.URL.Path, "error", err)
		writeProblem(c, http.StatusInternalServerError, "internal_error", http.StatusText(http.StatusInternalServerError))
	}
}
