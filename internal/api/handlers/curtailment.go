package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rohanbalixz/clad-pv/internal/api/models"
	"github.com/rohanbalixz/clad-pv/internal/auth"
	"github.com/rohanbalixz/clad-pv/internal/control"
	"github.com/rohanbalixz/clad-pv/internal/model"
)

// Submitter applies verified commands. Satisfied by *control.Service.
type Submitter interface {
	Submit(ctx context.Context, cmd model.CurtailmentCommand, caller string) (float64, error)
}

// CurtailmentHandler handles curtailment commands
type CurtailmentHandler struct {
	svc Submitter
}

func NewCurtailmentHandler(svc Submitter) *CurtailmentHandler {
	return &CurtailmentHandler{svc: svc}
}

// Submit handles POST /api/v1/curtailment
func (h *CurtailmentHandler) Submit(c *gin.Context) {
	var req models.CurtailmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.NewError(models.CodeInvalidRequest, err.Error()))
		return
	}

	caller := c.ClientIP()
	if caller == "" {
		caller = "local"
	}
	applied, err := h.svc.Submit(c.Request.Context(), req.Command(), caller)
	if err != nil {
		status, code := classify(err)
		c.JSON(status, models.NewError(code, err.Error()))
		return
	}
	c.JSON(http.StatusOK, models.CurtailmentResponse{OK: true, Applied: applied})
}

func classify(err error) (int, string) {
	var se *control.StorageError
	switch {
	case errors.Is(err, control.ErrOutOfRange):
		return http.StatusUnprocessableEntity, models.CodeOutOfRange
	case errors.Is(err, auth.ErrStaleTimestamp):
		return http.StatusBadRequest, models.CodeStaleTimestamp
	case errors.Is(err, auth.ErrBadSignature):
		return http.StatusUnauthorized, models.CodeBadSignature
	case errors.As(err, &se):
		return http.StatusInternalServerError, models.CodeStorageError
	default:
		return http.StatusInternalServerError, models.CodeInternalError
	}
}
