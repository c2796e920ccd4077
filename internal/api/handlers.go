package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/LeventeLantos/cart-recovery/internal/errs"
	"github.com/LeventeLantos/cart-recovery/internal/model"
	"github.com/LeventeLantos/cart-recovery/internal/repo"
	"github.com/LeventeLantos/cart-recovery/internal/scheduler"
	"github.com/LeventeLantos/cart-recovery/internal/service"
)

type Deps struct {
	Scheduler  *scheduler.Scheduler
	Dispatcher *service.Dispatcher
	Intake     *service.Intake
	Classifier *service.Classifier
	Tracker    *service.StatusTracker
	Store      repo.Store
	Validator  *validator.Validate
	Logger     *slog.Logger
}

type Handler struct {
	sched      *scheduler.Scheduler
	dispatcher *service.Dispatcher
	intake     *service.Intake
	classifier *service.Classifier
	tracker    *service.StatusTracker
	store      repo.Store
	validate   *validator.Validate
	log        *slog.Logger
}

func NewHandler(d Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	v := d.Validator
	if v == nil {
		v = NewValidator("")
	}
	return &Handler{
		sched:      d.Scheduler,
		dispatcher: d.Dispatcher,
		intake:     d.Intake,
		classifier: d.Classifier,
		tracker:    d.Tracker,
		store:      d.Store,
		validate:   v,
		log:        logger.With("module", "api"),
	}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) SchedulerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.sched.Status())
}

func (h *Handler) SchedulerStart(c *gin.Context) {
	h.sched.Start()
	c.JSON(http.StatusOK, h.sched.Status())
}

func (h *Handler) SchedulerStop(c *gin.Context) {
	h.sched.Stop()
	c.JSON(http.StatusOK, h.sched.Status())
}

// SchedulerRun performs one dispatch cycle synchronously, independent of the
// periodic loop.
func (h *Handler) SchedulerRun(c *gin.Context) {
	stats, err := h.dispatcher.Run(c.Request.Context())
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) ListMessages(c *gin.Context) {
	status := model.Status(c.DefaultQuery("status", string(model.Sent)))
	if !status.Valid() {
		badRequest(c, "unknown status "+strconv.Quote(string(status)))
		return
	}
	limit := parseInt(c.Query("limit"), 50)
	offset := parseInt(c.Query("offset"), 0)

	items, err := h.store.ListByStatus(c.Request.Context(), status, limit, offset)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	if items == nil {
		items = []model.Message{}
	}

	c.JSON(http.StatusOK, gin.H{"items": items})
}

// DeleteFlowStep removes a step from one of the caller's flows and closes the
// gap in the step order.
func (h *Handler) DeleteFlowStep(c *gin.Context) {
	ctx := c.Request.Context()
	account := accountFrom(c)
	flowID, stepID := c.Param("flowId"), c.Param("stepId")

	flow, err := h.store.GetFlow(ctx, flowID)
	if err == nil && flow.AccountID != account.ID {
		err = fmt.Errorf("flow %s: %w", flowID, errs.ErrNotFound)
	}
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	if err := h.store.DeleteStep(ctx, flowID, stepID); err != nil {
		h.handleServiceError(c, err)
		return
	}

	h.log.Info("flow step deleted", "account_id", account.ID, "flow_id", flowID, "step_id", stepID)
	c.Status(http.StatusNoContent)
}

func parseInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
