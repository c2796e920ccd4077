package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/LeventeLantos/cart-recovery/internal/model"
	"github.com/LeventeLantos/cart-recovery/internal/service"
)

type cartItemRequest struct {
	Name     string          `json:"name" validate:"required"`
	Quantity int             `json:"quantity" validate:"gte=0"`
	Price    decimal.Decimal `json:"price"`
}

type cartAbandonedRequest struct {
	Customer struct {
		Name  string `json:"name"`
		Phone string `json:"phone" validate:"required,phone"`
	} `json:"customer"`
	Cart struct {
		ID    string            `json:"id" validate:"required"`
		Value decimal.Decimal   `json:"value"`
		Items []cartItemRequest `json:"items" validate:"dive"`
	} `json:"cart"`
	StoreID string `json:"store_id"`
}

type replyRequest struct {
	InstanceID string    `json:"instanceId" validate:"required"`
	Phone      string    `json:"phone" validate:"required"`
	Message    string    `json:"message" validate:"required"`
	Timestamp  timestamp `json:"timestamp"`
}

type messageStatusRequest struct {
	ProviderMessageID string    `json:"providerMessageId" validate:"required"`
	Status            string    `json:"status" validate:"required,oneof=delivered read failed"`
	Timestamp         timestamp `json:"timestamp"`
	Reason            string    `json:"reason"`
}

// Numeric timestamps at or above this are unix milliseconds.
const unixMillisFrom = 1e12

// timestamp accepts RFC 3339 strings and unix seconds or milliseconds, as a
// number or a numeric string. Absent or empty values leave it zero.
type timestamp struct {
	time.Time
}

func (t *timestamp) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if raw == "null" || raw == `""` {
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		raw = strings.TrimSpace(s)
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("timestamp %q is neither RFC 3339 nor a unix time", raw)
	}
	if n >= unixMillisFrom {
		t.Time = time.UnixMilli(int64(n)).UTC()
		return nil
	}
	t.Time = time.Unix(int64(n), 0).UTC()
	return nil
}

// bind decodes and validates the JSON body, writing a 400 on failure.
func (h *Handler) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		badRequest(c, "invalid JSON body: "+err.Error())
		return false
	}
	if err := h.validate.Struct(req); err != nil {
		badRequest(c, describeValidation(err))
		return false
	}
	return true
}

func (h *Handler) CartAbandoned(c *gin.Context) {
	var req cartAbandonedRequest
	if !h.bind(c, &req) {
		return
	}

	items := make([]model.CartItem, 0, len(req.Cart.Items))
	for _, it := range req.Cart.Items {
		items = append(items, model.CartItem{Name: it.Name, Quantity: it.Quantity, Price: it.Price})
	}

	account := accountFrom(c)
	cart, err := h.intake.Receive(c.Request.Context(), account.ID, service.CartInput{
		CustomerName:  req.Customer.Name,
		CustomerPhone: req.Customer.Phone,
		ExternalID:    req.Cart.ID,
		StoreID:       req.StoreID,
		Value:         req.Cart.Value,
		Items:         items,
	})
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"message":         "Abandoned cart received and processing started",
		"cart_id":         cart.ID,
		"recovery_status": cart.RecoveryStatus,
	})
}

func (h *Handler) WhatsAppReply(c *gin.Context) {
	var req replyRequest
	if !h.bind(c, &req) {
		return
	}

	account := accountFrom(c)
	res, err := h.classifier.Classify(c.Request.Context(), service.Reply{
		AccountID:  account.ID,
		InstanceID: req.InstanceID,
		Phone:      req.Phone,
		Text:       req.Message,
		ReceivedAt: req.Timestamp.Time,
	})
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	body := gin.H{
		"success": true,
		"message": "Message received and processed",
		"result":  res.Outcome,
	}
	if res.CartID != "" {
		body["cart_id"] = res.CartID
	}
	c.JSON(http.StatusOK, body)
}

func (h *Handler) MessageStatus(c *gin.Context) {
	var req messageStatusRequest
	if !h.bind(c, &req) {
		return
	}

	account := accountFrom(c)
	msg, err := h.tracker.Update(c.Request.Context(), account.ID, req.ProviderMessageID,
		model.Status(req.Status), req.Timestamp.Time, req.Reason)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"message_id": msg.ID,
		"status":     msg.Status,
	})
}
