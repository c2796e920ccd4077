package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/LeventeLantos/cart-recovery/internal/errs"
)

type CartStatus string

const (
	CartPending    CartStatus = "pending"
	CartInProgress CartStatus = "in_progress"
	CartRecovered  CartStatus = "recovered"
	CartAbandoned  CartStatus = "abandoned"
	CartFailed     CartStatus = "failed"
)

// cartTransitions lists the legal edges of the recovery lifecycle.
var cartTransitions = map[CartStatus][]CartStatus{
	CartPending:    {CartInProgress, CartFailed},
	CartInProgress: {CartRecovered, CartAbandoned, CartFailed},
}

func (s CartStatus) Valid() bool {
	switch s {
	case CartPending, CartInProgress, CartRecovered, CartAbandoned, CartFailed:
		return true
	}
	return false
}

func (s CartStatus) Terminal() bool {
	return s == CartRecovered || s == CartAbandoned || s == CartFailed
}

func (s CartStatus) CanTransition(to CartStatus) bool {
	for _, next := range cartTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

type CartItem struct {
	Name     string          `json:"name"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

type Cart struct {
	ID             string          `json:"id"`
	AccountID      string          `json:"accountId"`
	CustomerPhone  string          `json:"customerPhone"`
	CustomerName   string          `json:"customerName"`
	Value          decimal.Decimal `json:"value"`
	Items          []CartItem      `json:"items"`
	ExternalID     string          `json:"externalId"`
	StoreID        string          `json:"storeId,omitempty"`
	RecoveryStatus CartStatus      `json:"recoveryStatus"`
	RecoveredAt    *time.Time      `json:"recoveredAt,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// Transition moves the cart to the given status or reports why it cannot.
func (c *Cart) Transition(to CartStatus, at time.Time) error {
	if !c.RecoveryStatus.CanTransition(to) {
		return fmt.Errorf("%w: cart %s %s -> %s", errs.ErrIllegalTransition, c.ID, c.RecoveryStatus, to)
	}
	c.RecoveryStatus = to
	c.UpdatedAt = at
	if to == CartRecovered {
		t := at
		c.RecoveredAt = &t
	}
	return nil
}

func (c *Cart) ItemNames() []string {
	names := make([]string, 0, len(c.Items))
	for _, it := range c.Items {
		if it.Name != "" {
			names = append(names, it.Name)
		}
	}
	return names
}
