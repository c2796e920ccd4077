package model

import (
	"fmt"
	"time"

	"github.com/LeventeLantos/cart-recovery/internal/errs"
)

type Status string

const (
	Scheduled Status = "scheduled"
	Sending   Status = "sending"
	Sent      Status = "sent"
	Delivered Status = "delivered"
	Read      Status = "read"
	Failed    Status = "failed"
	Skipped   Status = "skipped"
)

var messageTransitions = map[Status][]Status{
	Scheduled: {Sending, Skipped},
	Sending:   {Sent, Failed, Skipped},
	Sent:      {Delivered, Read, Failed},
	Delivered: {Read},
}

func (s Status) Valid() bool {
	switch s {
	case Scheduled, Sending, Sent, Delivered, Read, Failed, Skipped:
		return true
	}
	return false
}

// Live reports whether the message still occupies its (cart, step) slot.
func (s Status) Live() bool {
	return s == Scheduled || s == Sending
}

func (s Status) CanTransition(to Status) bool {
	for _, next := range messageTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

type Message struct {
	ID                string     `json:"id"`
	AccountID         string     `json:"accountId"`
	FlowID            string     `json:"flowId"`
	FlowStepID        string     `json:"flowStepId"`
	StepOrder         int        `json:"stepOrder"`
	CartID            string     `json:"cartId"`
	InstanceID        string     `json:"instanceId"`
	Status            Status     `json:"status"`
	Content           string     `json:"content"`
	ScheduledFor      time.Time  `json:"scheduledFor"`
	ClaimedAt         *time.Time `json:"claimedAt,omitempty"`
	SentAt            *time.Time `json:"sentAt,omitempty"`
	DeliveredAt       *time.Time `json:"deliveredAt,omitempty"`
	ReadAt            *time.Time `json:"readAt,omitempty"`
	FailedReason      *string    `json:"failedReason,omitempty"`
	ProviderMessageID *string    `json:"providerMessageId,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// Outcome is a status change applied to a message, with the fields that the
// target status populates.
type Outcome struct {
	Status            Status
	At                time.Time
	Reason            string
	ProviderMessageID string
}

// Apply validates the transition and stamps the matching timestamp field.
func (m *Message) Apply(o Outcome) error {
	if !m.Status.CanTransition(o.Status) {
		return fmt.Errorf("%w: message %s %s -> %s", errs.ErrIllegalTransition, m.ID, m.Status, o.Status)
	}

	at := o.At
	switch o.Status {
	case Sending:
		m.ClaimedAt = &at
	case Sent:
		m.SentAt = &at
		if o.ProviderMessageID != "" {
			id := o.ProviderMessageID
			m.ProviderMessageID = &id
		}
	case Delivered:
		m.DeliveredAt = &at
	case Read:
		m.ReadAt = &at
	}
	if o.Reason != "" {
		r := o.Reason
		m.FailedReason = &r
	}

	m.Status = o.Status
	m.UpdatedAt = at
	return nil
}
