package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransportType string

const (
	TransportOfficial   TransportType = "official"
	TransportUnofficial TransportType = "unofficial"
	TransportEvolution  TransportType = "evolution"
)

func (t TransportType) Valid() bool {
	switch t {
	case TransportOfficial, TransportUnofficial, TransportEvolution:
		return true
	}
	return false
}

type InstanceStatus string

const (
	InstanceConnected    InstanceStatus = "connected"
	InstanceConnecting   InstanceStatus = "connecting"
	InstanceDisconnected InstanceStatus = "disconnected"
)

// Credential keys understood by the transport backends.
const (
	CredPhoneNumberID = "phone_number_id"
	CredAccessToken   = "access_token"
	CredAPIURL        = "api_url"
	CredAPIKey        = "api_key"
	CredBridgeURL     = "bridge_url"
	CredToken         = "token"
)

type Connection struct {
	ID          string            `json:"id"`
	AccountID   string            `json:"accountId"`
	Type        TransportType     `json:"type"`
	Credentials map[string]string `json:"-"`
	CreatedAt   time.Time         `json:"createdAt"`
}

func (c Connection) Credential(key string) string {
	if c.Credentials == nil {
		return ""
	}
	return c.Credentials[key]
}

type Instance struct {
	ID           string         `json:"id"`
	AccountID    string         `json:"accountId"`
	ConnectionID string         `json:"connectionId"`
	Name         string         `json:"name"`
	Status       InstanceStatus `json:"status"`
	MessagesSent int64          `json:"messagesSent"`
	Connection   Connection     `json:"connection"`
	CreatedAt    time.Time      `json:"createdAt"`
}

func (i Instance) Connected() bool {
	return i.Status == InstanceConnected
}

type Account struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	WebhookToken string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

type ReceivedMessage struct {
	ID            string    `json:"id"`
	AccountID     string    `json:"accountId"`
	CartID        *string   `json:"cartId,omitempty"`
	InstanceID    string    `json:"instanceId"`
	CustomerPhone string    `json:"customerPhone"`
	Content       string    `json:"content"`
	ReceivedAt    time.Time `json:"receivedAt"`
	CreatedAt     time.Time `json:"createdAt"`
}

// StatsDelta is added to the daily counters of an account (and optionally a flow).
type StatsDelta struct {
	AccountID         string
	FlowID            string
	Date              time.Time
	MessagesSent      int
	MessagesDelivered int
	MessagesRead      int
	ResponsesReceived int
	CartsRecovered    int
	RevenueRecovered  decimal.Decimal
}

type DailyStats struct {
	AccountID         string          `json:"accountId"`
	FlowID            string          `json:"flowId,omitempty"`
	Date              time.Time       `json:"date"`
	MessagesSent      int             `json:"messagesSent"`
	MessagesDelivered int             `json:"messagesDelivered"`
	MessagesRead      int             `json:"messagesRead"`
	ResponsesReceived int             `json:"responsesReceived"`
	CartsRecovered    int             `json:"cartsRecovered"`
	RevenueRecovered  decimal.Decimal `json:"revenueRecovered"`
}

// Day truncates t to its UTC calendar date.
func Day(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
