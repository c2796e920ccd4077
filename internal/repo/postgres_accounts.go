package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/LeventeLantos/cart-recovery/internal/model"
)

func (p *Postgres) AccountByToken(ctx context.Context, token string) (model.Account, error) {
	var a model.Account
	err := p.db.QueryRowContext(ctx, `
		SELECT id, name, webhook_token, created_at
		FROM accounts
		WHERE webhook_token = $1
	`, token).Scan(&a.ID, &a.Name, &a.WebhookToken, &a.CreatedAt)
	if err != nil {
		return model.Account{}, wrapDBErr("account by token", err)
	}
	return a, nil
}

func (p *Postgres) AppendReceived(ctx context.Context, m *model.ReceivedMessage) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO received_messages
			(id, account_id, cart_id, instance_id, customer_phone, content, received_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		m.ID,
		m.AccountID,
		nullString(m.CartID),
		m.InstanceID,
		m.CustomerPhone,
		m.Content,
		m.ReceivedAt,
		m.CreatedAt,
	)
	return wrapDBErr("append received message", err)
}

// AddStats upserts the day row and adds the delta to its counters.
func (p *Postgres) AddStats(ctx context.Context, d model.StatsDelta) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO daily_stats (
			account_id, flow_id, date,
			messages_sent, messages_delivered, messages_read,
			responses_received, carts_recovered, revenue_recovered
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (account_id, flow_id, date) DO UPDATE SET
			messages_sent      = daily_stats.messages_sent + EXCLUDED.messages_sent,
			messages_delivered = daily_stats.messages_delivered + EXCLUDED.messages_delivered,
			messages_read      = daily_stats.messages_read + EXCLUDED.messages_read,
			responses_received = daily_stats.responses_received + EXCLUDED.responses_received,
			carts_recovered    = daily_stats.carts_recovered + EXCLUDED.carts_recovered,
			revenue_recovered  = daily_stats.revenue_recovered + EXCLUDED.revenue_recovered
	`,
		d.AccountID,
		d.FlowID,
		model.Day(d.Date),
		d.MessagesSent,
		d.MessagesDelivered,
		d.MessagesRead,
		d.ResponsesReceived,
		d.CartsRecovered,
		d.RevenueRecovered,
	)
	return wrapDBErr("add stats", err)
}

func (p *Postgres) GetStats(ctx context.Context, accountID, flowID string, day time.Time) (model.DailyStats, error) {
	s := model.DailyStats{AccountID: accountID, FlowID: flowID, Date: model.Day(day)}
	err := p.db.QueryRowContext(ctx, `
		SELECT messages_sent, messages_delivered, messages_read,
		       responses_received, carts_recovered, revenue_recovered
		FROM daily_stats
		WHERE account_id = $1 AND flow_id = $2 AND date = $3
	`, accountID, flowID, s.Date).Scan(
		&s.MessagesSent,
		&s.MessagesDelivered,
		&s.MessagesRead,
		&s.ResponsesReceived,
		&s.CartsRecovered,
		&s.RevenueRecovered,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return s, nil
	}
	if err != nil {
		return model.DailyStats{}, wrapDBErr("get stats", err)
	}
	return s, nil
}
