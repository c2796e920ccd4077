package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/LeventeLantos/cart-recovery/internal/errs"
	"github.com/LeventeLantos/cart-recovery/internal/model"
)

const messageColumns = `id, account_id, flow_id, flow_message_id, step_order, cart_id, instance_id,
	status, content, scheduled_for, claimed_at, sent_at, delivered_at, read_at,
	failed_reason, provider_message_id, created_at, updated_at`

func scanMessage(row rowScanner) (model.Message, error) {
	var (
		m           model.Message
		status      string
		claimedAt   sql.NullTime
		sentAt      sql.NullTime
		deliveredAt sql.NullTime
		readAt      sql.NullTime
		reason      sql.NullString
		providerID  sql.NullString
	)
	if err := row.Scan(
		&m.ID,
		&m.AccountID,
		&m.FlowID,
		&m.FlowStepID,
		&m.StepOrder,
		&m.CartID,
		&m.InstanceID,
		&status,
		&m.Content,
		&m.ScheduledFor,
		&claimedAt,
		&sentAt,
		&deliveredAt,
		&readAt,
		&reason,
		&providerID,
		&m.CreatedAt,
		&m.UpdatedAt,
	); err != nil {
		return model.Message{}, err
	}

	m.Status = model.Status(status)
	m.ClaimedAt = timePtr(claimedAt)
	m.SentAt = timePtr(sentAt)
	m.DeliveredAt = timePtr(deliveredAt)
	m.ReadAt = timePtr(readAt)
	m.FailedReason = stringPtr(reason)
	m.ProviderMessageID = stringPtr(providerID)
	return m, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertMessage(ctx context.Context, ex execer, m *model.Message) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO sent_messages (`+messageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`,
		m.ID,
		m.AccountID,
		m.FlowID,
		m.FlowStepID,
		m.StepOrder,
		m.CartID,
		m.InstanceID,
		string(m.Status),
		m.Content,
		m.ScheduledFor,
		nullTime(m.ClaimedAt),
		nullTime(m.SentAt),
		nullTime(m.DeliveredAt),
		nullTime(m.ReadAt),
		nullString(m.FailedReason),
		nullString(m.ProviderMessageID),
		m.CreatedAt,
		m.UpdatedAt,
	)
	return err
}

func (p *Postgres) EnrollCart(ctx context.Context, m *model.Message, at time.Time) (bool, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return false, wrapDBErr("enroll cart", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE abandoned_carts
		SET recovery_status = 'in_progress', updated_at = $2
		WHERE id = $1 AND recovery_status = 'pending'
	`, m.CartID, at)
	if err != nil {
		return false, wrapDBErr("enroll cart", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapDBErr("enroll cart", err)
	}
	if n == 0 {
		return false, nil
	}

	if err := insertMessage(ctx, tx, m); err != nil {
		return false, wrapDBErr("enroll cart", err)
	}
	if err := tx.Commit(); err != nil {
		return false, wrapDBErr("enroll cart", err)
	}
	return true, nil
}

func (p *Postgres) CreateMessage(ctx context.Context, m *model.Message) error {
	return wrapDBErr("create message", insertMessage(ctx, p.db, m))
}

func (p *Postgres) ClaimDue(ctx context.Context, from, to time.Time, limit int) ([]model.Message, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be > 0", errs.ErrValidation)
	}

	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, wrapDBErr("claim due", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM sent_messages
		WHERE status = 'scheduled' AND scheduled_for >= $1 AND scheduled_for <= $2
		ORDER BY COALESCE((
			SELECT (f.settings->>'priority')::boolean
			FROM recovery_flows f
			WHERE f.id = sent_messages.flow_id
		), false) DESC, scheduled_for ASC
		FOR UPDATE SKIP LOCKED
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, wrapDBErr("claim due", err)
	}

	var msgs []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			rows.Close()
			return nil, wrapDBErr("claim due", err)
		}
		msgs = append(msgs, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr("claim due", err)
	}

	if len(msgs) == 0 {
		return nil, wrapDBErr("claim due", tx.Commit())
	}

	for i := range msgs {
		if _, err := tx.ExecContext(ctx, `
			UPDATE sent_messages
			SET status = 'sending', claimed_at = $2, updated_at = $2
			WHERE id = $1 AND status = 'scheduled'
		`, msgs[i].ID, to); err != nil {
			return nil, wrapDBErr("claim due", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapDBErr("claim due", err)
	}

	for i := range msgs {
		claimed := to
		msgs[i].Status = model.Sending
		msgs[i].ClaimedAt = &claimed
		msgs[i].UpdatedAt = to
	}
	return msgs, nil
}

func (p *Postgres) SaveStatus(ctx context.Context, m model.Message, from model.Status) (bool, error) {
	if !from.CanTransition(m.Status) {
		return false, fmt.Errorf("%w: message %s %s -> %s", errs.ErrIllegalTransition, m.ID, from, m.Status)
	}

	res, err := p.db.ExecContext(ctx, `
		UPDATE sent_messages
		SET status = $3,
		    sent_at = $4,
		    delivered_at = $5,
		    read_at = $6,
		    failed_reason = $7,
		    provider_message_id = $8,
		    updated_at = $9
		WHERE id = $1 AND status = $2
	`,
		m.ID,
		string(from),
		string(m.Status),
		nullTime(m.SentAt),
		nullTime(m.DeliveredAt),
		nullTime(m.ReadAt),
		nullString(m.FailedReason),
		nullString(m.ProviderMessageID),
		m.UpdatedAt,
	)
	if err != nil {
		return false, wrapDBErr("save message status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapDBErr("save message status", err)
	}
	return n == 1, nil
}

func (p *Postgres) GetMessage(ctx context.Context, id string) (model.Message, error) {
	m, err := scanMessage(p.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM sent_messages WHERE id = $1`, id))
	if err != nil {
		return model.Message{}, wrapDBErr("get message "+id, err)
	}
	return m, nil
}

func (p *Postgres) FindByProviderID(ctx context.Context, accountID, providerID string) (model.Message, error) {
	m, err := scanMessage(p.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM sent_messages
		WHERE account_id = $1 AND provider_message_id = $2
		ORDER BY created_at DESC
		LIMIT 1
	`, accountID, providerID))
	if err != nil {
		return model.Message{}, wrapDBErr("find by provider id", err)
	}
	return m, nil
}

func (p *Postgres) ListByStatus(ctx context.Context, status model.Status, limit, offset int) ([]model.Message, error) {
	limit, offset = clampPage(limit, offset)
	return p.listMessages(ctx, "list messages", `
		SELECT `+messageColumns+`
		FROM sent_messages
		WHERE status = $1
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3
	`, string(status), limit, offset)
}

func (p *Postgres) ListByCart(ctx context.Context, cartID string) ([]model.Message, error) {
	return p.listMessages(ctx, "list cart messages", `
		SELECT `+messageColumns+`
		FROM sent_messages
		WHERE cart_id = $1
		ORDER BY step_order ASC, created_at ASC
	`, cartID)
}

func (p *Postgres) listMessages(ctx context.Context, op, query string, args ...any) ([]model.Message, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, wrapDBErr(op, err)
		}
		out = append(out, m)
	}
	return out, wrapDBErr(op, rows.Err())
}

func (p *Postgres) CountScheduledBetween(ctx context.Context, flowID string, from, to time.Time) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `
		SELECT count(*)
		FROM sent_messages
		WHERE flow_id = $1 AND scheduled_for >= $2 AND scheduled_for < $3
		  AND status <> 'skipped'
	`, flowID, from, to).Scan(&n)
	if err != nil {
		return 0, wrapDBErr("count scheduled", err)
	}
	return n, nil
}

func (p *Postgres) CountStale(ctx context.Context, olderThan time.Time) (StaleCounts, error) {
	var c StaleCounts
	err := p.db.QueryRowContext(ctx, `
		SELECT
			count(*) FILTER (WHERE status = 'scheduled' AND scheduled_for < $1),
			count(*) FILTER (WHERE status = 'sending' AND claimed_at < $1)
		FROM sent_messages
		WHERE status IN ('scheduled', 'sending')
	`, olderThan).Scan(&c.Scheduled, &c.Sending)
	if err != nil {
		return StaleCounts{}, wrapDBErr("count stale", err)
	}
	return c, nil
}
