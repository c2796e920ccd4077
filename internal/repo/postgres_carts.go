package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/LeventeLantos/cart-recovery/internal/errs"
	"github.com/LeventeLantos/cart-recovery/internal/model"
)

const cartColumns = `id, account_id, customer_phone, customer_name, cart_value, cart_items,
	external_id, store_id, recovery_status, recovered_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCart(row rowScanner) (model.Cart, error) {
	var (
		c           model.Cart
		items       []byte
		status      string
		recoveredAt sql.NullTime
	)
	if err := row.Scan(
		&c.ID,
		&c.AccountID,
		&c.CustomerPhone,
		&c.CustomerName,
		&c.Value,
		&items,
		&c.ExternalID,
		&c.StoreID,
		&status,
		&recoveredAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return model.Cart{}, err
	}
	if len(items) > 0 {
		if err := json.Unmarshal(items, &c.Items); err != nil {
			return model.Cart{}, fmt.Errorf("decode cart items: %w", err)
		}
	}
	c.RecoveryStatus = model.CartStatus(status)
	c.RecoveredAt = timePtr(recoveredAt)
	return c, nil
}

func (p *Postgres) CreateCart(ctx context.Context, c *model.Cart) error {
	items, err := json.Marshal(c.Items)
	if err != nil {
		return fmt.Errorf("encode cart items: %w", err)
	}
	if c.Items == nil {
		items = []byte("[]")
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO abandoned_carts (`+cartColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		c.ID,
		c.AccountID,
		c.CustomerPhone,
		c.CustomerName,
		c.Value,
		items,
		c.ExternalID,
		c.StoreID,
		string(c.RecoveryStatus),
		nullTime(c.RecoveredAt),
		c.CreatedAt,
		c.UpdatedAt,
	)
	return wrapDBErr("create cart", err)
}

func (p *Postgres) GetCart(ctx context.Context, id string) (model.Cart, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+cartColumns+` FROM abandoned_carts WHERE id = $1`, id)
	c, err := scanCart(row)
	if err != nil {
		return model.Cart{}, wrapDBErr("get cart "+id, err)
	}
	return c, nil
}

func (p *Postgres) UpdateCartStatus(ctx context.Context, id string, from, to model.CartStatus, at time.Time) (bool, error) {
	if !from.CanTransition(to) {
		return false, fmt.Errorf("%w: cart %s %s -> %s", errs.ErrIllegalTransition, id, from, to)
	}

	var recoveredAt sql.NullTime
	if to == model.CartRecovered {
		recoveredAt = sql.NullTime{Time: at, Valid: true}
	}

	res, err := p.db.ExecContext(ctx, `
		UPDATE abandoned_carts
		SET recovery_status = $3,
		    recovered_at = COALESCE($4, recovered_at),
		    updated_at = $5
		WHERE id = $1 AND recovery_status = $2
	`, id, string(from), string(to), recoveredAt, at)
	if err != nil {
		return false, wrapDBErr("update cart status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapDBErr("update cart status", err)
	}
	return n == 1, nil
}

func (p *Postgres) LatestInProgressCart(ctx context.Context, accountID, phone string) (model.Cart, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+cartColumns+`
		FROM abandoned_carts
		WHERE account_id = $1 AND customer_phone = $2 AND recovery_status = 'in_progress'
		ORDER BY created_at DESC
		LIMIT 1
	`, accountID, phone)
	c, err := scanCart(row)
	if err != nil {
		return model.Cart{}, wrapDBErr("latest in-progress cart", err)
	}
	return c, nil
}

func (p *Postgres) ListPendingCarts(ctx context.Context, createdBefore time.Time, limit int) ([]model.Cart, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be > 0", errs.ErrValidation)
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT `+cartColumns+`
		FROM abandoned_carts
		WHERE recovery_status = 'pending' AND created_at <= $1
		ORDER BY created_at ASC
		LIMIT $2
	`, createdBefore, limit)
	if err != nil {
		return nil, wrapDBErr("list pending carts", err)
	}
	defer rows.Close()

	var out []model.Cart
	for rows.Next() {
		c, err := scanCart(rows)
		if err != nil {
			return nil, wrapDBErr("list pending carts", err)
		}
		out = append(out, c)
	}
	return out, wrapDBErr("list pending carts", rows.Err())
}
