package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/LeventeLantos/cart-recovery/internal/model"
)

const instanceSelect = `
	SELECT i.id, i.account_id, i.connection_id, i.name, i.status, i.messages_sent, i.created_at,
	       c.id, c.account_id, c.type, c.credentials, c.created_at
	FROM whatsapp_instances i
	JOIN whatsapp_connections c ON c.id = i.connection_id`

func scanInstance(row rowScanner) (model.Instance, error) {
	var (
		inst     model.Instance
		status   string
		connType string
		creds    []byte
	)
	if err := row.Scan(
		&inst.ID,
		&inst.AccountID,
		&inst.ConnectionID,
		&inst.Name,
		&status,
		&inst.MessagesSent,
		&inst.CreatedAt,
		&inst.Connection.ID,
		&inst.Connection.AccountID,
		&connType,
		&creds,
		&inst.Connection.CreatedAt,
	); err != nil {
		return model.Instance{}, err
	}
	inst.Status = model.InstanceStatus(status)
	inst.Connection.Type = model.TransportType(connType)
	if len(creds) > 0 {
		if err := json.Unmarshal(creds, &inst.Connection.Credentials); err != nil {
			return model.Instance{}, fmt.Errorf("decode credentials: %w", err)
		}
	}
	return inst, nil
}

func (p *Postgres) ConnectedInstances(ctx context.Context, accountID string) ([]model.Instance, error) {
	rows, err := p.db.QueryContext(ctx, instanceSelect+`
		WHERE i.account_id = $1 AND i.status = 'connected'
		ORDER BY i.created_at ASC
	`, accountID)
	if err != nil {
		return nil, wrapDBErr("connected instances", err)
	}
	defer rows.Close()

	var out []model.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, wrapDBErr("connected instances", err)
		}
		out = append(out, inst)
	}
	return out, wrapDBErr("connected instances", rows.Err())
}

func (p *Postgres) GetInstance(ctx context.Context, id string) (model.Instance, error) {
	inst, err := scanInstance(p.db.QueryRowContext(ctx, instanceSelect+` WHERE i.id = $1`, id))
	if err != nil {
		return model.Instance{}, wrapDBErr("get instance "+id, err)
	}
	return inst, nil
}

func (p *Postgres) IncrementMessagesSent(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE whatsapp_instances
		SET messages_sent = messages_sent + 1
		WHERE id = $1
	`, id)
	return wrapDBErr("increment messages sent", err)
}
