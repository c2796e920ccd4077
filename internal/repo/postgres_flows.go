package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/LeventeLantos/cart-recovery/internal/model"
)

const flowColumns = `id, account_id, name, status, settings, created_at, updated_at`

const stepColumns = `id, flow_id, sequence_order, delay_hours, content, created_at`

func scanFlow(row rowScanner) (model.Flow, error) {
	var (
		f        model.Flow
		status   string
		settings []byte
	)
	if err := row.Scan(&f.ID, &f.AccountID, &f.Name, &status, &settings, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return model.Flow{}, err
	}
	f.Status = model.FlowStatus(status)
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &f.Settings); err != nil {
			return model.Flow{}, fmt.Errorf("decode flow settings: %w", err)
		}
	}
	return f, nil
}

func scanStep(row rowScanner) (model.FlowStep, error) {
	var s model.FlowStep
	err := row.Scan(&s.ID, &s.FlowID, &s.SequenceOrder, &s.DelayHours, &s.Content, &s.CreatedAt)
	return s, err
}

func (p *Postgres) LatestActiveFlow(ctx context.Context, accountID string) (model.Flow, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+flowColumns+`
		FROM recovery_flows
		WHERE account_id = $1 AND status = 'active'
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, accountID)
	f, err := scanFlow(row)
	if err != nil {
		return model.Flow{}, wrapDBErr("latest active flow", err)
	}
	return f, nil
}

func (p *Postgres) GetFlow(ctx context.Context, id string) (model.Flow, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+flowColumns+` FROM recovery_flows WHERE id = $1`, id)
	f, err := scanFlow(row)
	if err != nil {
		return model.Flow{}, wrapDBErr("get flow "+id, err)
	}
	return f, nil
}

func (p *Postgres) StepAt(ctx context.Context, flowID string, order int) (model.FlowStep, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+stepColumns+`
		FROM flow_messages
		WHERE flow_id = $1 AND sequence_order = $2
	`, flowID, order)
	s, err := scanStep(row)
	if err != nil {
		return model.FlowStep{}, wrapDBErr(fmt.Sprintf("step %d of flow %s", order, flowID), err)
	}
	return s, nil
}

func (p *Postgres) DeleteStep(ctx context.Context, flowID, stepID string) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return wrapDBErr("delete step", err)
	}
	defer func() { _ = tx.Rollback() }()

	var deleted string
	if err := tx.QueryRowContext(ctx, `
		DELETE FROM flow_messages WHERE id = $1 AND flow_id = $2 RETURNING id
	`, stepID, flowID).Scan(&deleted); err != nil {
		return wrapDBErr("delete step "+stepID, err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT `+stepColumns+`
		FROM flow_messages
		WHERE flow_id = $1
		ORDER BY sequence_order ASC
		FOR UPDATE
	`, flowID)
	if err != nil {
		return wrapDBErr("delete step", err)
	}
	var steps []model.FlowStep
	for rows.Next() {
		s, err := scanStep(rows)
		if err != nil {
			rows.Close()
			return wrapDBErr("delete step", err)
		}
		steps = append(steps, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return wrapDBErr("delete step", err)
	}

	if _, err := tx.ExecContext(ctx, `SET CONSTRAINTS ALL DEFERRED`); err != nil {
		return wrapDBErr("delete step", err)
	}
	for _, s := range model.CompactSteps(steps) {
		if _, err := tx.ExecContext(ctx, `
			UPDATE flow_messages SET sequence_order = $2 WHERE id = $1
		`, s.ID, s.SequenceOrder); err != nil {
			return wrapDBErr("renumber step", err)
		}
	}

	return wrapDBErr("delete step", tx.Commit())
}
