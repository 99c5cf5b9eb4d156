package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
)

type effectRepository struct {
	db *sql.DB
}

// NewEffectRepository создаёт PostgreSQL-реализацию EffectRepository.
func NewEffectRepository(store *Store) domain.EffectRepository {
	return &effectRepository{db: store.DB()}
}

func (r *effectRepository) Enqueue(effect domain.SideEffect) (domain.SideEffect, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return enqueueEffectTx(ctx, r.db, effect)
}

func (r *effectRepository) PullPending(limit int) ([]domain.SideEffect, error) {
	if limit <= 0 {
		limit = 100
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, event_id, kind, payload, status, created_at
		FROM side_effects
		WHERE status = 'pending'
		ORDER BY created_at ASC, id ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("pull pending effects: %w", err)
	}
	defer rows.Close()

	effects := make([]domain.SideEffect, 0, limit)
	for rows.Next() {
		var (
			effect  domain.SideEffect
			kind    string
			payload []byte
		)
		if err := rows.Scan(
			&effect.ID, &effect.OrderID, &effect.EventID, &kind,
			&payload, &effect.Status, &effect.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan effect row: %w", err)
		}
		effect.Kind = domain.EffectKind(kind)
		effect.Payload = append([]byte(nil), payload...)
		effects = append(effects, effect)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate effect rows: %w", err)
	}

	return effects, nil
}

func (r *effectRepository) Stats() (domain.EffectStats, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		stats  domain.EffectStats
		oldest sql.NullTime
	)

	if err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), MIN(created_at)
		FROM side_effects
		WHERE status = 'pending'
	`).Scan(&stats.PendingCount, &oldest); err != nil {
		return domain.EffectStats{}, fmt.Errorf("query effect stats: %w", err)
	}

	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time
	}
	return stats, nil
}

func (r *effectRepository) MarkSent(id string) error {
	return r.markStatus(id, "sent")
}

func (r *effectRepository) MarkFailed(id string) error {
	return r.markStatus(id, "failed")
}

func (r *effectRepository) markStatus(id, status string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE side_effects
		SET status = $1,
		    updated_at = $2
		WHERE id = $3
	`, status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark effect %s: %w", status, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrEffectNotFound
	}
	return nil
}

// enqueueEffectTx вставляет эффект в рамках переданного querier.
// Повторная вставка той же пары (event_id, kind) — no-op: при повторной
// обработке события эффекты не дублируются.
func enqueueEffectTx(ctx context.Context, q querier, effect domain.SideEffect) (domain.SideEffect, error) {
	if effect.ID == "" {
		effect.ID = uuid.NewString()
	}
	if effect.CreatedAt.IsZero() {
		effect.CreatedAt = time.Now().UTC()
	}
	effect.Status = "pending"

	payload := effect.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO side_effects (id, order_id, event_id, kind, payload, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (event_id, kind) DO NOTHING
	`,
		effect.ID, effect.OrderID, effect.EventID, string(effect.Kind),
		payload, effect.Status, effect.CreatedAt,
	)
	if err != nil {
		return domain.SideEffect{}, fmt.Errorf("enqueue effect: %w", err)
	}

	return effect, nil
}

var _ domain.EffectRepository = (*effectRepository)(nil)
