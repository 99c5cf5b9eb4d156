package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
)

type ledgerRepository struct {
	db *sql.DB
}

// NewLedgerRepository создаёт PostgreSQL-реализацию LedgerRepository.
func NewLedgerRepository(store *Store) domain.LedgerRepository {
	return &ledgerRepository{db: store.DB()}
}

// Reserve атомарно вставляет processing-маркер. Зависшая processing-запись
// (TTL в прошлом) перезахватывается тем же INSERT ... ON CONFLICT: условие
// WHERE в DO UPDATE срабатывает только для просроченных незавершённых записей.
func (r *ledgerRepository) Reserve(eventID, orderID string, ttlAt time.Time) (domain.LedgerRecord, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return domain.LedgerRecord{}, domain.ErrEventIDRequired
	}

	now := time.Now().UTC()
	if ttlAt.IsZero() {
		ttlAt = now.Add(5 * time.Minute)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var record domain.LedgerRecord
	var status string

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO processed_events (event_id, order_id, status, revision, ttl_at, created_at, updated_at)
		VALUES ($1, $2, $3, 0, $4, $5, $5)
		ON CONFLICT (event_id) DO UPDATE
		SET order_id = EXCLUDED.order_id,
		    ttl_at = EXCLUDED.ttl_at,
		    updated_at = EXCLUDED.updated_at
		WHERE processed_events.status = $3
		  AND processed_events.ttl_at <= $5
		RETURNING event_id, order_id, status, revision, ttl_at, created_at, updated_at
	`,
		eventID, orderID, string(domain.LedgerStatusProcessing), ttlAt, now,
	).Scan(
		&record.EventID, &record.OrderID, &status,
		&record.Revision, &record.TTLAt, &record.CreatedAt, &record.UpdatedAt,
	)
	if err == nil {
		record.Status = domain.LedgerStatus(status)
		return record, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.LedgerRecord{}, fmt.Errorf("reserve event: %w", err)
	}

	// Конфликт без обновления: запись терминальна или резервация ещё жива.
	existing, getErr := r.Get(eventID)
	if getErr != nil {
		return domain.LedgerRecord{}, fmt.Errorf("resolve reserve conflict: %w", getErr)
	}
	if existing.Status.Terminal() {
		return existing, domain.ErrEventAlreadyProcessed
	}
	return existing, domain.ErrEventInFlight
}

func (r *ledgerRepository) Get(eventID string) (domain.LedgerRecord, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return domain.LedgerRecord{}, domain.ErrEventIDRequired
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return loadLedgerRecord(ctx, r.db, eventID)
}

func (r *ledgerRepository) ReleaseStale(before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}
	if limit <= 0 {
		limit = 500
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		DELETE FROM processed_events
		WHERE event_id IN (
			SELECT event_id FROM processed_events
			WHERE status = $1 AND ttl_at <= $2
			LIMIT $3
		)
	`, string(domain.LedgerStatusProcessing), before, limit)
	if err != nil {
		return 0, fmt.Errorf("release stale reservations: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(affected), nil
}

func (r *ledgerRepository) DeleteExpired(before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}
	if limit <= 0 {
		limit = 500
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		DELETE FROM processed_events
		WHERE event_id IN (
			SELECT event_id FROM processed_events
			WHERE status <> $1 AND ttl_at <= $2
			LIMIT $3
		)
	`, string(domain.LedgerStatusProcessing), before, limit)
	if err != nil {
		return 0, fmt.Errorf("delete expired records: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(affected), nil
}

func loadLedgerRecord(ctx context.Context, q querier, eventID string) (domain.LedgerRecord, error) {
	var record domain.LedgerRecord
	var status string

	err := q.QueryRowContext(ctx, `
		SELECT event_id, order_id, status, revision, ttl_at, created_at, updated_at
		FROM processed_events
		WHERE event_id = $1
	`, eventID).Scan(
		&record.EventID, &record.OrderID, &status,
		&record.Revision, &record.TTLAt, &record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.LedgerRecord{}, domain.ErrEventNotReserved
		}
		return domain.LedgerRecord{}, fmt.Errorf("select ledger record: %w", err)
	}

	record.Status = domain.LedgerStatus(status)
	return record, nil
}

// commitLedgerTx переводит processing-резервацию в терминальный статус
// в рамках переданной транзакции. Вызывается только из ReconStore.
func commitLedgerTx(ctx context.Context, q querier, record domain.LedgerRecord) error {
	res, err := q.ExecContext(ctx, `
		UPDATE processed_events
		SET status = $1,
		    revision = $2,
		    ttl_at = $3,
		    updated_at = $4
		WHERE event_id = $5
		  AND status = $6
	`,
		string(record.Status), record.Revision, record.TTLAt, time.Now().UTC(),
		record.EventID, string(domain.LedgerStatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("commit ledger record: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		existing, getErr := loadLedgerRecord(ctx, q, record.EventID)
		if getErr != nil {
			return getErr
		}
		if existing.Status.Terminal() {
			return domain.ErrEventAlreadyProcessed
		}
		return domain.ErrEventNotReserved
	}

	return nil
}

var _ domain.LedgerRepository = (*ledgerRepository)(nil)
