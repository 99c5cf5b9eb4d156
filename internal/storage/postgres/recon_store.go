package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
)

// reconStore фиксирует результат реконсиляции одной SQL-транзакцией:
// заказ с платежом, терминальная запись ledger, эффекты и аудит
// становятся видимыми одновременно либо не становятся вовсе.
type reconStore struct {
	db *sql.DB
}

// NewReconStore создаёт PostgreSQL-реализацию ReconStore.
func NewReconStore(store *Store) domain.ReconStore {
	return &reconStore{db: store.DB()}
}

func (s *reconStore) CommitTransition(ctx context.Context, commit domain.Commit) error {
	if !commit.Record.Status.Terminal() {
		return domain.ErrEventNotReserved
	}

	txCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(txCtx, nil)
	if err != nil {
		return fmt.Errorf("begin commit tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if commit.Order != nil && commit.Payment != nil {
		if err = saveOrderTx(txCtx, tx, *commit.Order, *commit.Payment); err != nil {
			return err
		}
		commit.Record.Revision = commit.Order.Version + 1
	}

	if err = commitLedgerTx(txCtx, tx, commit.Record); err != nil {
		return err
	}

	for _, effect := range commit.Effects {
		if _, err = enqueueEffectTx(txCtx, tx, effect); err != nil {
			return err
		}
	}
	for _, event := range commit.Timeline {
		if err = appendTimelineTx(txCtx, tx, event); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transition tx: %w", err)
	}

	return nil
}

var _ domain.ReconStore = (*reconStore)(nil)
