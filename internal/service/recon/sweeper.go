package recon

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
)

const (
	defaultSweepInterval  = time.Minute
	defaultSweepBatchSize = 500
)

var (
	ledgerSweepRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payrecon_ledger_sweep_runs_total",
		Help: "Total number of ledger sweep runs grouped by result.",
	}, []string{"result"})
	ledgerStaleReleasedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payrecon_ledger_stale_released_total",
		Help: "Total number of stuck processing reservations released by the sweeper.",
	})
	ledgerExpiredDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payrecon_ledger_expired_deleted_total",
		Help: "Total number of expired terminal ledger records deleted.",
	})
)

// SweeperOptions задаёт параметры воркера восстановления ledger.
type SweeperOptions struct {
	Logger    *log.Entry
	Interval  time.Duration
	BatchSize int
}

// SweeperOption настраивает Sweeper.
type SweeperOption func(*SweeperOptions)

// WithLogger задаёт logger для воркера.
func WithLogger(logger *log.Entry) SweeperOption {
	return func(opts *SweeperOptions) {
		opts.Logger = logger
	}
}

// WithInterval задаёт интервал между проходами.
func WithInterval(interval time.Duration) SweeperOption {
	return func(opts *SweeperOptions) {
		opts.Interval = interval
	}
}

// WithBatchSize задаёт размер batch для одного прохода.
func WithBatchSize(batchSize int) SweeperOption {
	return func(opts *SweeperOptions) {
		opts.BatchSize = batchSize
	}
}

// Sweeper периодически восстанавливает ledger: снимает зависшие
// processing-резервации (процесс упал между резервированием и коммитом)
// и удаляет терминальные записи с истёкшим сроком хранения.
// Снятая резервация делает событие доступным для повторного захвата
// при следующей доставке провайдера.
type Sweeper struct {
	ledger    domain.LedgerRepository
	logger    *log.Entry
	interval  time.Duration
	batchSize int
}

// NewSweeper создаёт воркер восстановления ledger.
func NewSweeper(ledger domain.LedgerRepository, options ...SweeperOption) *Sweeper {
	opts := SweeperOptions{
		Interval:  defaultSweepInterval,
		BatchSize: defaultSweepBatchSize,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "ledger-sweeper")
	}

	if opts.Interval <= 0 {
		opts.Interval = defaultSweepInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultSweepBatchSize
	}

	return &Sweeper{
		ledger:    ledger,
		logger:    logger,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
	}
}

// Run запускает периодические проходы до отмены ctx.
func (s *Sweeper) Run(ctx context.Context) {
	if s.ledger == nil {
		s.logger.Warn("ledger sweeper is disabled: ledger is nil")
		return
	}

	s.sweep(ctx, time.Now().UTC())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx, time.Now().UTC())
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context, before time.Time) {
	released, deleted, err := s.SweepOnce(ctx, before)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		ledgerSweepRunsTotal.WithLabelValues("error").Inc()
		s.logger.WithError(err).Warn("ledger sweep run failed")
		return
	}

	ledgerSweepRunsTotal.WithLabelValues("ok").Inc()
	if released > 0 || deleted > 0 {
		s.logger.WithFields(log.Fields{
			"stale_released":  released,
			"expired_deleted": deleted,
		}).Info("ledger sweep completed")
	}
}

// SweepOnce выполняет один проход: снимает зависшие резервации и удаляет
// просроченные терминальные записи порциями batchSize.
func (s *Sweeper) SweepOnce(ctx context.Context, before time.Time) (released, deleted int, err error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	for {
		if err := ctx.Err(); err != nil {
			return released, deleted, err
		}

		n, err := s.ledger.ReleaseStale(before, s.batchSize)
		if err != nil {
			return released, deleted, err
		}
		released += n
		if n > 0 {
			ledgerStaleReleasedTotal.Add(float64(n))
		}
		if n < s.batchSize {
			break
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return released, deleted, err
		}

		n, err := s.ledger.DeleteExpired(before, s.batchSize)
		if err != nil {
			return released, deleted, err
		}
		deleted += n
		if n > 0 {
			ledgerExpiredDeletedTotal.Add(float64(n))
		}
		if n < s.batchSize {
			break
		}
	}

	return released, deleted, nil
}
