package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/payrecon/internal/app"
	"github.com/vladislavdragonenkov/payrecon/internal/version"
)

// Переменные окружения сервиса реконсиляции.
const (
	envHTTPAddr             = "RECON_HTTP_ADDR"
	envMetricsAddr          = "RECON_METRICS_ADDR"
	envStorageDriver        = "RECON_STORAGE_DRIVER"
	envPostgresDSN          = "RECON_POSTGRES_DSN"
	envPostgresAutoMigrate  = "RECON_POSTGRES_AUTO_MIGRATE"
	envWebhookSecret        = "RECON_WEBHOOK_SECRET"
	envKafkaBrokers         = "RECON_KAFKA_BROKERS"
	envKafkaBrokersFallback = "KAFKA_BROKERS"
	envEffectPollInterval   = "RECON_EFFECT_POLL_INTERVAL"
	envEffectBatchSize      = "RECON_EFFECT_BATCH_SIZE"
	envEffectMaxAttempts    = "RECON_EFFECT_MAX_ATTEMPTS"
	envEffectRetryBaseDelay = "RECON_EFFECT_RETRY_BASE_DELAY"
	envLedgerSweepInterval  = "RECON_LEDGER_SWEEP_INTERVAL"
	envLedgerSweepBatchSize = "RECON_LEDGER_SWEEP_BATCH_SIZE"
)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)
}

type envLookup func(key string) (string, bool)

func osLookup(key string) (string, bool) {
	return os.LookupEnv(key)
}

// readConfigFromEnv накладывает переменные окружения на DefaultConfig.
// Некорректные значения не прерывают запуск: параметр остаётся
// дефолтным, а причина попадает в warnings.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	var warnings []string

	if v, ok := lookupTrimmed(lookup, envHTTPAddr); ok {
		cfg.HTTPAddr = v
	}
	if v, ok := lookupTrimmed(lookup, envMetricsAddr); ok {
		cfg.MetricsAddr = v
	}
	if v, ok := lookupTrimmed(lookup, envStorageDriver); ok {
		cfg.StorageDriver = strings.ToLower(v)
	}
	if v, ok := lookupTrimmed(lookup, envPostgresDSN); ok {
		cfg.PostgresDSN = v
		if _, explicit := lookupTrimmed(lookup, envStorageDriver); !explicit {
			cfg.StorageDriver = app.StorageDriverPostgres
		}
	}
	if v, ok := lookupTrimmed(lookup, envPostgresAutoMigrate); ok {
		parsed, err := parseBool(v)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", envPostgresAutoMigrate, err))
		} else {
			cfg.PostgresAutoMigrate = parsed
		}
	}
	if v, ok := lookupTrimmed(lookup, envWebhookSecret); ok {
		cfg.WebhookSecret = v
	}
	if v, ok := lookupTrimmed(lookup, envKafkaBrokers); ok {
		cfg.KafkaBrokers = v
	} else if v, ok := lookupTrimmed(lookup, envKafkaBrokersFallback); ok {
		cfg.KafkaBrokers = v
	}

	applyDuration(lookup, envEffectPollInterval, &cfg.EffectPollInterval, true, &warnings)
	applyInt(lookup, envEffectBatchSize, &cfg.EffectBatchSize, &warnings)
	applyInt(lookup, envEffectMaxAttempts, &cfg.EffectMaxAttempts, &warnings)
	applyDuration(lookup, envEffectRetryBaseDelay, &cfg.EffectRetryBaseDelay, false, &warnings)
	applyDuration(lookup, envLedgerSweepInterval, &cfg.LedgerSweepInterval, true, &warnings)
	applyInt(lookup, envLedgerSweepBatchSize, &cfg.LedgerSweepBatchSize, &warnings)

	return cfg, warnings
}

func lookupTrimmed(lookup envLookup, key string) (string, bool) {
	raw, ok := lookup(key)
	if !ok {
		return "", false
	}
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", false
	}
	return trimmed, true
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "t", "true", "y", "yes", "on":
		return true, nil
	case "0", "f", "false", "n", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean value %q", raw)
	}
}

func applyDuration(lookup envLookup, key string, target *time.Duration, requirePositive bool, warnings *[]string) {
	v, ok := lookupTrimmed(lookup, key)
	if !ok {
		return
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		*warnings = append(*warnings, fmt.Sprintf("%s: invalid duration %q", key, v))
		return
	}
	if requirePositive && parsed <= 0 {
		*warnings = append(*warnings, fmt.Sprintf("%s: duration must be > 0, got %q", key, v))
		return
	}
	if !requirePositive && parsed < 0 {
		*warnings = append(*warnings, fmt.Sprintf("%s: duration must be >= 0, got %q", key, v))
		return
	}
	*target = parsed
}

func applyInt(lookup envLookup, key string, target *int, warnings *[]string) {
	v, ok := lookupTrimmed(lookup, key)
	if !ok {
		return
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed <= 0 {
		*warnings = append(*warnings, fmt.Sprintf("%s: value must be a positive integer, got %q", key, v))
		return
	}
	*target = parsed
}

func main() {
	setupLogger()

	cfg, warnings := readConfigFromEnv(osLookup)
	for _, warning := range warnings {
		log.Warn(warning)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"http_addr":    cfg.HTTPAddr,
		"metrics_addr": cfg.MetricsAddr,
		"storage":      cfg.StorageDriver,
		"version":      version.String(),
	}).Info("запускаем сервис реконсиляции платежей")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("сервис реконсиляции остановлен")
}
