package app

import "time"

// Поддерживаемые драйверы хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска сервиса реконсиляции.
type Config struct {
	HTTPAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool

	// WebhookSecret — общий секрет HMAC-подписи вебхуков провайдера.
	// Обязателен: без него Run завершается ошибкой.
	WebhookSecret string

	// KafkaBrokers — список брокеров через запятую; пустая строка
	// отключает публикацию событий жизненного цикла заказов.
	KafkaBrokers string

	EffectPollInterval   time.Duration
	EffectBatchSize      int
	EffectMaxAttempts    int
	EffectRetryBaseDelay time.Duration

	LedgerSweepInterval  time.Duration
	LedgerSweepBatchSize int
}

// DefaultConfig возвращает базовые настройки для локального запуска.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,

		EffectPollInterval:   time.Second,
		EffectBatchSize:      100,
		EffectMaxAttempts:    5,
		EffectRetryBaseDelay: 50 * time.Millisecond,

		LedgerSweepInterval:  time.Minute,
		LedgerSweepBatchSize: 500,
	}
}
