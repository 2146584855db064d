package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"adherence-guardian/internal/capability"
	"adherence-guardian/internal/config"
	"adherence-guardian/internal/llm"
	"adherence-guardian/internal/logging"
	"adherence-guardian/internal/orchestrator"
	"adherence-guardian/internal/patient"
	"adherence-guardian/internal/platform/telegram"
	"adherence-guardian/internal/report"
	"adherence-guardian/internal/router"
)

const connectBackoff = 2 * time.Second

// app holds everything built from one configuration.
type app struct {
	cfg   *config.Config
	log   zerolog.Logger
	db    *sql.DB
	store patient.Repository
	orch  *orchestrator.Orchestrator
	// demoPatient is set for the in-memory store.
	demoPatient string
}

func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, logging.New(cfg.Logging), nil
}

func newApp(ctx context.Context, migrateUp bool) (*app, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log}

	if cfg.Database.Driver == "memory" {
		mem := patient.NewMemoryRepository()
		a.demoPatient = patient.SeedDemo(mem, time.Now()).String()
		a.store = mem
		log.Warn().Str("patient_id", a.demoPatient).Msg("using in-memory store with demo patient")
	} else {
		a.db, err = connect(ctx, cfg.Database, log)
		if err != nil {
			return nil, err
		}
		if migrateUp {
			if err := runMigrations(a.db, cfg.Database, log); err != nil {
				a.Close()
				return nil, err
			}
		}
		a.store = patient.NewSQLRepository(a.db, patient.Dialect(cfg.Database.Driver))
	}

	gen, err := llm.New(ctx, cfg.LLM)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to build llm client: %w", err)
	}
	log.Info().Str("provider", gen.Name()).Msg("text generator ready")

	d := capability.Deps{Store: a.store, Generator: gen, Logger: log}
	caps := []capability.Capability{
		capability.NewPlanning(d),
		capability.NewMonitoring(d, cfg.Monitoring),
		capability.NewBarrier(d, cfg.Barrier),
		capability.NewLiaison(d, cfg.Monitoring, notifier(cfg, log)),
	}

	r := router.New(
		router.WithClassifier(router.NewLLMClassifier(gen)),
		router.WithClassifierTimeout(cfg.Orchestrator.ClassifierTimeout),
		router.WithLogger(log),
	)
	a.orch = orchestrator.New(r, caps,
		orchestrator.WithMaxIterations(cfg.Orchestrator.MaxIterations),
		orchestrator.WithRunTimeout(cfg.Orchestrator.RunTimeout),
		orchestrator.WithActivityLog(a.store),
		orchestrator.WithLogger(log),
	)
	return a, nil
}

func (a *app) Close() {
	if a.db != nil {
		_ = a.db.Close()
	}
}

func notifier(cfg *config.Config, log zerolog.Logger) capability.Notifier {
	if cfg.Telegram.Token == "" || cfg.Telegram.ProviderChatID == 0 {
		log.Warn().Msg("telegram is not configured, escalations will only be logged")
		return report.LogNotifier{Log: log}
	}
	return report.NewService(telegram.NewClient(cfg.Telegram.Token), cfg.Telegram, cfg.Report, log)
}

func driverName(driver string) string {
	if driver == "sqlite" {
		return "sqlite"
	}
	return "postgres"
}

// connect retries until the database answers a ping.
func connect(ctx context.Context, cfg config.DatabaseConfig, log zerolog.Logger) (*sql.DB, error) {
	db, err := sql.Open(driverName(cfg.Driver), cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	retries := max(cfg.ConnectRetries, 1)
	for i := 1; i <= retries; i++ {
		if err = db.PingContext(ctx); err == nil {
			log.Info().Str("driver", cfg.Driver).Msg("connected to database")
			return db, nil
		}
		log.Warn().Err(err).Int("attempt", i).Int("of", retries).Msg("waiting for database")
		select {
		case <-ctx.Done():
			_ = db.Close()
			return nil, ctx.Err()
		case <-time.After(connectBackoff):
		}
	}
	_ = db.Close()
	return nil, fmt.Errorf("could not connect to database: %w", err)
}

func newMigrator(db *sql.DB, cfg config.DatabaseConfig) (*migrate.Migrate, error) {
	var (
		driver database.Driver
		err    error
	)
	switch cfg.Driver {
	case "sqlite":
		driver, err = sqlite.WithInstance(db, &sqlite.Config{})
	default:
		driver, err = postgres.WithInstance(db, &postgres.Config{})
	}
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}

	dir, err := filepath.Abs(filepath.Join(cfg.MigrationsPath, cfg.Driver))
	if err != nil {
		return nil, err
	}
	return migrate.NewWithDatabaseInstance("file://"+dir, cfg.Driver, driver)
}

func runMigrations(db *sql.DB, cfg config.DatabaseConfig, log zerolog.Logger) error {
	m, err := newMigrator(db, cfg)
	if err != nil {
		return fmt.Errorf("migration init failed: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	version, dirty, _ := m.Version()
	log.Info().Uint("version", version).Bool("dirty", dirty).Msg("migrations applied")
	return nil
}
