package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/config"
	"github.com/clinic/clinic/internal/domain/appointment"
	"github.com/clinic/clinic/internal/domain/identity"
	"github.com/clinic/clinic/internal/domain/reminder"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/notification"
	"github.com/clinic/clinic/internal/platform/redisindex"
)

// app holds the dependencies shared by serve and the operational commands.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger

	pool  *pgxpool.Pool
	rdb   *redis.Client
	index *redisindex.Index

	templates     *notification.TemplateEngine
	notifications reminder.Repository
	scheduler     *reminder.Scheduler
	reconciler    *reminder.Reconciler
	reindexer     *reminder.Reindexer

	users        *identity.Service
	appointments *appointment.Service
}

func newLogger(env, level string) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if env == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return logger.Level(lvl)
}

func newApp(ctx context.Context, logLevel string) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger := newLogger(cfg.Env, logLevel)

	offsets, _ := cfg.ReminderOffsets()
	loc, _ := cfg.Location()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	logger.Info().Msg("connected to database")

	rdb, err := redisindex.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info().Msg("connected to redis")

	a := &app{
		cfg:       cfg,
		logger:    logger,
		pool:      pool,
		rdb:       rdb,
		index:     redisindex.New(rdb),
		templates: notification.NewTemplateEngine(),
	}

	a.notifications = reminder.NewNotificationRepoPG(pool)
	a.scheduler = reminder.NewScheduler(a.notifications, a.index, a.templates, offsets, loc, logger)
	a.reconciler = reminder.NewReconciler(a.notifications, a.index, logger)
	a.reindexer = reminder.NewReindexer(a.notifications, a.index, logger)

	a.users = identity.NewService(identity.NewUserRepoPG(pool))
	a.appointments = appointment.NewService(
		appointment.NewAppointmentRepoPG(pool),
		appointment.NewFollowUpRepoPG(pool),
		db.NewTxManager(pool),
		a.scheduler,
		a.reconciler,
		logger,
	)
	return a, nil
}

func (a *app) Close() {
	if err := a.rdb.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("close redis")
	}
	a.pool.Close()
}

// mailer returns the SMTP sender, or a logging no-op when SMTP is not configured.
func (a *app) mailer() notification.EmailSender {
	if !a.cfg.SMTPEnabled() {
		a.logger.Warn().Msg("SMTP_HOST not set; reminder emails are logged, not sent")
		return notification.NewNoopSender(a.logger)
	}
	return notification.NewSMTPSender(notification.SMTPConfig{
		Host:     a.cfg.SMTPHost,
		Port:     a.cfg.SMTPPort,
		Username: a.cfg.SMTPUsername,
		Password: a.cfg.SMTPPassword,
		From:     a.cfg.SMTPFrom,
	}, a.templates, a.logger)
}

func (a *app) dispatcher(push reminder.Pusher) *reminder.Dispatcher {
	loc, _ := a.cfg.Location()
	return reminder.NewDispatcher(a.notifications, a.index, push, a.mailer(), a.users, reminder.DispatcherConfig{
		PollInterval:    a.cfg.ReminderPollInterval,
		DeliveryTimeout: a.cfg.ReminderDeliveryTimeout,
		Location:        loc,
	}, a.logger)
}

func (a *app) healthDeps() map[string]db.Pinger {
	return map[string]db.Pinger{
		"database": db.PingFunc(a.pool.Ping),
		"redis":    a.index,
	}
}
