// Package app assembles the domain services from configuration.  The API
// server and the operations CLI share it so both run the same engine
// against the same store.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/iliyamo/studio-reservation/internal/config"
	"github.com/iliyamo/studio-reservation/internal/database"
	"github.com/iliyamo/studio-reservation/internal/ledger"
	"github.com/iliyamo/studio-reservation/internal/membership"
	"github.com/iliyamo/studio-reservation/internal/model"
	"github.com/iliyamo/studio-reservation/internal/notify"
	"github.com/iliyamo/studio-reservation/internal/payment"
	"github.com/iliyamo/studio-reservation/internal/reconcile"
	"github.com/iliyamo/studio-reservation/internal/recurrence"
	"github.com/iliyamo/studio-reservation/internal/repository"
	"github.com/iliyamo/studio-reservation/internal/repository/memory"
	"github.com/iliyamo/studio-reservation/internal/reservation"
	"github.com/iliyamo/studio-reservation/internal/token"
)

// App holds the wired services.
type App struct {
	Store      repository.Store
	Rails      *payment.Registry
	Bank       *payment.BankRail
	Tokens     *token.Service
	Notifier   notify.Notifier
	Engine     *reservation.Engine
	Members    *membership.Service
	Ledger     *ledger.Service
	Generator  *recurrence.Generator
	Reconciler *reconcile.Handler
}

// Build opens the store and wires every service.  A nil notifier means
// notifications go to RabbitMQ when configured and nowhere otherwise.
func Build(ctx context.Context, cfg config.Config, gw config.GatewayConfig, n notify.Notifier, log *slog.Logger) (*App, error) {
	store, err := OpenStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	a := &App{Store: store}
	fail := func(err error) (*App, error) {
		_ = store.Close()
		return nil, err
	}

	card := payment.NewCardRail(gw.Card(), log)
	a.Bank, err = payment.NewBankRail(gw.Bank(), log)
	if err != nil {
		return fail(fmt.Errorf("bank rail: %w", err))
	}
	a.Rails = payment.NewRegistry(model.ProviderCard, card, a.Bank)
	for _, p := range a.Rails.Providers() {
		g, _ := a.Rails.Lookup(p)
		log.Info("payment rail", slog.String("provider", p), slog.Bool("configured", g.Configured()))
	}

	a.Tokens, err = token.NewService(cfg.CancelTokenSecret, token.WithMaxAge(cfg.CancelTokenMaxAge))
	if err != nil {
		return fail(err)
	}

	a.Notifier = n
	if a.Notifier == nil {
		if cfg.RabbitMQURL != "" {
			a.Notifier = notify.NewPublisher(cfg.RabbitMQURL, log)
		} else {
			a.Notifier = notify.Nop{}
		}
	}

	a.Engine, err = reservation.New(store, a.Rails, a.Tokens,
		reservation.WithLogger(log),
		reservation.WithNotifier(a.Notifier),
		reservation.WithCurrency(cfg.Currency),
		reservation.WithCutoff(cfg.CancelCutoff),
	)
	if err != nil {
		return fail(err)
	}
	a.Members, err = membership.NewService(store, a.Rails, cfg.Currency, nil, log)
	if err != nil {
		return fail(err)
	}
	a.Ledger, err = ledger.NewService(store, nil)
	if err != nil {
		return fail(err)
	}
	a.Generator = recurrence.NewGenerator(store, log)
	a.Reconciler = reconcile.NewHandler(store, a.Engine, a.Members, log)
	return a, nil
}

// OpenStore returns the store selected by STORE_DRIVER.
func OpenStore(ctx context.Context, cfg config.Config, log *slog.Logger) (repository.Store, error) {
	if cfg.StoreDriver == config.DriverMemory {
		log.Warn("using in-memory store; data is lost on exit")
		return memory.New(), nil
	}
	db, err := database.Open(ctx, database.Options{
		User: cfg.DBUser, Pass: cfg.DBPass, Host: cfg.DBHost, Port: cfg.DBPort, Name: cfg.DBName,
	})
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	if cfg.DBAutoMigrate {
		if err := database.EnsureSchema(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
		log.Info("database schema ensured")
	}
	return repository.NewSQLStore(db), nil
}

// Sender picks MailerSend when an API key is configured and a log line
// per message otherwise.  With WhatsApp enabled and Twilio configured,
// messages fan out to both channels.
func Sender(cfg config.Config, log *slog.Logger) notify.Sender {
	var email notify.Sender = notify.LogSender{W: os.Stdout}
	if cfg.MailerSendKey != "" {
		email = notify.NewMailerSendSender(cfg.MailerSendKey, cfg.MailFromName, cfg.MailFromEmail, cfg.CancelURL, log)
	}
	if !cfg.WhatsAppEnabled {
		return email
	}
	if cfg.TwilioSID == "" || cfg.TwilioToken == "" || cfg.WhatsAppFrom == "" {
		log.Warn("whatsapp enabled but twilio credentials or sender number missing; whatsapp disabled")
		return email
	}
	wa := notify.NewWhatsAppSender(notify.WhatsAppConfig{
		AccountSID: cfg.TwilioSID,
		AuthToken:  cfg.TwilioToken,
		From:       cfg.WhatsAppFrom,
		Admins:     cfg.WhatsAppAdmins,
		CancelURL:  cfg.CancelURL,
	}, log)
	return notify.MultiSender{email, wa}
}

// Close releases the store.
func (a *App) Close() error { return a.Store.Close() }
