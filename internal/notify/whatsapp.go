package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/twilio/twilio-go"
	"github.com/twilio/twilio-go/client"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// WhatsAppConfig holds the Twilio credentials and numbers.  Numbers are
// E.164 without the "whatsapp:" prefix.
type WhatsAppConfig struct {
	AccountSID string
	AuthToken  string
	From       string
	// Admins receive a one line summary of every transition.
	Admins     []string
	CancelURL  string
	HTTPClient *http.Client
}

// WhatsAppSender messages guests on the phone number they left with the
// reservation.  Members are skipped like in MailerSendSender.
type WhatsAppSender struct {
	api       *twilio.RestClient
	from      string
	admins    []string
	cancelURL string
	log       *slog.Logger
}

// NewWhatsAppSender builds a sender from cfg.  A nil HTTPClient keeps the
// library's default client.
func NewWhatsAppSender(cfg WhatsAppConfig, log *slog.Logger) *WhatsAppSender {
	if log == nil {
		log = slog.Default()
	}
	params := twilio.ClientParams{Username: cfg.AccountSID, Password: cfg.AuthToken}
	if cfg.HTTPClient != nil {
		c := &client.Client{
			Credentials: client.NewCredentials(cfg.AccountSID, cfg.AuthToken),
			HTTPClient:  cfg.HTTPClient,
		}
		c.SetAccountSid(cfg.AccountSID)
		params.Client = c
	}
	return &WhatsAppSender{
		api:       twilio.NewRestClientWithParams(params),
		from:      cfg.From,
		admins:    cfg.Admins,
		cancelURL: cfg.CancelURL,
		log:       log,
	}
}

func (s *WhatsAppSender) Send(_ context.Context, kind Kind, m Message) error {
	var err error
	if m.GuestPhone == "" {
		s.log.Debug("notify: no guest phone, skipping whatsapp", slog.Uint64("reservation_id", m.ReservationID))
	} else {
		err = s.send(m.GuestPhone, Body(kind, m, s.cancelURL))
	}
	summary := adminSummary(kind, m)
	for _, to := range s.admins {
		// Staff alerts never fail the delivery.
		if aerr := s.send(to, summary); aerr != nil {
			s.log.Warn("notify: admin whatsapp failed", slog.String("to", to), slog.Any("error", aerr))
		}
	}
	if err != nil {
		return fmt.Errorf("send whatsapp: %w", err)
	}
	return nil
}

func (s *WhatsAppSender) send(to, body string) error {
	params := &twilioapi.CreateMessageParams{}
	params.SetFrom(whatsappAddr(s.from))
	params.SetTo(whatsappAddr(to))
	params.SetBody(body)
	res, err := s.api.Api.CreateMessage(params)
	if err != nil {
		return err
	}
	sid := ""
	if res.Sid != nil {
		sid = *res.Sid
	}
	s.log.Info("notify: whatsapp sent", slog.String("to", to), slog.String("sid", sid))
	return nil
}

func whatsappAddr(n string) string {
	if strings.HasPrefix(n, "whatsapp:") {
		return n
	}
	return "whatsapp:" + strings.TrimSpace(n)
}

func adminSummary(kind Kind, m Message) string {
	who := m.GuestName
	if who == "" {
		who = fmt.Sprintf("member %d", m.MemberID)
	}
	return fmt.Sprintf("Reservation %s: %s for %s on %s (%d place(s), ref %s).",
		kind, who, m.Title, m.StartsAt.UTC().Format("Mon 2 Jan 2006 15:04"), m.Quantity, m.Reference)
}

// MultiSender hands every message to each sender in turn.  A failing
// channel does not stop the others; the errors are joined.
type MultiSender []Sender

func (ms MultiSender) Send(ctx context.Context, kind Kind, m Message) error {
	var errs []error
	for _, s := range ms {
		if err := s.Send(ctx, kind, m); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
