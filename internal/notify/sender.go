package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/mailersend/mailersend-go"

	"github.com/iliyamo/studio-reservation/internal/payment"
)

// Kind tells a Sender which message to render.
type Kind string

const (
	KindConfirmed Kind = "confirmed"
	KindCancelled Kind = "cancelled"
)

// Sender delivers one rendered message.
type Sender interface {
	Send(ctx context.Context, kind Kind, m Message) error
}

// Subject returns the email subject for kind.
func Subject(kind Kind, m Message) string {
	if kind == KindCancelled {
		return "Reservation cancelled: " + m.Title
	}
	return "Reservation confirmed: " + m.Title
}

// Body renders the plain text body.  cancelURL, when set, is prefixed to
// the guest cancellation token.
func Body(kind Kind, m Message, cancelURL string) string {
	var b strings.Builder
	name := m.GuestName
	if name == "" {
		name = "there"
	}
	fmt.Fprintf(&b, "Hi %s,\n\n", name)
	when := m.StartsAt.UTC().Format("Mon 2 Jan 2006 15:04 MST")
	switch kind {
	case KindCancelled:
		fmt.Fprintf(&b, "Your reservation %s for %s on %s has been cancelled.\n", m.Reference, m.Title, when)
		if m.Reason != "" {
			fmt.Fprintf(&b, "Reason: %s\n", m.Reason)
		}
	default:
		fmt.Fprintf(&b, "Your reservation %s for %s on %s is confirmed (%d place", m.Reference, m.Title, when, m.Quantity)
		if m.Quantity != 1 {
			b.WriteString("s")
		}
		b.WriteString(").\n")
		if m.AmountMinor > 0 {
			fmt.Fprintf(&b, "Total: %s %s\n", payment.FormatMinor(m.AmountMinor), strings.ToUpper(m.Currency))
		}
		if m.CancelToken != "" && cancelURL != "" {
			fmt.Fprintf(&b, "\nNeed to cancel? %s?reservation=%d&token=%s\n", cancelURL, m.ReservationID, m.CancelToken)
		}
	}
	return b.String()
}

// MailerSendSender emails guests through MailerSend.  Members are
// skipped: their contact details live with the identity provider.
type MailerSendSender struct {
	client    *mailersend.Mailersend
	fromName  string
	fromEmail string
	cancelURL string
	log       *slog.Logger
}

// NewMailerSendSender builds a sender for apiKey.
func NewMailerSendSender(apiKey, fromName, fromEmail, cancelURL string, log *slog.Logger) *MailerSendSender {
	if log == nil {
		log = slog.Default()
	}
	return &MailerSendSender{
		client:    mailersend.NewMailersend(apiKey),
		fromName:  fromName,
		fromEmail: fromEmail,
		cancelURL: cancelURL,
		log:       log,
	}
}

func (s *MailerSendSender) Send(ctx context.Context, kind Kind, m Message) error {
	if m.GuestEmail == "" {
		s.log.Info("notify: no guest email, skipping", slog.Uint64("reservation_id", m.ReservationID), slog.String("kind", string(kind)))
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	msg := s.client.Email.NewMessage()
	msg.SetFrom(mailersend.From{Name: s.fromName, Email: s.fromEmail})
	msg.SetRecipients([]mailersend.Recipient{{Name: m.GuestName, Email: m.GuestEmail}})
	msg.SetSubject(Subject(kind, m))
	msg.SetText(Body(kind, m, s.cancelURL))

	res, err := s.client.Email.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	s.log.Info("notify: email sent",
		slog.Uint64("reservation_id", m.ReservationID),
		slog.String("kind", string(kind)),
		slog.String("message_id", res.Header.Get("X-Message-Id")))
	return nil
}

// LogSender appends one line per message to w.  Used when no email
// provider is configured.
type LogSender struct {
	W io.Writer
}

func (s LogSender) Send(_ context.Context, kind Kind, m Message) error {
	_, err := fmt.Fprintf(s.W, "[%s] Reservation %s | reservation_id=%d | reference=%s | occurrence_id=%d | title=%q | quantity=%d | total=%s %s | member_id=%d | guest=%q\n",
		m.OccurredAt.UTC().Format(time.RFC3339), kind, m.ReservationID, m.Reference, m.OccurrenceID, m.Title,
		m.Quantity, payment.FormatMinor(m.AmountMinor), strings.ToUpper(m.Currency), m.MemberID, m.GuestEmail)
	return err
}
