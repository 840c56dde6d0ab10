package email

import (
	"context"
	"fmt"

	"github.com/Domenick1991/spiritbooking/config"
	"github.com/Domenick1991/spiritbooking/internal/domain"
	"github.com/sirupsen/logrus"
	"github.com/wneessen/go-mail"
)

type Message struct {
	To      string
	Subject string
	Body    string
}

type mailer interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// Sender turns booking events into customer emails. Without an SMTP host it
// only logs what it would have sent.
type Sender struct {
	client mailer
	from   string
	log    *logrus.Entry
}

func NewSender(cfg config.SMTPConfig, log *logrus.Entry) (*Sender, error) {
	if cfg.Host == "" {
		return &Sender{from: cfg.From, log: log}, nil
	}
	opts := []mail.Option{mail.WithPort(cfg.Port), mail.WithTLSPolicy(mail.TLSOpportunistic)}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("could not initialize smtp client: %w", err)
	}
	return &Sender{client: client, from: cfg.From, log: log}, nil
}

func (s *Sender) Send(ctx context.Context, event domain.BookingEvent) error {
	message, ok := Render(event)
	if !ok {
		s.log.WithFields(logrus.Fields{"event": event.Type, "booking_id": event.BookingID}).Debug("no email for event")
		return nil
	}

	log := s.log.WithFields(logrus.Fields{"to": message.To, "subject": message.Subject, "booking_id": event.BookingID})
	if s.client == nil {
		log.Info("smtp disabled, email not sent")
		return nil
	}

	msg := mail.NewMsg()
	if err := msg.From(s.from); err != nil {
		return fmt.Errorf("invalid from address %q: %w", s.from, err)
	}
	if err := msg.To(message.To); err != nil {
		return fmt.Errorf("invalid recipient %q: %w", message.To, err)
	}
	msg.Subject(message.Subject)
	msg.SetBodyString(mail.TypeTextPlain, message.Body)

	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	log.Info("email sent")
	return nil
}

// Render builds the customer email for event. It reports false for events
// that do not notify anyone.
func Render(event domain.BookingEvent) (Message, bool) {
	if event.CustomerEmail == "" {
		return Message{}, false
	}

	when := fmt.Sprintf("%s at %s", event.ScheduledDate, event.ScheduledTime)
	if event.Timezone != "" {
		when += " (" + event.Timezone + ")"
	}
	greeting := "Hello"
	if event.CustomerName != "" {
		greeting += " " + event.CustomerName
	}

	var subject, body string
	switch event.Type {
	case domain.EventBookingCreated:
		subject = "Booking request received: " + event.ServiceTitle
		body = fmt.Sprintf("We received your request for %s on %s. The provider will confirm it shortly.", event.ServiceTitle, when)
	case domain.StatusEventType(domain.BookingStatusConfirmed):
		subject = "Booking confirmed: " + event.ServiceTitle
		body = fmt.Sprintf("Your session %s on %s is confirmed.", event.ServiceTitle, when)
		if event.MeetingURL != "" {
			body += "\nJoin online: " + event.MeetingURL
		}
	case domain.EventMeetingRoomReady:
		subject = "Meeting link for " + event.ServiceTitle
		body = fmt.Sprintf("Your session %s on %s will take place online.\nJoin here: %s", event.ServiceTitle, when, event.MeetingURL)
	case domain.EventBookingReminder:
		subject = "Reminder: " + event.ServiceTitle + " starts soon"
		body = fmt.Sprintf("Your session %s starts on %s.", event.ServiceTitle, when)
		if event.MeetingURL != "" {
			body += "\nJoin online: " + event.MeetingURL
		}
	case domain.StatusEventType(domain.BookingStatusCancelled):
		subject = "Booking cancelled: " + event.ServiceTitle
		body = fmt.Sprintf("Your session %s on %s was cancelled.", event.ServiceTitle, when)
		if event.Reason != "" {
			body += "\nReason: " + event.Reason
		}
		if event.PaymentStatus == domain.PaymentStatusRefunded {
			body += "\nYour payment will be refunded."
		}
	case domain.StatusEventType(domain.BookingStatusCompleted):
		subject = "Thank you for your session"
		body = fmt.Sprintf("Your session %s on %s is complete.", event.ServiceTitle, when)
	case domain.StatusEventType(domain.BookingStatusNoShow):
		subject = "Missed session: " + event.ServiceTitle
		body = fmt.Sprintf("You were marked absent from %s on %s.", event.ServiceTitle, when)
	default:
		return Message{}, false
	}

	return Message{To: event.CustomerEmail, Subject: subject, Body: greeting + ",\n\n" + body + "\n"}, true
}
