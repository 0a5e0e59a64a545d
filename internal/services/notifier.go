package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"time"

	"github.com/parkflow/parking-booking-backend/internal/config"
	"github.com/parkflow/parking-booking-backend/internal/metrics"
	"github.com/parkflow/parking-booking-backend/internal/models"
	"github.com/parkflow/parking-booking-backend/pkg/sms"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
	gomail "gopkg.in/gomail.v2"
)

// Notifier is told about bookings that just became CONFIRMED.
// Implementations must not block reconciliation; errors are logged by the caller.
type Notifier interface {
	BookingConfirmed(ctx context.Context, booking *models.Booking) error
}

// BookingConfirmedEvent is the message published for downstream consumers
type BookingConfirmedEvent struct {
	BookingID    string    `json:"booking_id"`
	Reference    string    `json:"reference"`
	LotID        string    `json:"lot_id"`
	DropOffTime  time.Time `json:"drop_off_time"`
	PickUpTime   time.Time `json:"pick_up_time"`
	LicensePlate string    `json:"license_plate"`
	ContactEmail string    `json:"contact_email"`
	TotalAmount  int64     `json:"total_amount"`
	Currency     string    `json:"currency"`
	ConfirmedAt  time.Time `json:"confirmed_at"`
}

// NewBookingConfirmedEvent builds the event payload
func NewBookingConfirmedEvent(b *models.Booking) BookingConfirmedEvent {
	e := BookingConfirmedEvent{
		BookingID:    b.ID.String(),
		Reference:    b.Reference,
		LotID:        b.LotID.String(),
		DropOffTime:  b.DropOffTime,
		PickUpTime:   b.PickUpTime,
		LicensePlate: b.LicensePlate,
		ContactEmail: b.ContactEmail,
		TotalAmount:  b.TotalAmount,
		Currency:     b.Currency,
	}
	if b.ConfirmedAt != nil {
		e.ConfirmedAt = *b.ConfirmedAt
	}
	return e
}

// AMQPNotifier publishes BookingConfirmedEvent to a durable RabbitMQ queue
type AMQPNotifier struct {
	url    string
	queue  string
	logger *logrus.Logger
}

// NewAMQPNotifier creates a RabbitMQ publisher
func NewAMQPNotifier(cfg config.RabbitMQConfig, logger *logrus.Logger) *AMQPNotifier {
	queue := cfg.Queue
	if queue == "" {
		queue = "booking.confirmed"
	}
	return &AMQPNotifier{url: cfg.URL, queue: queue, logger: logger}
}

// BookingConfirmed publishes one persistent message per confirmation
func (n *AMQPNotifier) BookingConfirmed(ctx context.Context, booking *models.Booking) error {
	conn, err := amqp.Dial(n.url)
	if err != nil {
		return fmt.Errorf("rabbitmq dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(n.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("rabbitmq queue declare: %w", err)
	}

	body, err := json.Marshal(NewBookingConfirmedEvent(booking))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	err = ch.PublishWithContext(ctx, "", n.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    booking.Reference,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("rabbitmq publish: %w", err)
	}

	n.logger.WithFields(logrus.Fields{
		"booking_reference": booking.Reference,
		"queue":             n.queue,
	}).Debug("Published booking confirmation")
	return nil
}

var confirmationTemplate = template.Must(template.New("confirmation").Parse(`<p>Hi {{.ContactName}},</p>
<p>Your parking booking <strong>{{.Reference}}</strong> is confirmed.</p>
<p>Drop-off: {{.DropOffTime.Format "02 Jan 2006 15:04"}}<br>
Pick-up: {{.PickUpTime.Format "02 Jan 2006 15:04"}}<br>
Vehicle: {{.LicensePlate}}</p>
<p>Total paid: {{.TotalAmount}} {{.Currency}}</p>`))

// MailDialer is the subset of gomail.Dialer used to send messages
type MailDialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// EmailNotifier sends the customer a confirmation email over SMTP
type EmailNotifier struct {
	dialer MailDialer
	from   string
	logger *logrus.Logger
}

// NewEmailNotifier creates an SMTP notifier from config
func NewEmailNotifier(cfg config.MailConfig, logger *logrus.Logger) *EmailNotifier {
	return &EmailNotifier{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
		logger: logger,
	}
}

// NewEmailNotifierWithDialer is used when the dialer is provided by the caller
func NewEmailNotifierWithDialer(dialer MailDialer, from string, logger *logrus.Logger) *EmailNotifier {
	return &EmailNotifier{dialer: dialer, from: from, logger: logger}
}

// BookingConfirmed emails the booking contact
func (n *EmailNotifier) BookingConfirmed(ctx context.Context, booking *models.Booking) error {
	if booking.ContactEmail == "" {
		return nil
	}

	var body bytes.Buffer
	if err := confirmationTemplate.Execute(&body, booking); err != nil {
		return fmt.Errorf("render confirmation email: %w", err)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.from)
	m.SetHeader("To", booking.ContactEmail)
	m.SetHeader("Subject", fmt.Sprintf("Parking booking %s confirmed", booking.Reference))
	m.SetBody("text/html", body.String())

	// gomail has no context support; the send is abandoned, not aborted, on ctx expiry
	done := make(chan error, 1)
	go func() { done <- n.dialer.DialAndSend(m) }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send confirmation email: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("send confirmation email: %w", ctx.Err())
	}
}

// SMSNotifier texts the booking contact a short confirmation
type SMSNotifier struct {
	gateway sms.Gateway
	logger  *logrus.Logger
}

// NewSMSNotifier creates an SMS notifier
func NewSMSNotifier(gateway sms.Gateway, logger *logrus.Logger) *SMSNotifier {
	return &SMSNotifier{gateway: gateway, logger: logger}
}

// BookingConfirmed sends the text when the booking has a phone number
func (n *SMSNotifier) BookingConfirmed(ctx context.Context, booking *models.Booking) error {
	if booking.ContactPhone == "" {
		return nil
	}
	message := fmt.Sprintf("Parking booking %s confirmed. Drop-off %s, vehicle %s.",
		booking.Reference, booking.DropOffTime.UTC().Format("2006-01-02 15:04"), booking.LicensePlate)

	id, err := n.gateway.Send(ctx, booking.ContactPhone, message)
	if err != nil {
		return fmt.Errorf("send confirmation sms: %w", err)
	}
	n.logger.WithFields(logrus.Fields{
		"booking_reference": booking.Reference,
		"gateway":           n.gateway.Name(),
		"transaction_id":    id,
	}).Debug("Confirmation SMS sent")
	return nil
}

// MultiNotifier fans a confirmation out to several channels
type MultiNotifier struct {
	channels map[string]Notifier
	logger   *logrus.Logger
}

// NewMultiNotifier creates a fan-out notifier keyed by channel name
func NewMultiNotifier(logger *logrus.Logger) *MultiNotifier {
	return &MultiNotifier{channels: make(map[string]Notifier), logger: logger}
}

// NewConfiguredNotifier registers every channel that has configuration
func NewConfiguredNotifier(cfg *config.Config, logger *logrus.Logger) *MultiNotifier {
	m := NewMultiNotifier(logger)
	if cfg.RabbitMQ.URL != "" {
		m.Add("amqp", NewAMQPNotifier(cfg.RabbitMQ, logger))
	}
	if cfg.Mail.Enabled() {
		m.Add("email", NewEmailNotifier(cfg.Mail, logger))
	}
	if cfg.SMS.Enabled() {
		m.Add("sms", NewSMSNotifier(sms.NewHTTPGateway(sms.Config{
			APIURL:   cfg.SMS.APIURL,
			Username: cfg.SMS.Username,
			Password: cfg.SMS.Password,
			Sender:   cfg.SMS.Sender,
		}), logger))
	}
	return m
}

// Add registers a channel
func (m *MultiNotifier) Add(name string, n Notifier) *MultiNotifier {
	m.channels[name] = n
	return m
}

// Len returns the number of registered channels
func (m *MultiNotifier) Len() int {
	return len(m.channels)
}

// BookingConfirmed notifies every channel and joins their errors
func (m *MultiNotifier) BookingConfirmed(ctx context.Context, booking *models.Booking) error {
	var errs []error
	for name, n := range m.channels {
		if err := n.BookingConfirmed(ctx, booking); err != nil {
			metrics.IncNotification(name, "error")
			m.logger.WithError(err).WithFields(logrus.Fields{
				"channel":           name,
				"booking_reference": booking.Reference,
			}).Warn("Booking notification failed")
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		metrics.IncNotification(name, "sent")
	}
	return errors.Join(errs...)
}

// NoopNotifier discards notifications
type NoopNotifier struct{}

// BookingConfirmed implements Notifier
func (NoopNotifier) BookingConfirmed(context.Context, *models.Booking) error { return nil }
