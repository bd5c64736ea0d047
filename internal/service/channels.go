package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/wneessen/go-mail"

	"consultation_chat/internal/config"
	"consultation_chat/internal/domain"
	"consultation_chat/internal/realtime"
	"consultation_chat/internal/repository"
	"consultation_chat/pkg/logger"
)

// LivePusher - живая доставка через реестр соединений.
type LivePusher interface {
	PushToUser(userID uuid.UUID, env realtime.Envelope) int
}

type liveChannel struct {
	pusher LivePusher
	log    logger.Logger
}

func NewLiveChannel(pusher LivePusher, log logger.Logger) Channel {
	return &liveChannel{pusher: pusher, log: log}
}

func (c *liveChannel) Name() string {
	return domain.ChannelLive
}

// Deliver: отсутствие соединений у получателя ошибкой не является.
func (c *liveChannel) Deliver(_ context.Context, recipientID uuid.UUID, ev domain.NotificationEvent) error {
	env, err := realtime.NewEnvelope(realtime.EventNotification, realtime.NotificationPayload{
		Type:     ev.Type,
		Title:    ev.Title,
		Body:     ev.Body,
		Priority: ev.Priority,
		Payload:  ev.Payload,
	})
	if err != nil {
		return err
	}

	delivered := c.pusher.PushToUser(recipientID, env)
	c.log.Debug("Live notification pushed", "user_id", recipientID, "type", ev.Type, "connections", delivered)
	return nil
}

// Mailer - внешний почтовый транспорт.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

type emailChannel struct {
	userRepo repository.UserRepository
	mailer   Mailer
	log      logger.Logger
}

func NewEmailChannel(userRepo repository.UserRepository, mailer Mailer, log logger.Logger) Channel {
	return &emailChannel{userRepo: userRepo, mailer: mailer, log: log}
}

func (c *emailChannel) Name() string {
	return domain.ChannelEmail
}

func (c *emailChannel) Deliver(ctx context.Context, recipientID uuid.UUID, ev domain.NotificationEvent) error {
	user, err := c.userRepo.GetByID(ctx, recipientID)
	if err != nil {
		return fmt.Errorf("resolve recipient: %w", err)
	}
	if user.Email == "" {
		return fmt.Errorf("recipient %s has no email address", recipientID)
	}

	return c.mailer.Send(ctx, user.Email, ev.Title, ev.Body)
}

type smtpMailer struct {
	cfg config.SMTPConfig
}

// NewSMTPMailer отправляет письма через SMTP-сервер из конфигурации.
func NewSMTPMailer(cfg config.SMTPConfig) Mailer {
	return &smtpMailer{cfg: cfg}
}

func (m *smtpMailer) Send(ctx context.Context, to, subject, body string) error {
	msg := mail.NewMsg()
	if err := msg.From(m.cfg.From); err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("invalid recipient: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	opts := []mail.Option{mail.WithPort(m.cfg.Port), mail.WithTLSPolicy(mail.TLSOpportunistic)}
	if m.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.cfg.Username),
			mail.WithPassword(m.cfg.Password),
		)
	}

	client, err := mail.NewClient(m.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("failed to create mail client: %w", err)
	}

	return client.DialAndSendWithContext(ctx, msg)
}
