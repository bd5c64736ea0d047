package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"consultation_chat/internal/domain"
	apperrors "consultation_chat/pkg/errors"
	"consultation_chat/pkg/logger"
)

// Channel - один способ доставки уведомления получателю.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, recipientID uuid.UUID, ev domain.NotificationEvent) error
}

// DeliveryReport - итог доставки одного события.
type DeliveryReport struct {
	RecipientID uuid.UUID
	Delivered   []string
	Skipped     []string
	Failures    []*apperrors.ChannelDeliveryError
	Invalid     error
}

// Dispatcher доставляет уведомления по каналам. Сбои каналов не возвращаются вызывающему.
type Dispatcher interface {
	// Dispatch ставит событие в асинхронную доставку и сразу возвращает управление
	Dispatch(ev domain.NotificationEvent)
	Deliver(ctx context.Context, ev domain.NotificationEvent) DeliveryReport
	NotifyNewMessage(conv *domain.Conversation, msg *domain.Message, senderID uuid.UUID, senderRole string)
	NotifyConversationClosed(conv *domain.Conversation)
	// Wait дожидается завершения всех запущенных доставок
	Wait()
}

type dispatcher struct {
	channels map[string]Channel
	timeout  time.Duration
	validate *validator.Validate
	log      logger.Logger

	wg sync.WaitGroup
}

func NewDispatcher(timeout time.Duration, log logger.Logger, channels ...Channel) Dispatcher {
	registered := lo.Associate(lo.Compact(channels), func(c Channel) (string, Channel) {
		return c.Name(), c
	})

	return &dispatcher{
		channels: registered,
		timeout:  timeout,
		validate: validator.New(),
		log:      log,
	}
}

func (d *dispatcher) Dispatch(ev domain.NotificationEvent) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		d.Deliver(ctx, ev)
	}()
}

func (d *dispatcher) Wait() {
	d.wg.Wait()
}

func (d *dispatcher) Deliver(ctx context.Context, ev domain.NotificationEvent) DeliveryReport {
	report := DeliveryReport{RecipientID: ev.RecipientID}

	if err := d.validate.Struct(ev); err != nil {
		d.log.Warn("Dropping invalid notification event", "error", err, "type", ev.Type, "user_id", ev.RecipientID)
		report.Invalid = err
		return report
	}

	for _, name := range lo.Uniq(ev.Channels) {
		channel, ok := d.channels[name]
		if !ok {
			d.log.Debug("Notification channel not configured", "channel", name, "user_id", ev.RecipientID)
			report.Skipped = append(report.Skipped, name)
			continue
		}

		if err := d.deliverOne(ctx, channel, ev); err != nil {
			deliveryErr := &apperrors.ChannelDeliveryError{Channel: name, UserID: ev.RecipientID, Err: err}
			d.log.Error("Notification delivery failed",
				"error", deliveryErr,
				"channel", name,
				"user_id", ev.RecipientID,
				"type", ev.Type,
			)
			report.Failures = append(report.Failures, deliveryErr)
			continue
		}
		report.Delivered = append(report.Delivered, name)
	}

	return report
}

// deliverOne изолирует панику адаптера, чтобы она не прервала остальные каналы.
func (d *dispatcher) deliverOne(ctx context.Context, channel Channel, ev domain.NotificationEvent) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("channel panic: %v", rec)
		}
	}()
	return channel.Deliver(ctx, ev.RecipientID, ev)
}

// NewMessageRecipients: клиент пишет специалисту, специалист клиенту,
// администратор обоим участникам, кроме себя.
func NewMessageRecipients(conv *domain.Conversation, senderID uuid.UUID, senderRole string) []uuid.UUID {
	switch {
	case domain.IsAdministrativeRole(senderRole):
		return lo.Without(lo.Uniq(conv.Participants()), senderID)
	case conv.IsClient(senderID):
		if conv.ProfessionalID == nil {
			return nil
		}
		return lo.Without([]uuid.UUID{*conv.ProfessionalID}, senderID)
	case conv.IsProfessional(senderID):
		return lo.Without([]uuid.UUID{conv.ClientID}, senderID)
	default:
		return nil
	}
}

func (d *dispatcher) NotifyNewMessage(conv *domain.Conversation, msg *domain.Message, senderID uuid.UUID, senderRole string) {
	for _, recipientID := range NewMessageRecipients(conv, senderID, senderRole) {
		d.Dispatch(domain.NotificationEvent{
			Type:        domain.NotificationTypeNewMessage,
			RecipientID: recipientID,
			Title:       "New message",
			Body:        preview(msg.Body),
			Priority:    domain.NotificationPriorityNormal,
			Payload: map[string]interface{}{
				"conversationId": conv.ID.String(),
				"messageId":      msg.ID,
				"senderId":       senderID.String(),
			},
			Channels: []string{domain.ChannelLive},
		})
	}
}

func (d *dispatcher) NotifyConversationClosed(conv *domain.Conversation) {
	for _, recipientID := range lo.Uniq(conv.Participants()) {
		d.Dispatch(domain.NotificationEvent{
			Type:        domain.NotificationTypeConversationClosed,
			RecipientID: recipientID,
			Title:       "Conversation closed",
			Body:        closureText(conv.Status),
			Priority:    domain.NotificationPriorityHigh,
			Payload: map[string]interface{}{
				"conversationId": conv.ID.String(),
				"status":         conv.Status,
			},
			Channels: []string{domain.ChannelLive, domain.ChannelEmail},
		})
	}
}

const previewLength = 140

func preview(body string) string {
	runes := []rune(body)
	if len(runes) <= previewLength {
		return body
	}
	return string(runes[:previewLength]) + "..."
}

func closureText(status string) string {
	if status == domain.ConversationStatusCancelled {
		return "The conversation has been cancelled. The history remains available."
	}
	return "The conversation has been completed. The history remains available."
}
