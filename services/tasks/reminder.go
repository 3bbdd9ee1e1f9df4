package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tavolo/config"
	tenantRepo "tavolo/database/repository/tenant"
	"tavolo/models"
	"tavolo/services/messaging"
	"tavolo/services/reply"
	"tavolo/utils"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const TypeSendReminder = "reminder:send"

// NewReminderTask builds the asynq task that pings the customer ahead of
// their reservation.
func NewReminderTask(payload models.ReminderPayload, fireAt time.Time) (*asynq.Task, []asynq.Option, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, err
	}
	task := asynq.NewTask(TypeSendReminder, b)
	opts := []asynq.Option{asynq.ProcessAt(fireAt)}

	return task, opts, nil
}

// ReminderHandler processes scheduled reminder tasks.
type ReminderHandler struct {
	Tenants tenantRepo.TenantRepository
	Sender  messaging.Sender
}

func (h *ReminderHandler) HandleReminder(ctx context.Context, t *asynq.Task) error {
	logger := utils.GetLogger()

	var payload models.ReminderPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to decode reminder payload: %w", err)
	}

	tenant, err := h.Tenants.GetByID(ctx, payload.TenantID)
	if err != nil || tenant == nil {
		logger.Warn("reminder tenant lookup failed",
			zap.String("tenantID", payload.TenantID), zap.Error(err))
		tenant = &models.Tenant{ID: payload.TenantID}
	}

	creds := messaging.Credentials{
		PhoneNumberID: tenant.WhatsAppPhoneID,
		Token:         tenant.WhatsAppToken,
	}
	if creds.PhoneNumberID == "" {
		creds.PhoneNumberID = config.AppConfig.WhatsAppPhoneNumberID
	}
	if creds.Token == "" {
		creds.Token = config.AppConfig.WhatsAppToken
	}

	body := reply.Say("reminder", map[string]string{"slot": payload.SlotHuman})
	if err := h.Sender.SendText(ctx, creds, payload.Phone, body); err != nil {
		logger.Error("reminder send failed",
			zap.String("reservationID", payload.ReservationID), zap.Error(err))
		return err
	}

	logger.Info("reminder sent",
		zap.String("reservationID", payload.ReservationID), zap.String("to", payload.Phone))
	return nil
}
