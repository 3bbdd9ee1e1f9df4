// File: handlers/webhook.go
package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tavolo/config"
	processedRepo "tavolo/database/repository/processed"
	tenantRepoPkg "tavolo/database/repository/tenant"
	"tavolo/models"
	"tavolo/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20 // 1 MiB

// processTimeout bounds one conversation turn once the webhook has been acked.
const processTimeout = 30 * time.Second

// InboundProcessor is the slice of the conversation engine the webhook
// drives; satisfied by *conversation.Engine.
type InboundProcessor interface {
	ProcessInbound(ctx context.Context, tenant *models.Tenant, msg models.InboundMessage) error
}

// WebhookHandler terminates the WhatsApp Cloud API webhook: the GET
// verification handshake and the POST event deliveries.
type WebhookHandler struct {
	Tenants   tenantRepoPkg.TenantRepository
	Processed processedRepo.ProcessedMessageRepository
	Engine    InboundProcessor
}

func NewWebhookHandler(tenants tenantRepoPkg.TenantRepository, processed processedRepo.ProcessedMessageRepository, engine InboundProcessor) *WebhookHandler {
	return &WebhookHandler{Tenants: tenants, Processed: processed, Engine: engine}
}

// VerifyHandler answers Meta's subscription handshake: echo the challenge
// when the verify token matches.
func (h *WebhookHandler) VerifyHandler(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode == "subscribe" && token != "" && token == config.AppConfig.WhatsAppVerifyToken {
		c.String(http.StatusOK, challenge)
		return
	}
	c.String(http.StatusForbidden, "verification failed")
}

// webhookPayload mirrors the slice of the Cloud API event envelope we read.
type webhookPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Metadata struct {
					PhoneNumberID string `json:"phone_number_id"`
				} `json:"metadata"`
				Messages []inboundWAMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type inboundWAMessage struct {
	From        string         `json:"from"`
	ID          string         `json:"id"`
	Timestamp   string         `json:"timestamp"`
	Type        string         `json:"type"`
	Text        *waText        `json:"text"`
	Audio       *waAudio       `json:"audio"`
	Interactive *waInteractive `json:"interactive"`
}

type waText struct {
	Body string `json:"body"`
}

type waAudio struct {
	ID string `json:"id"`
}

type waInteractive struct {
	Type        string   `json:"type"`
	ButtonReply *waReply `json:"button_reply"`
	ListReply   *waReply `json:"list_reply"`
}

type waReply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// InboundHandler accepts one webhook delivery. It acks with 200 as soon as
// the payload is parsed and authenticated; the conversational work happens on
// a detached goroutine so Meta never sees our processing latency.
func (h *WebhookHandler) InboundHandler(c *gin.Context) {
	logger := utils.GetLogger()

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	if !validSignature(body, c.GetHeader("X-Hub-Signature-256")) {
		logger.Warn("webhook signature mismatch")
		c.JSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	// Ack first; everything below must not block the response.
	c.String(http.StatusOK, "EVENT_RECEIVED")

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			phoneNumberID := change.Value.Metadata.PhoneNumberID
			for _, wa := range change.Value.Messages {
				h.dispatch(c.Request.Context(), phoneNumberID, wa)
			}
		}
	}
}

// validSignature checks the X-Hub-Signature-256 HMAC over the raw body. An
// empty configured secret disables the check (local development).
func validSignature(body []byte, header string) bool {
	secret := config.AppConfig.WhatsAppAppSecret
	if secret == "" {
		return true
	}
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	want, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), want)
}

func (h *WebhookHandler) dispatch(ctx context.Context, phoneNumberID string, wa inboundWAMessage) {
	logger := utils.GetLogger()

	tenant, err := h.Tenants.GetByPhoneNumberID(ctx, phoneNumberID)
	if err != nil {
		logger.Error("tenant routing failed",
			zap.String("phoneNumberID", phoneNumberID), zap.Error(err))
		return
	}
	if tenant == nil {
		logger.Warn("no tenant for phone number id", zap.String("phoneNumberID", phoneNumberID))
		return
	}

	msg, ok := reduceMessage(wa)
	if !ok {
		return
	}

	// Idempotency guard: duplicate deliveries of the same message id are
	// dropped before any side effect.
	err = h.Processed.MarkProcessed(ctx, tenant.ID, msg.Provider, msg.MessageID)
	if errors.Is(err, processedRepo.ErrAlreadyProcessed) {
		logger.Info("duplicate delivery dropped",
			zap.String("tenant", tenant.Slug), zap.String("messageID", msg.MessageID))
		return
	}
	if err != nil {
		logger.Error("idempotency mark failed", zap.Error(err))
		return
	}

	go func() {
		pctx, cancel := context.WithTimeout(context.Background(), processTimeout)
		defer cancel()
		if err := h.Engine.ProcessInbound(pctx, tenant, msg); err != nil {
			logger.Error("inbound processing failed",
				zap.String("tenant", tenant.Slug),
				zap.String("messageID", msg.MessageID),
				zap.Error(err))
		}
	}()
}

// reduceMessage flattens a Cloud API message into the normalized shape the
// orchestrator consumes. Button and list replies are reduced to text.
func reduceMessage(wa inboundWAMessage) (models.InboundMessage, bool) {
	msg := models.InboundMessage{
		Provider:  "whatsapp",
		MessageID: wa.ID,
		From:      wa.From,
	}
	if ts, err := strconv.ParseInt(wa.Timestamp, 10, 64); err == nil {
		msg.Timestamp = time.Unix(ts, 0)
	}

	switch wa.Type {
	case "text":
		if wa.Text == nil {
			return msg, false
		}
		msg.Text = wa.Text.Body
	case "audio":
		if wa.Audio == nil {
			return msg, false
		}
		msg.AudioID = wa.Audio.ID
	case "interactive":
		if wa.Interactive == nil {
			return msg, false
		}
		switch {
		case wa.Interactive.ButtonReply != nil:
			switch wa.Interactive.ButtonReply.ID {
			case "confirm":
				msg.Text = "Confermo"
			case "cancel":
				msg.Text = "Annulla"
			default:
				msg.Text = wa.Interactive.ButtonReply.Title
			}
		case wa.Interactive.ListReply != nil:
			id := wa.Interactive.ListReply.ID
			if slot, ok := strings.CutPrefix(id, "slot_"); ok {
				msg.Text = slot
			} else if strings.HasPrefix(id, "reservation_") {
				msg.Text = id
			} else {
				msg.Text = wa.Interactive.ListReply.Title
			}
		default:
			return msg, false
		}
	default:
		// Stickers, images, reactions: nothing to do.
		return msg, false
	}
	return msg, true
}
