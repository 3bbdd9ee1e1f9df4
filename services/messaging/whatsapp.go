// File: services/messaging/whatsapp.go
package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"tavolo/models"
	"tavolo/utils"

	"go.uber.org/zap"
)

const graphBase = "https://graph.facebook.com/v20.0"

// WhatsAppSender implements Sender against the WhatsApp Cloud API.
// Sends retry on 429 and 5xx responses with exponential backoff.
type WhatsAppSender struct {
	client *http.Client
}

func NewWhatsAppSender() *WhatsAppSender {
	return &WhatsAppSender{
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

func (w *WhatsAppSender) SendText(ctx context.Context, creds Credentials, to, body string) error {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "text",
		"text":              map[string]string{"body": body},
	}
	return w.post(ctx, creds, payload)
}

func (w *WhatsAppSender) SendConfirmButtons(ctx context.Context, creds Credentials, to, text string) error {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "interactive",
		"interactive": map[string]any{
			"type": "button",
			"body": map[string]string{"text": text},
			"action": map[string]any{
				"buttons": []map[string]any{
					{"type": "reply", "reply": map[string]string{"id": "confirm", "title": "Confermo"}},
					{"type": "reply", "reply": map[string]string{"id": "cancel", "title": "Annulla"}},
				},
			},
		},
	}
	return w.post(ctx, creds, payload)
}

func (w *WhatsAppSender) SendTimeOptions(ctx context.Context, creds Credentials, to, title string, options []string) error {
	rows := make([]map[string]string, 0, len(options))
	for _, o := range options {
		rows = append(rows, map[string]string{"id": "slot_" + o, "title": o})
	}
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "interactive",
		"interactive": map[string]any{
			"type": "list",
			"body": map[string]string{"text": title},
			"action": map[string]any{
				"button": "Orari",
				"sections": []map[string]any{
					{"title": "Orari liberi", "rows": rows},
				},
			},
		},
	}
	return w.post(ctx, creds, payload)
}

func (w *WhatsAppSender) SendReservationList(ctx context.Context, creds Credentials, to, title string, reservations []models.ReservationSummary) error {
	rows := make([]map[string]string, 0, len(reservations))
	for _, r := range reservations {
		rows = append(rows, map[string]string{
			"id":    "reservation_" + r.ID,
			"title": fmt.Sprintf("%s %s (%d persone)", r.Date, r.Time, r.People),
		})
	}
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "interactive",
		"interactive": map[string]any{
			"type": "list",
			"body": map[string]string{"text": title},
			"action": map[string]any{
				"button": "Prenotazioni",
				"sections": []map[string]any{
					{"title": "Le tue prenotazioni", "rows": rows},
				},
			},
		},
	}
	return w.post(ctx, creds, payload)
}

const sendAttempts = 3

func (w *WhatsAppSender) post(ctx context.Context, creds Credentials, payload any) error {
	logger := utils.GetLogger()

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode outbound payload: %w", err)
	}
	url := fmt.Sprintf("%s/%s/messages", graphBase, creds.PhoneNumberID)

	var lastErr error
	for attempt := 1; attempt <= sendAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to build outbound request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+creds.Token)

		resp, err := w.client.Do(req)
		if err != nil {
			lastErr = err
			logger.Error("wa outbound error", zap.Int("attempt", attempt), zap.Error(err))
			if attempt < sendAttempts {
				time.Sleep(sendBackoff(attempt))
				continue
			}
			break
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			logger.Info("wa outbound ok", zap.Int("attempt", attempt), zap.Int("status", resp.StatusCode))
			return nil
		}

		lastErr = fmt.Errorf("wa outbound status %d", resp.StatusCode)
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		logger.Warn("wa outbound not ok",
			zap.Int("attempt", attempt), zap.Int("status", resp.StatusCode))
		if retryable && attempt < sendAttempts {
			time.Sleep(sendBackoff(attempt))
			continue
		}
		break
	}
	return lastErr
}

func sendBackoff(attempt int) time.Duration {
	d := 500 * time.Millisecond
	for i := 1; i < attempt; i++ {
		d *= 3
	}
	return d
}

// DownloadMedia resolves a media id to its download URL, then fetches the
// content with the same bearer token.
func (w *WhatsAppSender) DownloadMedia(ctx context.Context, creds Credentials, mediaID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, graphBase+"/"+mediaID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build media lookup request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+creds.Token)

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("media lookup failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("media lookup status %d", resp.StatusCode)
	}

	var meta struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, fmt.Errorf("failed to decode media lookup: %w", err)
	}

	dlReq, err := http.NewRequestWithContext(ctx, http.MethodGet, meta.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build media download request: %w", err)
	}
	dlReq.Header.Set("Authorization", "Bearer "+creds.Token)

	dlResp, err := w.client.Do(dlReq)
	if err != nil {
		return nil, fmt.Errorf("media download failed: %w", err)
	}
	defer dlResp.Body.Close()
	if dlResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("media download status %d", dlResp.StatusCode)
	}
	return io.ReadAll(dlResp.Body)
}
