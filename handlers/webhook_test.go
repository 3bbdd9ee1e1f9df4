package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tavolo/config"
	processedRepo "tavolo/database/repository/processed"
	"tavolo/models"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTenantRepo struct {
	byPhoneID *models.Tenant
}

func (f *fakeTenantRepo) GetByID(ctx context.Context, id string) (*models.Tenant, error) {
	return nil, nil
}

func (f *fakeTenantRepo) GetBySlug(ctx context.Context, slug string) (*models.Tenant, error) {
	return nil, nil
}

func (f *fakeTenantRepo) GetByPhoneNumberID(ctx context.Context, phoneNumberID string) (*models.Tenant, error) {
	return f.byPhoneID, nil
}

type fakeProcessedRepo struct {
	marked []string
	err    error
}

func (f *fakeProcessedRepo) MarkProcessed(ctx context.Context, tenantID, provider, messageID string) error {
	f.marked = append(f.marked, messageID)
	return f.err
}

type fakeInboundProcessor struct {
	calls chan models.InboundMessage
}

func (f *fakeInboundProcessor) ProcessInbound(ctx context.Context, tenant *models.Tenant, msg models.InboundMessage) error {
	f.calls <- msg
	return nil
}

func newTestRouter(h *WebhookHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/webhook/whatsapp", h.VerifyHandler)
	r.POST("/webhook/whatsapp", h.InboundHandler)
	return r
}

func TestVerifyHandshake(t *testing.T) {
	config.AppConfig.WhatsAppVerifyToken = "sesame"
	h := &WebhookHandler{Tenants: &fakeTenantRepo{}, Processed: &fakeProcessedRepo{}}
	router := newTestRouter(h)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet,
		"/webhook/whatsapp?hub.mode=subscribe&hub.verify_token=sesame&hub.challenge=12345", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "12345", w.Body.String())

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet,
		"/webhook/whatsapp?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestInboundSignatureCheck(t *testing.T) {
	config.AppConfig.WhatsAppAppSecret = "app-secret"
	t.Cleanup(func() { config.AppConfig.WhatsAppAppSecret = "" })

	h := &WebhookHandler{Tenants: &fakeTenantRepo{}, Processed: &fakeProcessedRepo{}}
	router := newTestRouter(h)
	body := []byte(`{"entry":[]}`)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", sign("app-secret", body))
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "EVENT_RECEIVED", w.Body.String())

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", sign("other-secret", body))
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", bytes.NewReader(body))
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code, "missing signature is rejected when a secret is set")
}

func TestInboundUnknownTenantIsDropped(t *testing.T) {
	config.AppConfig.WhatsAppAppSecret = ""
	processed := &fakeProcessedRepo{}
	h := &WebhookHandler{Tenants: &fakeTenantRepo{}, Processed: processed}
	router := newTestRouter(h)

	body := []byte(`{"entry":[{"changes":[{"value":{
		"metadata":{"phone_number_id":"555"},
		"messages":[{"from":"393331234567","id":"wamid.1","type":"text","text":{"body":"ciao"}}]
	}}]}]}`)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", bytes.NewReader(body))
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code, "unroutable events are still acked")
	assert.Empty(t, processed.marked)
}

func TestDuplicateDeliveryProducesOneSideEffect(t *testing.T) {
	config.AppConfig.WhatsAppAppSecret = ""
	engine := &fakeInboundProcessor{calls: make(chan models.InboundMessage, 4)}
	processed := &fakeProcessedRepo{}
	h := &WebhookHandler{
		Tenants:   &fakeTenantRepo{byPhoneID: &models.Tenant{ID: "t1", Slug: "trattoria-roma"}},
		Processed: processed,
		Engine:    engine,
	}
	router := newTestRouter(h)

	body := []byte(`{"entry":[{"changes":[{"value":{
		"metadata":{"phone_number_id":"555"},
		"messages":[{"from":"393331234567","id":"wamid.1","type":"text","text":{"body":"ciao"}}]
	}}]}]}`)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", bytes.NewReader(body))
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	select {
	case msg := <-engine.calls:
		assert.Equal(t, "wamid.1", msg.MessageID)
	case <-time.After(time.Second):
		t.Fatal("first delivery never reached the engine")
	}

	// A redelivery of the same message id is dropped before any side effect.
	processed.err = processedRepo.ErrAlreadyProcessed
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", bytes.NewReader(body))
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, "duplicates are still acked")

	select {
	case <-engine.calls:
		t.Fatal("duplicate delivery reached the engine")
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, []string{"wamid.1", "wamid.1"}, processed.marked)
}

func TestReduceMessage(t *testing.T) {
	text := inboundWAMessage{From: "39333", ID: "m1", Type: "text", Timestamp: "1756742400",
		Text: &waText{Body: "ciao"}}
	msg, ok := reduceMessage(text)
	require.True(t, ok)
	assert.Equal(t, "ciao", msg.Text)
	assert.Equal(t, "whatsapp", msg.Provider)
	assert.False(t, msg.Timestamp.IsZero())

	audio := inboundWAMessage{From: "39333", ID: "m2", Type: "audio",
		Audio: &waAudio{ID: "media-1"}}
	msg, ok = reduceMessage(audio)
	require.True(t, ok)
	assert.Empty(t, msg.Text)
	assert.Equal(t, "media-1", msg.AudioID)

	sticker := inboundWAMessage{From: "39333", ID: "m3", Type: "sticker"}
	_, ok = reduceMessage(sticker)
	assert.False(t, ok)
}

func TestReduceInteractiveReplies(t *testing.T) {
	mk := func(buttonID, listID string) inboundWAMessage {
		wa := inboundWAMessage{From: "39333", ID: "m1", Type: "interactive", Interactive: &waInteractive{}}
		if buttonID != "" {
			wa.Interactive.ButtonReply = &waReply{ID: buttonID, Title: "titolo"}
		}
		if listID != "" {
			wa.Interactive.ListReply = &waReply{ID: listID, Title: "titolo"}
		}
		return wa
	}

	msg, ok := reduceMessage(mk("confirm", ""))
	require.True(t, ok)
	assert.Equal(t, "Confermo", msg.Text)

	msg, ok = reduceMessage(mk("cancel", ""))
	require.True(t, ok)
	assert.Equal(t, "Annulla", msg.Text)

	msg, ok = reduceMessage(mk("", "slot_20:30"))
	require.True(t, ok)
	assert.Equal(t, "20:30", msg.Text)

	msg, ok = reduceMessage(mk("", "reservation_res-1"))
	require.True(t, ok)
	assert.Equal(t, "reservation_res-1", msg.Text)
}
