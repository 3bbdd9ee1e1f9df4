// File: services/nlu/gemini.go
package nlu

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"tavolo/models"
	"tavolo/utils"

	genai "github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

var (
	dateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	timeRe = regexp.MustCompile(`^\d{2}:\d{2}$`)
)

// GeminiParser implements Parser on top of a Gemini generative model
// constrained to a JSON-only reply.
type GeminiParser struct {
	model *genai.GenerativeModel
}

// NewGeminiParser creates the Gemini-backed NLU parser.
func NewGeminiParser(apiKey, modelName string) *GeminiParser {
	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		panic(fmt.Sprintf("failed to create Gemini client: %v", err))
	}

	model := client.GenerativeModel(modelName)
	model.ResponseMIMEType = "application/json"
	return &GeminiParser{model: model}
}

const maxAttempts = 3

// Parse asks the model for a structured interpretation of the message,
// retrying transient failures with exponential backoff.
func (g *GeminiParser) Parse(ctx context.Context, text string, nluCtx models.NLUContext) (*models.NLUResult, error) {
	logger := utils.GetLogger()
	prompt := buildPrompt(text, nluCtx)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
		if err != nil {
			lastErr = fmt.Errorf("gemini generate error: %w", err)
			logger.Warn("nlu generate failed", zap.Int("attempt", attempt), zap.Error(err))
			if attempt < maxAttempts {
				time.Sleep(backoff(attempt))
				continue
			}
			break
		}

		raw := collectText(resp)
		result, err := decodeResult(raw)
		if err != nil {
			lastErr = err
			logger.Warn("nlu decode failed", zap.Int("attempt", attempt), zap.Error(err))
			if attempt < maxAttempts {
				time.Sleep(backoff(attempt))
				continue
			}
			break
		}

		sanitize(result, text, nluCtx.Phone)
		return result, nil
	}
	return nil, lastErr
}

func backoff(attempt int) time.Duration {
	d := 500 * time.Millisecond
	for i := 1; i < attempt; i++ {
		d *= 3
	}
	return d
}

func buildPrompt(text string, nluCtx models.NLUContext) string {
	var sb strings.Builder
	sb.WriteString("Sei l'assistente prenotazioni")
	if nluCtx.TenantName != "" {
		sb.WriteString(" di " + nluCtx.TenantName)
	}
	fmt.Fprintf(&sb, ". Interpreta date e orari nella timezone %s e lingua %s.\n", nluCtx.Timezone, nluCtx.Locale)
	sb.WriteString("Estrai intent e campi prenotazione dal messaggio dell'utente e rispondi SOLO con un oggetto JSON:\n")
	sb.WriteString(`{"intent": "booking.create|booking.modify|booking.cancel|booking.list|info.hours|info.menu|info.address|greeting|smalltalk|unknown",` + "\n")
	sb.WriteString(`"confidence": 0.0,` + "\n")
	sb.WriteString(`"fields": {"date": "YYYY-MM-DD", "time": "HH:MM", "people": 0, "name": "", "notes": "", "reservation_id": ""},` + "\n")
	sb.WriteString(`"missing_fields": [],` + "\n")
	sb.WriteString(`"reply": "",` + "\n")
	sb.WriteString(`"next_action": "ask_clarification|check_availability|send_info|list_show|none|unknown"}` + "\n")
	sb.WriteString("Ometti i campi che l'utente non ha fornito. Per modifiche o cancellazioni usa reservation_id dalla lista prenotazioni.\n")

	if len(nluCtx.ActiveReservations) > 0 {
		b, _ := json.Marshal(nluCtx.ActiveReservations)
		sb.WriteString("Prenotazioni attive: " + string(b) + "\n")
	}
	if len(nluCtx.History) > 0 {
		sb.WriteString("Conversazione recente:\n")
		for _, h := range nluCtx.History {
			fmt.Fprintf(&sb, "%s: %s\n", h.Role, h.Text)
		}
	}
	sb.WriteString("Messaggio utente: " + text)
	return sb.String()
}

func collectText(resp *genai.GenerateContentResponse) string {
	var sb strings.Builder
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if textPart, ok := part.(genai.Text); ok {
				sb.WriteString(string(textPart))
			}
		}
	}
	return sb.String()
}

func decodeResult(raw string) (*models.NLUResult, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var result models.NLUResult
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &result); err != nil {
		return nil, fmt.Errorf("invalid nlu json: %w", err)
	}
	if result.Intent == "" || result.NextAction == "" {
		return nil, fmt.Errorf("nlu result missing intent or next_action")
	}
	return &result, nil
}

// sanitize drops malformed extracted fields, re-flagging them as missing, and
// backfills the customer phone.
func sanitize(result *models.NLUResult, text, phone string) {
	if result.Fields.Date != "" && !dateRe.MatchString(result.Fields.Date) {
		// relative tokens ("domani", "venerdì") are resolved downstream; anything else is noise
		if _, ok := utils.ParseRelativeDateToken(result.Fields.Date, time.Now(), time.Local); !ok {
			result.Fields.Date = ""
			result.MissingFields = append(result.MissingFields, "date")
		}
	}
	if result.Fields.Time != "" && !timeRe.MatchString(result.Fields.Time) {
		result.Fields.Time = ""
		result.MissingFields = append(result.MissingFields, "time")
	}
	if result.Fields.People < 0 {
		result.Fields.People = 0
		result.MissingFields = append(result.MissingFields, "people")
	}
	result.Fields.Name = strings.TrimSpace(result.Fields.Name)
	if result.Fields.Phone == "" {
		result.Fields.Phone = phone
	}
	if result.Intent == models.IntentUnknown && result.NextAction == models.ActionCheckAvailability {
		// the model contradicted itself; trust the cheap classifier instead
		result.Intent = keywordIntent(text)
	}
}
