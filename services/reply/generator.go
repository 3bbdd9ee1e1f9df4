// File: services/reply/generator.go
package reply

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"tavolo/models"
	"tavolo/utils"

	genai "github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// Generator produces free-form reply text for informational and fallback
// turns. It must never fail past this boundary: implementations return a
// canned line when the model is unavailable.
type Generator interface {
	Generate(ctx context.Context, input GenerateInput) string
}

// GenerateInput is the dialogue context handed to the generator.
type GenerateInput struct {
	History      []models.HistoryItem
	Intent       string
	Fields       models.NLUFields
	Reservations []models.ReservationSummary
	Phone        string
	Tenant       *models.Tenant
}

// GeminiGenerator implements Generator with a Gemini model.
type GeminiGenerator struct {
	model *genai.GenerativeModel
}

func NewGeminiGenerator(apiKey, modelName string) *GeminiGenerator {
	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		panic(fmt.Sprintf("failed to create Gemini client: %v", err))
	}
	return &GeminiGenerator{model: client.GenerativeModel(modelName)}
}

func (g *GeminiGenerator) Generate(ctx context.Context, input GenerateInput) string {
	logger := utils.GetLogger()

	resp, err := g.model.GenerateContent(ctx, genai.Text(buildReplyPrompt(input)))
	if err != nil {
		logger.Warn("reply generation failed", zap.String("intent", input.Intent), zap.Error(err))
		return Say("clarify_fallback", nil)
	}

	var sb strings.Builder
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if textPart, ok := part.(genai.Text); ok {
				sb.WriteString(string(textPart))
			}
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return Say("clarify_fallback", nil)
	}
	return text
}

func buildReplyPrompt(input GenerateInput) string {
	tenantName := "il ristorante"
	address, menu := "", ""
	if input.Tenant != nil {
		tenantName = input.Tenant.Name
		address = input.Tenant.Address
		menu = input.Tenant.MenuURL
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Tu sei Tom, assistente del ristorante %s. Stai parlando con %s.\n", tenantName, input.Phone)
	if address != "" {
		sb.WriteString("Indirizzo: " + address + "\n")
	}
	if menu != "" {
		sb.WriteString("Menu: " + menu + "\n")
	}
	if len(input.Reservations) > 0 {
		b, _ := json.Marshal(input.Reservations)
		sb.WriteString("Prenotazioni del cliente: " + string(b) + "\n")
	}
	if len(input.History) > 0 {
		sb.WriteString("Conversazione recente:\n")
		for _, h := range input.History {
			fmt.Fprintf(&sb, "%s: %s\n", h.Role, h.Text)
		}
	}
	b, _ := json.Marshal(input.Fields)
	fmt.Fprintf(&sb, "Intent: %s, campi: %s.\n", input.Intent, string(b))
	sb.WriteString("Genera una risposta naturale, breve, in italiano, amichevole. ")
	sb.WriteString("Se l'intent non riguarda le prenotazioni, reindirizza gentilmente verso la prenotazione di un tavolo. ")
	sb.WriteString("Rispondi solo con il testo del messaggio, senza virgolette.")
	return sb.String()
}
