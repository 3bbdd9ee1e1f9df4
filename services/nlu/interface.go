package nlu

import (
	"context"
	"strings"

	"tavolo/models"
)

// Parser extracts intent and booking fields from one inbound message.
// Implementations may fail; callers must degrade to FallbackResult.
type Parser interface {
	Parse(ctx context.Context, text string, nluCtx models.NLUContext) (*models.NLUResult, error)
}

// FallbackResult is the local degradation used when the parser is
// unavailable: a harmless smalltalk result with a canned reply.
func FallbackResult(phone string) *models.NLUResult {
	return &models.NLUResult{
		Intent:     models.IntentUnknown,
		Confidence: 0,
		Fields:     models.NLUFields{Phone: phone},
		Reply:      "Posso aiutarti con le prenotazioni o con le info del locale 😄",
		NextAction: models.ActionUnknown,
	}
}

// keywordIntent is a last-resort classifier used when the model returns
// something unusable: it only distinguishes booking-ish messages from chat.
func keywordIntent(text string) string {
	t := strings.ToLower(text)
	switch {
	case strings.Contains(t, "prenot") || strings.Contains(t, "tavolo"):
		return models.IntentBookingCreate
	case strings.Contains(t, "annull") || strings.Contains(t, "cancell"):
		return models.IntentBookingCancel
	case strings.Contains(t, "orari") || strings.Contains(t, "apert"):
		return models.IntentInfoHours
	default:
		return models.IntentUnknown
	}
}
