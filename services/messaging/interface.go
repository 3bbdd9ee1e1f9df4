package messaging

import (
	"context"

	"tavolo/models"
)

// Credentials identify the sending WhatsApp business number.
type Credentials struct {
	PhoneNumberID string
	Token         string
}

// Sender is the outbound messaging collaborator. Every structured variant is
// reducible to a text-equivalent reply; delivery failures are logged by the
// implementation and surface as errors without being retried by callers.
type Sender interface {
	SendText(ctx context.Context, creds Credentials, to, body string) error
	// SendConfirmButtons sends the proposal text with Confirm/Cancel reply buttons.
	SendConfirmButtons(ctx context.Context, creds Credentials, to, text string) error
	// SendTimeOptions sends a pick-one list of alternative times.
	SendTimeOptions(ctx context.Context, creds Credentials, to, title string, options []string) error
	// SendReservationList sends a pick-one list of the customer's reservations.
	SendReservationList(ctx context.Context, creds Credentials, to, title string, reservations []models.ReservationSummary) error
	// DownloadMedia fetches inbound media content (voice notes) by media id.
	DownloadMedia(ctx context.Context, creds Credentials, mediaID string) ([]byte, error)
}
