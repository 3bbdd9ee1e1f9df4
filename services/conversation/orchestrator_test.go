package conversation

import (
	"context"
	"strings"
	"testing"
	"time"

	"tavolo/config"
	"tavolo/models"
	"tavolo/services/availability"
	"tavolo/services/messaging"
	"tavolo/services/reply"
	"tavolo/services/session"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---- fakes -----------------------------------------------------------------

type fakeSender struct {
	texts    []string
	confirms []string
	options  [][]string
	lists    []string
}

func (f *fakeSender) SendText(ctx context.Context, creds messaging.Credentials, to, body string) error {
	f.texts = append(f.texts, body)
	return nil
}

func (f *fakeSender) SendConfirmButtons(ctx context.Context, creds messaging.Credentials, to, text string) error {
	f.confirms = append(f.confirms, text)
	return nil
}

func (f *fakeSender) SendTimeOptions(ctx context.Context, creds messaging.Credentials, to, title string, options []string) error {
	f.options = append(f.options, options)
	return nil
}

func (f *fakeSender) SendReservationList(ctx context.Context, creds messaging.Credentials, to, title string, reservations []models.ReservationSummary) error {
	f.lists = append(f.lists, title)
	return nil
}

func (f *fakeSender) DownloadMedia(ctx context.Context, creds messaging.Credentials, mediaID string) ([]byte, error) {
	return nil, nil
}

func (f *fakeSender) lastText() string {
	if len(f.texts) == 0 {
		return ""
	}
	return f.texts[len(f.texts)-1]
}

type fakeAvailability struct {
	result availability.Result
	alts   []string
}

func (f *fakeAvailability) Check(ctx context.Context, tenant *models.Tenant, dateISO, hhmm string, people int, withOverlap bool) (availability.Result, error) {
	return f.result, nil
}

func (f *fakeAvailability) SuggestAlternatives(ctx context.Context, tenant *models.Tenant, dateISO, hhmm string, people int) ([]string, error) {
	return f.alts, nil
}

type fakeReservations struct {
	created       []*models.Reservation
	createErr     error
	statusUpdates map[string]string
	timeUpdates   int
	upcoming      []models.Reservation
	byID          *models.Reservation
	byIDErr       error
	ownOverlap    int
}

func (f *fakeReservations) Create(ctx context.Context, res *models.Reservation) error {
	f.created = append(f.created, res)
	return nil
}

func (f *fakeReservations) CreateIfCapacityHolds(ctx context.Context, res *models.Reservation, capacity int) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, res)
	return nil
}

func (f *fakeReservations) GetByID(ctx context.Context, tenantID, phone, id string) (*models.Reservation, error) {
	if f.byIDErr != nil {
		return nil, f.byIDErr
	}
	return f.byID, nil
}

func (f *fakeReservations) UpdateStatus(ctx context.Context, tenantID, id, status string) error {
	if f.statusUpdates == nil {
		f.statusUpdates = map[string]string{}
	}
	f.statusUpdates[id] = status
	return nil
}

func (f *fakeReservations) UpdateTimes(ctx context.Context, tenantID, id string, start, end time.Time, people int, notes string) error {
	f.timeUpdates++
	return nil
}

func (f *fakeReservations) ListUpcoming(ctx context.Context, tenantID, phone string, from time.Time) ([]models.Reservation, error) {
	return f.upcoming, nil
}

func (f *fakeReservations) SumOverlappingPeople(ctx context.Context, tenantID string, start, end time.Time) (int, error) {
	return 0, nil
}

func (f *fakeReservations) CountOverlappingForCustomer(ctx context.Context, tenantID, phone string, start, end time.Time) (int, error) {
	return f.ownOverlap, nil
}

type fakeParser struct {
	result *models.NLUResult
	err    error
}

func (f *fakeParser) Parse(ctx context.Context, text string, nluCtx models.NLUContext) (*models.NLUResult, error) {
	return f.result, f.err
}

type fakeGenerator struct{}

func (fakeGenerator) Generate(ctx context.Context, input reply.GenerateInput) string {
	return "risposta generata"
}

// ---- fixture ---------------------------------------------------------------

const testPhone = "393331234567"

func conversationTenant() *models.Tenant {
	return &models.Tenant{
		ID:   "t1",
		Slug: "trattoria-roma",
		Name: "Trattoria Roma",
		Rules: models.TenantRules{
			SlotMinutes:   15,
			TableDuration: 120,
			Capacity:      8,
			OpeningHours: map[string][]string{
				"tue": {"19:00-23:00"},
			},
		},
	}
}

type fixture struct {
	engine       *Engine
	sender       *fakeSender
	reservations *fakeReservations
	availability *fakeAvailability
	parser       *fakeParser
	store        session.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	config.AppConfig.Locale = "it-IT"
	config.AppConfig.Timezone = "Europe/Rome"

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	store := session.NewRedisSessionStore(client, 10*time.Minute, 12)

	loc, err := time.LoadLocation("Europe/Rome")
	require.NoError(t, err)

	sender := &fakeSender{}
	reservations := &fakeReservations{}
	avail := &fakeAvailability{result: availability.Result{OK: true, Reason: availability.ReasonAvailable}}
	parser := &fakeParser{result: &models.NLUResult{Intent: models.IntentUnknown, NextAction: models.ActionUnknown}}

	engine := &Engine{
		Sessions:     store,
		Availability: avail,
		Reservations: reservations,
		Parser:       parser,
		Generator:    fakeGenerator{},
		Sender:       sender,
		Location:     loc,
		// 2026-09-01 is a Tuesday; proposals land inside opening hours.
		Now: func() time.Time { return time.Date(2026, 8, 30, 12, 0, 0, 0, loc) },
	}
	return &fixture{engine: engine, sender: sender, reservations: reservations, availability: avail, parser: parser, store: store}
}

func inbound(text string) models.InboundMessage {
	return models.InboundMessage{Provider: "whatsapp", MessageID: "wamid.1", From: testPhone, Text: text}
}

// ---- tests -----------------------------------------------------------------

func TestConfirmWithoutPendingWritesNothing(t *testing.T) {
	f := newFixture(t)
	tenant := conversationTenant()

	require.NoError(t, f.engine.ProcessInbound(context.Background(), tenant, inbound("confermo")))

	assert.Equal(t, reply.Say("nothing_to_confirm", nil), f.sender.lastText())
	assert.Empty(t, f.reservations.created)
	assert.Empty(t, f.reservations.statusUpdates)
}

func TestCreateFlowProposeThenConfirm(t *testing.T) {
	f := newFixture(t)
	tenant := conversationTenant()
	ctx := context.Background()

	f.parser.result = &models.NLUResult{
		Intent:     models.IntentBookingCreate,
		NextAction: models.ActionCheckAvailability,
		Fields:     models.NLUFields{Date: "2026-09-01", Time: "20:30", People: 4, Name: "Luca"},
	}
	require.NoError(t, f.engine.ProcessInbound(ctx, tenant, inbound("vorrei un tavolo per 4 martedì alle 20:30, sono Luca")))

	require.Len(t, f.sender.confirms, 1)
	assert.Contains(t, f.sender.confirms[0], "4")
	assert.Contains(t, f.sender.confirms[0], "20:30")
	assert.Contains(t, f.sender.confirms[0], "Luca")

	pending, err := f.store.GetPendingIfValid(ctx, tenant.ID, testPhone)
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, "2026-09-01", pending.Date)

	require.NoError(t, f.engine.ProcessInbound(ctx, tenant, inbound("Confermo")))

	require.Len(t, f.reservations.created, 1)
	created := f.reservations.created[0]
	assert.Equal(t, models.ReservationConfirmed, created.Status)
	assert.Equal(t, 4, created.People)
	assert.Equal(t, testPhone, created.CustomerPhone)
	assert.Equal(t, "whatsapp", created.Source)
	assert.Equal(t, "20:30", created.StartAt.Format("15:04"))
	assert.Equal(t, 2*time.Hour, created.EndAt.Sub(created.StartAt))
	assert.Contains(t, f.sender.lastText(), "Confermata")

	// The proposal is consumed: a second confirm books nothing.
	require.NoError(t, f.engine.ProcessInbound(ctx, tenant, inbound("confermo")))
	assert.Len(t, f.reservations.created, 1)
	assert.Equal(t, reply.Say("nothing_to_confirm", nil), f.sender.lastText())
}

func TestRelativeDateResolvesAgainstClock(t *testing.T) {
	f := newFixture(t)
	tenant := conversationTenant()
	ctx := context.Background()

	// "Now" is Sunday 2026-08-30; "martedì" lands on 2026-09-01.
	f.parser.result = &models.NLUResult{
		Intent:     models.IntentBookingCreate,
		NextAction: models.ActionCheckAvailability,
		Fields:     models.NLUFields{Date: "martedì", Time: "20:00", People: 2, Name: "Anna"},
	}
	require.NoError(t, f.engine.ProcessInbound(ctx, tenant, inbound("martedì alle 20 per due, Anna")))

	pending, err := f.store.GetPendingIfValid(ctx, tenant.ID, testPhone)
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, "2026-09-01", pending.Date)
}

func TestIncompleteRequestSavesDraftAndPrompts(t *testing.T) {
	f := newFixture(t)
	tenant := conversationTenant()
	ctx := context.Background()

	f.parser.result = &models.NLUResult{
		Intent:     models.IntentBookingCreate,
		NextAction: models.ActionCheckAvailability,
		Fields:     models.NLUFields{Date: "2026-09-01", People: 4},
	}
	require.NoError(t, f.engine.ProcessInbound(ctx, tenant, inbound("un tavolo per 4 martedì")))

	draft, err := f.store.GetDraft(ctx, tenant.ID, testPhone)
	require.NoError(t, err)
	assert.Equal(t, "2026-09-01", draft.Date)
	assert.Equal(t, 4, draft.People)

	assert.Contains(t, strings.ToLower(f.sender.lastText()), "ora")
	assert.Empty(t, f.sender.confirms)
}

func TestShortTokenCompletesDraft(t *testing.T) {
	f := newFixture(t)
	tenant := conversationTenant()
	ctx := context.Background()

	require.NoError(t, f.store.SetDraft(ctx, tenant.ID, testPhone,
		models.Draft{Date: "2026-09-01", People: 4, Name: "Luca"}))

	// A bare "21" while only the time is missing reads as 21:00.
	require.NoError(t, f.engine.ProcessInbound(ctx, tenant, inbound("21")))

	pending, err := f.store.GetPendingIfValid(ctx, tenant.ID, testPhone)
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, "21:00", pending.Time)
	require.Len(t, f.sender.confirms, 1)
}

func TestUnalignedTimeIsRejected(t *testing.T) {
	f := newFixture(t)
	tenant := conversationTenant()
	ctx := context.Background()

	f.parser.result = &models.NLUResult{
		Intent:     models.IntentBookingCreate,
		NextAction: models.ActionCheckAvailability,
		Fields:     models.NLUFields{Date: "2026-09-01", Time: "19:07", People: 4, Name: "Luca"},
	}
	require.NoError(t, f.engine.ProcessInbound(ctx, tenant, inbound("alle 19:07 per 4, Luca")))

	assert.Contains(t, f.sender.lastText(), "15 minuti")
	assert.Empty(t, f.sender.confirms)
	pending, err := f.store.GetPendingIfValid(ctx, tenant.ID, testPhone)
	require.NoError(t, err)
	assert.Nil(t, pending)
}

func TestFullSlotOffersAlternatives(t *testing.T) {
	f := newFixture(t)
	tenant := conversationTenant()
	ctx := context.Background()

	f.availability.result = availability.Result{OK: false, Reason: availability.ReasonCapacityExceeded}
	f.availability.alts = []string{"20:00", "21:00"}
	f.parser.result = &models.NLUResult{
		Intent:     models.IntentBookingCreate,
		NextAction: models.ActionCheckAvailability,
		Fields:     models.NLUFields{Date: "2026-09-01", Time: "20:30", People: 4, Name: "Luca"},
	}
	require.NoError(t, f.engine.ProcessInbound(ctx, tenant, inbound("martedì alle 20:30 per 4, Luca")))

	require.Len(t, f.sender.options, 1)
	assert.Equal(t, []string{"20:00", "21:00"}, f.sender.options[0])
	assert.Empty(t, f.sender.confirms)
}

func TestOwnOverlapBlocksProposal(t *testing.T) {
	f := newFixture(t)
	tenant := conversationTenant()
	ctx := context.Background()

	f.reservations.ownOverlap = 1
	f.parser.result = &models.NLUResult{
		Intent:     models.IntentBookingCreate,
		NextAction: models.ActionCheckAvailability,
		Fields:     models.NLUFields{Date: "2026-09-01", Time: "20:30", People: 4, Name: "Luca"},
	}
	require.NoError(t, f.engine.ProcessInbound(ctx, tenant, inbound("martedì alle 20:30 per 4, Luca")))

	assert.Equal(t, reply.Say("own_overlap", nil), f.sender.lastText())
	assert.Empty(t, f.sender.confirms)
}

func TestStaleProposalClearedOnConfirm(t *testing.T) {
	f := newFixture(t)
	tenant := conversationTenant()
	ctx := context.Background()

	require.NoError(t, f.store.SetPending(ctx, tenant.ID, testPhone,
		models.PendingBooking{Date: "2026-09-01", Time: "20:30", People: 4, Name: "Luca"}, 0))

	f.availability.result = availability.Result{OK: false, Reason: availability.ReasonCapacityExceeded}
	require.NoError(t, f.engine.ProcessInbound(ctx, tenant, inbound("confermo")))

	assert.Equal(t, reply.Say("stale_proposal", nil), f.sender.lastText())
	assert.Empty(t, f.reservations.created)
	pending, err := f.store.GetPendingIfValid(ctx, tenant.ID, testPhone)
	require.NoError(t, err)
	assert.Nil(t, pending)
}

func TestNegativeClearsPendingProposal(t *testing.T) {
	f := newFixture(t)
	tenant := conversationTenant()
	ctx := context.Background()

	require.NoError(t, f.store.SetPending(ctx, tenant.ID, testPhone,
		models.PendingBooking{Date: "2026-09-01", Time: "20:30", People: 4, Name: "Luca"}, 0))

	require.NoError(t, f.engine.ProcessInbound(ctx, tenant, inbound("annulla")))

	assert.Equal(t, reply.Say("pending_cleared", nil), f.sender.lastText())
	pending, err := f.store.GetPendingIfValid(ctx, tenant.ID, testPhone)
	require.NoError(t, err)
	assert.Nil(t, pending)
	assert.Empty(t, f.reservations.statusUpdates)
}

func TestCancelFlowSingleReservation(t *testing.T) {
	f := newFixture(t)
	tenant := conversationTenant()
	ctx := context.Background()
	loc := f.engine.location()

	f.reservations.upcoming = []models.Reservation{{
		ID:            "res-1",
		TenantID:      tenant.ID,
		CustomerPhone: testPhone,
		CustomerName:  "Luca",
		People:        4,
		StartAt:       time.Date(2026, 9, 1, 20, 30, 0, 0, loc),
		Status:        models.ReservationConfirmed,
	}}

	// "annulla" with nothing pending targets the single upcoming reservation.
	require.NoError(t, f.engine.ProcessInbound(ctx, tenant, inbound("annulla")))
	assert.Contains(t, f.sender.lastText(), "01/09/2026 alle 20:30")

	pc, err := f.store.GetPendingCancelIfValid(ctx, tenant.ID, testPhone)
	require.NoError(t, err)
	require.NotNil(t, pc)
	assert.Equal(t, "res-1", pc.ReservationID)

	// Nothing is cancelled until the explicit confirm.
	assert.Empty(t, f.reservations.statusUpdates)

	require.NoError(t, f.engine.ProcessInbound(ctx, tenant, inbound("confermo")))
	assert.Equal(t, models.ReservationCancelled, f.reservations.statusUpdates["res-1"])
	assert.Equal(t, reply.Say("cancel_done", nil), f.sender.lastText())
}

func TestCancelFlowMultipleSendsPickList(t *testing.T) {
	f := newFixture(t)
	tenant := conversationTenant()
	ctx := context.Background()
	loc := f.engine.location()

	f.reservations.upcoming = []models.Reservation{
		{ID: "res-1", StartAt: time.Date(2026, 9, 1, 20, 0, 0, 0, loc), People: 2, Status: models.ReservationConfirmed},
		{ID: "res-2", StartAt: time.Date(2026, 9, 8, 21, 0, 0, 0, loc), People: 4, Status: models.ReservationConfirmed},
	}

	require.NoError(t, f.engine.ProcessInbound(ctx, tenant, inbound("no, annulla")))
	require.Len(t, f.sender.lists, 1)

	pc, err := f.store.GetPendingCancelIfValid(ctx, tenant.ID, testPhone)
	require.NoError(t, err)
	assert.Nil(t, pc, "no cancel armed until the customer picks one")

	// The list pick arrives as a reservation_ row id.
	f.reservations.byID = &f.reservations.upcoming[1]
	require.NoError(t, f.engine.ProcessInbound(ctx, tenant, inbound("reservation_res-2")))

	pc, err = f.store.GetPendingCancelIfValid(ctx, tenant.ID, testPhone)
	require.NoError(t, err)
	require.NotNil(t, pc)
	assert.Equal(t, "res-2", pc.ReservationID)
}

func TestModifyFlowProposeThenConfirm(t *testing.T) {
	f := newFixture(t)
	tenant := conversationTenant()
	ctx := context.Background()
	loc := f.engine.location()

	existing := &models.Reservation{
		ID:            "res-1",
		TenantID:      tenant.ID,
		CustomerPhone: testPhone,
		CustomerName:  "Luca",
		People:        4,
		StartAt:       time.Date(2026, 9, 1, 20, 0, 0, 0, loc),
		EndAt:         time.Date(2026, 9, 1, 22, 0, 0, 0, loc),
		Status:        models.ReservationConfirmed,
	}
	f.reservations.byID = existing

	f.parser.result = &models.NLUResult{
		Intent:     models.IntentBookingModify,
		NextAction: models.ActionCheckAvailability,
		Fields:     models.NLUFields{ReservationID: "res-1", Time: "21:00"},
	}
	require.NoError(t, f.engine.ProcessInbound(ctx, tenant, inbound("sposta alle 21")))

	pm, err := f.store.GetPendingModifyIfValid(ctx, tenant.ID, testPhone)
	require.NoError(t, err)
	require.NotNil(t, pm)
	assert.Equal(t, "21:00", pm.Time)
	assert.Equal(t, "2026-09-01", pm.Date)
	assert.Equal(t, 4, pm.People, "unchanged fields default to the reservation")

	require.NoError(t, f.engine.ProcessInbound(ctx, tenant, inbound("confermo")))
	assert.Equal(t, 1, f.reservations.timeUpdates)
	assert.Contains(t, f.sender.lastText(), "21:00")
}

func TestModifyConfirmLookupFailureKeepsProposal(t *testing.T) {
	f := newFixture(t)
	tenant := conversationTenant()
	ctx := context.Background()

	require.NoError(t, f.store.SetPendingModify(ctx, tenant.ID, testPhone,
		models.PendingModify{ReservationID: "res-1", Time: "21:00"}, 0))
	f.reservations.byIDErr = context.DeadlineExceeded

	err := f.engine.ProcessInbound(ctx, tenant, inbound("confermo"))
	require.Error(t, err)
	assert.Equal(t, reply.Say("error_retry", nil), f.sender.lastText())
	assert.Zero(t, f.reservations.timeUpdates)

	// A transient lookup failure leaves the proposal armed for a retry.
	pm, getErr := f.store.GetPendingModifyIfValid(ctx, tenant.ID, testPhone)
	require.NoError(t, getErr)
	require.NotNil(t, pm)
	assert.Equal(t, "res-1", pm.ReservationID)
}

func TestListShowAsksModifyOrCancel(t *testing.T) {
	f := newFixture(t)
	tenant := conversationTenant()
	ctx := context.Background()
	loc := f.engine.location()

	f.reservations.upcoming = []models.Reservation{{
		ID:            "res-1",
		TenantID:      tenant.ID,
		CustomerPhone: testPhone,
		CustomerName:  "Luca",
		People:        4,
		StartAt:       time.Date(2026, 9, 1, 20, 30, 0, 0, loc),
		Status:        models.ReservationConfirmed,
	}}
	f.parser.result = &models.NLUResult{
		Intent:     models.IntentBookingList,
		NextAction: models.ActionListShow,
	}

	require.NoError(t, f.engine.ProcessInbound(ctx, tenant, inbound("le mie prenotazioni")))
	got := strings.ToLower(f.sender.lastText())
	assert.Contains(t, got, "01/09/2026 alle 20:30")
	assert.Contains(t, got, "modificar")
	assert.Contains(t, got, "annullar")

	// With several reservations the pick list carries the same question.
	f.reservations.upcoming = append(f.reservations.upcoming, models.Reservation{
		ID: "res-2", StartAt: time.Date(2026, 9, 8, 21, 0, 0, 0, loc), People: 2,
		Status: models.ReservationConfirmed,
	})
	require.NoError(t, f.engine.ProcessInbound(ctx, tenant, inbound("le mie prenotazioni")))
	require.Len(t, f.sender.lists, 1)
	title := strings.ToLower(f.sender.lists[0])
	assert.Contains(t, title, "modificar")
	assert.Contains(t, title, "annullar")
}

func TestParserFailureDegradesToCannedReply(t *testing.T) {
	f := newFixture(t)
	tenant := conversationTenant()

	f.parser.result = nil
	f.parser.err = context.DeadlineExceeded

	require.NoError(t, f.engine.ProcessInbound(context.Background(), tenant, inbound("bla bla")))
	require.Len(t, f.sender.texts, 1)
	assert.NotEmpty(t, f.sender.lastText())
	assert.Empty(t, f.reservations.created)
}

func TestDedupeWindowSuppressesSecondReply(t *testing.T) {
	f := newFixture(t)
	f.engine.DedupeWindow = 750 * time.Millisecond
	tenant := conversationTenant()
	ctx := context.Background()

	require.NoError(t, f.engine.ProcessInbound(ctx, tenant, inbound("ciao")))
	require.NoError(t, f.engine.ProcessInbound(ctx, tenant, inbound("ciao")))

	assert.Len(t, f.sender.texts, 1, "second reply inside the window is dropped")
}
