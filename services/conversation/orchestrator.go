// File: services/conversation/orchestrator.go
package conversation

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"tavolo/config"
	reservationRepo "tavolo/database/repository/reservation"
	"tavolo/models"
	"tavolo/services/availability"
	"tavolo/services/messaging"
	"tavolo/services/nlu"
	"tavolo/services/reply"
	"tavolo/services/session"
	"tavolo/services/tasks"
	"tavolo/utils"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// AvailabilityEngine is the slice of the availability service the
// orchestrator needs.
type AvailabilityEngine interface {
	Check(ctx context.Context, tenant *models.Tenant, dateISO, hhmm string, people int, withOverlap bool) (availability.Result, error)
	SuggestAlternatives(ctx context.Context, tenant *models.Tenant, dateISO, hhmm string, people int) ([]string, error)
}

// TaskEnqueuer schedules background tasks; satisfied by *asynq.Client.
type TaskEnqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Engine drives one conversation turn: it reads the session, routes the
// message through the confirm / deny / free-text branches and talks back
// through the Sender. All collaborators are interfaces so any of them can be
// swapped or faked.
type Engine struct {
	Sessions     session.Store
	Availability AvailabilityEngine
	Reservations reservationRepo.ReservationRepository
	Parser       nlu.Parser
	Generator    reply.Generator
	Sender       messaging.Sender
	Transcriber  nlu.Transcriber
	Tasks        TaskEnqueuer
	Location     *time.Location

	PendingTTL   time.Duration // TTL for pending proposals, 0 = store default
	DedupeWindow time.Duration // outbound dedupe window
	ReminderLead time.Duration // how far ahead of the slot the reminder fires
	Now          func() time.Time
}

var (
	isoDateRe  = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	bareTimeRe = regexp.MustCompile(`^\d{1,2}:\d{2}$`)
)

// requiredFields in prompting order: party size first, name last.
var requiredFields = []string{"people", "date", "time", "name"}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) location() *time.Location {
	if e.Location != nil {
		return e.Location
	}
	return time.Local
}

// ProcessInbound handles one normalized inbound message end to end. It never
// returns an error for conversational dead ends; errors are reserved for
// infrastructure failures the webhook layer may want to log.
func (e *Engine) ProcessInbound(ctx context.Context, tenant *models.Tenant, msg models.InboundMessage) error {
	logger := utils.GetLogger()

	text := strings.TrimSpace(msg.Text)
	if text == "" && msg.AudioID != "" {
		transcript, err := e.transcribeVoice(ctx, tenant, msg.AudioID)
		if err != nil || transcript == "" {
			logger.Warn("voice note transcription failed",
				zap.String("tenant", tenant.Slug), zap.Error(err))
			e.reply(ctx, tenant, msg.From, reply.Say("voice_unclear", nil))
			return nil
		}
		text = transcript
	}
	if text == "" {
		return nil
	}

	if err := e.Sessions.AppendHistory(ctx, tenant.ID, msg.From, models.HistoryItem{
		Role: "user", Text: text, TS: e.now().UnixMilli(),
	}); err != nil {
		logger.Warn("failed to append history", zap.Error(err))
	}

	state := e.deriveState(ctx, tenant.ID, msg.From)
	logger.Info("inbound turn",
		zap.String("tenant", tenant.Slug),
		zap.String("from", msg.From),
		zap.String("state", state.String()))

	// Reservation list picks arrive as "reservation_<id>" row ids.
	if id, ok := strings.CutPrefix(text, "reservation_"); ok {
		return e.startCancel(ctx, tenant, msg.From, id)
	}

	if IsAffirmative(text) {
		return e.handleAffirmative(ctx, tenant, msg.From, msg.MessageID)
	}
	if IsNegative(text) {
		return e.handleNegative(ctx, tenant, msg.From)
	}
	return e.handleFreeText(ctx, tenant, msg.From, text)
}

func (e *Engine) deriveState(ctx context.Context, tenantID, phone string) models.ConversationState {
	if p, _ := e.Sessions.GetPendingCancelIfValid(ctx, tenantID, phone); p != nil {
		return models.StateAwaitingCancelConfirm
	}
	if p, _ := e.Sessions.GetPendingModifyIfValid(ctx, tenantID, phone); p != nil {
		return models.StateAwaitingModifyConfirm
	}
	if p, _ := e.Sessions.GetPendingIfValid(ctx, tenantID, phone); p != nil {
		return models.StateAwaitingBookingConfirm
	}
	if d, _ := e.Sessions.GetDraft(ctx, tenantID, phone); d != (models.Draft{}) {
		return models.StateCollectingFields
	}
	return models.StateIdle
}

func (e *Engine) transcribeVoice(ctx context.Context, tenant *models.Tenant, mediaID string) (string, error) {
	if e.Transcriber == nil {
		return "", errors.New("no transcriber configured")
	}
	audio, err := e.Sender.DownloadMedia(ctx, e.credsFor(tenant), mediaID)
	if err != nil {
		return "", err
	}
	return e.Transcriber.Transcribe(ctx, audio, config.AppConfig.Locale)
}

func (e *Engine) credsFor(tenant *models.Tenant) messaging.Credentials {
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
	return creds
}

// reply sends plain text, dropping the message when another reply already
// went out within the dedupe window (duplicate webhook deliveries).
func (e *Engine) reply(ctx context.Context, tenant *models.Tenant, to, text string) {
	logger := utils.GetLogger()
	if text == "" {
		return
	}

	recent, err := e.Sessions.LastOutboundWithin(ctx, tenant.ID, to, e.DedupeWindow)
	if err != nil {
		logger.Warn("dedupe check failed", zap.Error(err))
	}
	if recent {
		logger.Info("reply suppressed by dedupe window",
			zap.String("tenant", tenant.Slug), zap.String("to", to))
		return
	}

	if err := e.Sender.SendText(ctx, e.credsFor(tenant), to, text); err != nil {
		logger.Error("failed to send reply",
			zap.String("tenant", tenant.Slug), zap.String("to", to), zap.Error(err))
		return
	}
	e.markOutbound(ctx, tenant.ID, to, text)
}

// markOutbound stamps the dedupe timestamp and records the assistant turn.
func (e *Engine) markOutbound(ctx context.Context, tenantID, to, text string) {
	logger := utils.GetLogger()
	if err := e.Sessions.SetLastOutboundNow(ctx, tenantID, to); err != nil {
		logger.Warn("failed to stamp outbound time", zap.Error(err))
	}
	if err := e.Sessions.AppendHistory(ctx, tenantID, to, models.HistoryItem{
		Role: "assistant", Text: text, TS: e.now().UnixMilli(),
	}); err != nil {
		logger.Warn("failed to append history", zap.Error(err))
	}
}

// ---- affirmative branch ----------------------------------------------------

// handleAffirmative resolves a "confermo". Priority when multiple proposals
// could exist: cancel, then modify, then create.
func (e *Engine) handleAffirmative(ctx context.Context, tenant *models.Tenant, phone, messageID string) error {
	if pc, _ := e.Sessions.GetPendingCancelIfValid(ctx, tenant.ID, phone); pc != nil {
		return e.confirmCancel(ctx, tenant, phone, pc)
	}
	if pm, _ := e.Sessions.GetPendingModifyIfValid(ctx, tenant.ID, phone); pm != nil {
		return e.confirmModify(ctx, tenant, phone, pm)
	}
	if pb, _ := e.Sessions.GetPendingIfValid(ctx, tenant.ID, phone); pb != nil {
		return e.confirmCreate(ctx, tenant, phone, messageID, pb)
	}
	e.reply(ctx, tenant, phone, reply.Say("nothing_to_confirm", nil))
	return nil
}

func (e *Engine) confirmCancel(ctx context.Context, tenant *models.Tenant, phone string, pc *models.PendingCancel) error {
	logger := utils.GetLogger()

	if err := e.Reservations.UpdateStatus(ctx, tenant.ID, pc.ReservationID, models.ReservationCancelled); err != nil {
		logger.Error("failed to cancel reservation",
			zap.String("reservationID", pc.ReservationID), zap.Error(err))
		e.Sessions.ClearPendingCancel(ctx, tenant.ID, phone)
		e.reply(ctx, tenant, phone, reply.Say("error_retry", nil))
		return err
	}
	e.Sessions.ClearPendingCancel(ctx, tenant.ID, phone)
	e.reply(ctx, tenant, phone, reply.Say("cancel_done", nil))
	return nil
}

func (e *Engine) confirmModify(ctx context.Context, tenant *models.Tenant, phone string, pm *models.PendingModify) error {
	logger := utils.GetLogger()
	loc := e.location()

	res, err := e.Reservations.GetByID(ctx, tenant.ID, phone, pm.ReservationID)
	if err != nil {
		logger.Error("reservation lookup failed",
			zap.String("reservationID", pm.ReservationID), zap.Error(err))
		e.reply(ctx, tenant, phone, reply.Say("error_retry", nil))
		return err
	}
	if res == nil {
		e.Sessions.ClearPendingModify(ctx, tenant.ID, phone)
		e.reply(ctx, tenant, phone, reply.Say("reservation_not_found", nil))
		return nil
	}

	// Missing fields keep the reservation's current values.
	date := pm.Date
	if date == "" {
		date = utils.ToIsoDate(res.StartAt, loc)
	}
	hhmm := pm.Time
	if hhmm == "" {
		hhmm = res.StartAt.In(loc).Format("15:04")
	}
	people := pm.People
	if people == 0 {
		people = res.People
	}
	notes := pm.Notes
	if notes == "" {
		notes = res.Notes
	}

	check, err := e.Availability.Check(ctx, tenant, date, hhmm, people, true)
	if err != nil {
		logger.Error("availability recheck failed", zap.Error(err))
		e.reply(ctx, tenant, phone, reply.Say("error_retry", nil))
		return err
	}
	if !check.OK {
		e.Sessions.ClearPendingModify(ctx, tenant.ID, phone)
		e.reply(ctx, tenant, phone, reply.Say("stale_proposal", nil))
		return nil
	}

	start, err := utils.ToDateTime(date, hhmm, loc)
	if err != nil {
		e.Sessions.ClearPendingModify(ctx, tenant.ID, phone)
		e.reply(ctx, tenant, phone, reply.Say("error_retry", nil))
		return err
	}
	end := start.Add(time.Duration(tenant.Rules.TableDuration) * time.Minute)

	if err := e.Reservations.UpdateTimes(ctx, tenant.ID, pm.ReservationID, start, end, people, notes); err != nil {
		logger.Error("failed to update reservation",
			zap.String("reservationID", pm.ReservationID), zap.Error(err))
		e.Sessions.ClearPendingModify(ctx, tenant.ID, phone)
		e.reply(ctx, tenant, phone, reply.Say("error_retry", nil))
		return err
	}

	e.Sessions.ClearSession(ctx, tenant.ID, phone)
	e.reply(ctx, tenant, phone, reply.Say("modify_confirmed",
		map[string]string{"slot": utils.FormatHumanTime(start, loc)}))
	return nil
}

func (e *Engine) confirmCreate(ctx context.Context, tenant *models.Tenant, phone, messageID string, pb *models.PendingBooking) error {
	logger := utils.GetLogger()
	loc := e.location()

	// The proposal may have gone stale while waiting for "confermo".
	check, err := e.Availability.Check(ctx, tenant, pb.Date, pb.Time, pb.People, true)
	if err != nil {
		logger.Error("availability recheck failed", zap.Error(err))
		e.reply(ctx, tenant, phone, reply.Say("error_retry", nil))
		return err
	}
	if !check.OK {
		e.Sessions.ClearSession(ctx, tenant.ID, phone)
		e.reply(ctx, tenant, phone, reply.Say("stale_proposal", nil))
		return nil
	}

	start, err := utils.ToDateTime(pb.Date, pb.Time, loc)
	if err != nil {
		e.Sessions.ClearSession(ctx, tenant.ID, phone)
		e.reply(ctx, tenant, phone, reply.Say("error_retry", nil))
		return err
	}
	end := start.Add(time.Duration(tenant.Rules.TableDuration) * time.Minute)

	own, err := e.Reservations.CountOverlappingForCustomer(ctx, tenant.ID, phone, start, end)
	if err != nil {
		logger.Error("own-overlap check failed", zap.Error(err))
		e.reply(ctx, tenant, phone, reply.Say("error_retry", nil))
		return err
	}
	if own > 0 {
		e.Sessions.ClearSession(ctx, tenant.ID, phone)
		e.reply(ctx, tenant, phone, reply.Say("own_overlap", nil))
		return nil
	}

	now := e.now()
	res := &models.Reservation{
		ID:            uuid.NewString(),
		TenantID:      tenant.ID,
		CustomerPhone: phone,
		CustomerName:  pb.Name,
		People:        pb.People,
		StartAt:       start,
		EndAt:         end,
		Status:        models.ReservationConfirmed,
		Notes:         pb.Notes,
		Source:        "whatsapp",
		MessageID:     messageID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err = e.Reservations.CreateIfCapacityHolds(ctx, res, tenant.Rules.Capacity)
	if errors.Is(err, reservationRepo.ErrCapacityConflict) {
		// Lost a last-seat race to a concurrent booking.
		e.Sessions.ClearSession(ctx, tenant.ID, phone)
		e.reply(ctx, tenant, phone, reply.Say("stale_proposal", nil))
		return nil
	}
	if err != nil {
		logger.Error("failed to persist reservation", zap.Error(err))
		e.Sessions.ClearSession(ctx, tenant.ID, phone)
		e.reply(ctx, tenant, phone, reply.Say("error_retry", nil))
		return err
	}

	e.Sessions.ClearSession(ctx, tenant.ID, phone)
	e.scheduleReminder(tenant, res)
	e.reply(ctx, tenant, phone, reply.Say("booking_confirmed",
		map[string]string{"slot": utils.FormatHumanTime(start, loc)}))
	return nil
}

func (e *Engine) scheduleReminder(tenant *models.Tenant, res *models.Reservation) {
	if e.Tasks == nil || e.ReminderLead <= 0 {
		return
	}
	logger := utils.GetLogger()

	fireAt := res.StartAt.Add(-e.ReminderLead)
	if !fireAt.After(e.now()) {
		return
	}
	task, opts, err := tasks.NewReminderTask(models.ReminderPayload{
		TenantID:      tenant.ID,
		ReservationID: res.ID,
		Phone:         res.CustomerPhone,
		SlotHuman:     utils.FormatHumanTime(res.StartAt, e.location()),
	}, fireAt)
	if err == nil {
		_, err = e.Tasks.Enqueue(task, opts...)
	}
	if err != nil {
		logger.Warn("failed to schedule reminder",
			zap.String("reservationID", res.ID), zap.Error(err))
	}
}

// ---- negative branch -------------------------------------------------------

// handleNegative resolves an "annulla": abort whichever proposal is pending,
// otherwise treat it as a cancellation request against existing reservations.
func (e *Engine) handleNegative(ctx context.Context, tenant *models.Tenant, phone string) error {
	if pb, _ := e.Sessions.GetPendingIfValid(ctx, tenant.ID, phone); pb != nil {
		e.Sessions.ClearSession(ctx, tenant.ID, phone)
		e.reply(ctx, tenant, phone, reply.Say("pending_cleared", nil))
		return nil
	}
	if pc, _ := e.Sessions.GetPendingCancelIfValid(ctx, tenant.ID, phone); pc != nil {
		e.Sessions.ClearPendingCancel(ctx, tenant.ID, phone)
		e.reply(ctx, tenant, phone, reply.Say("cancel_aborted", nil))
		return nil
	}
	if pm, _ := e.Sessions.GetPendingModifyIfValid(ctx, tenant.ID, phone); pm != nil {
		e.Sessions.ClearPendingModify(ctx, tenant.ID, phone)
		e.reply(ctx, tenant, phone, reply.Say("modify_aborted", nil))
		return nil
	}
	return e.startCancel(ctx, tenant, phone, "")
}

// startCancel arms the cancel confirmation. With no id it resolves the
// target from the customer's upcoming reservations, asking them to pick when
// more than one exists.
func (e *Engine) startCancel(ctx context.Context, tenant *models.Tenant, phone, reservationID string) error {
	logger := utils.GetLogger()

	if reservationID != "" {
		res, err := e.Reservations.GetByID(ctx, tenant.ID, phone, reservationID)
		if err != nil {
			logger.Error("reservation lookup failed", zap.Error(err))
			e.reply(ctx, tenant, phone, reply.Say("error_retry", nil))
			return err
		}
		if res == nil {
			e.reply(ctx, tenant, phone, reply.Say("reservation_not_found", nil))
			return nil
		}
		return e.armCancel(ctx, tenant, phone, res)
	}

	upcoming, err := e.Reservations.ListUpcoming(ctx, tenant.ID, phone, e.now())
	if err != nil {
		logger.Error("failed to list reservations", zap.Error(err))
		e.reply(ctx, tenant, phone, reply.Say("error_retry", nil))
		return err
	}
	switch len(upcoming) {
	case 0:
		e.reply(ctx, tenant, phone, reply.Say("nothing_to_cancel", nil))
	case 1:
		return e.armCancel(ctx, tenant, phone, &upcoming[0])
	default:
		if err := e.Sender.SendReservationList(ctx, e.credsFor(tenant), phone,
			"Quale prenotazione vuoi annullare?", e.summaries(upcoming)); err != nil {
			logger.Error("failed to send reservation list", zap.Error(err))
			return err
		}
		e.markOutbound(ctx, tenant.ID, phone, "Quale prenotazione vuoi annullare?")
	}
	return nil
}

func (e *Engine) armCancel(ctx context.Context, tenant *models.Tenant, phone string, res *models.Reservation) error {
	if err := e.Sessions.SetPendingCancel(ctx, tenant.ID, phone, res.ID, e.PendingTTL); err != nil {
		utils.GetLogger().Error("failed to arm cancel", zap.Error(err))
		e.reply(ctx, tenant, phone, reply.Say("error_retry", nil))
		return err
	}
	e.reply(ctx, tenant, phone, reply.Say("cancel_prompt",
		map[string]string{"slot": utils.FormatHumanTime(res.StartAt, e.location())}))
	return nil
}

// ---- free-text branch ------------------------------------------------------

func (e *Engine) handleFreeText(ctx context.Context, tenant *models.Tenant, phone, text string) error {
	logger := utils.GetLogger()

	draft, _ := e.Sessions.GetDraft(ctx, tenant.ID, phone)

	// While collecting fields, bare tokens resolve locally without the NLU:
	// "20:30" picked from a time list, "4" for the party size, "21" for nine pm.
	if draft != (models.Draft{}) {
		if bareTimeRe.MatchString(strings.TrimSpace(text)) {
			return e.proposeCreate(ctx, tenant, phone, fieldsFromDraft(draft, models.NLUFields{Time: strings.TrimSpace(text)}), "")
		}
		if kind, hhmm, people := guessShortToken(text, draft, tenant.Rules.Capacity); kind != tokenAmbiguous {
			patch := models.NLUFields{Time: hhmm, People: people}
			return e.proposeCreate(ctx, tenant, phone, fieldsFromDraft(draft, patch), "")
		}
	}

	history, _ := e.Sessions.GetHistory(ctx, tenant.ID, phone)
	upcoming, err := e.Reservations.ListUpcoming(ctx, tenant.ID, phone, e.now())
	if err != nil {
		logger.Warn("failed to list reservations for context", zap.Error(err))
	}

	result, err := e.Parser.Parse(ctx, text, models.NLUContext{
		TenantName:         tenant.Name,
		Phone:              phone,
		History:            history,
		ActiveReservations: e.summaries(upcoming),
		Locale:             config.AppConfig.Locale,
		Timezone:           config.AppConfig.Timezone,
	})
	if err != nil || result == nil {
		logger.Warn("nlu parse failed, degrading", zap.Error(err))
		result = nlu.FallbackResult(phone)
	}

	logger.Info("nlu result",
		zap.String("intent", result.Intent),
		zap.String("nextAction", result.NextAction),
		zap.Float64("confidence", result.Confidence))

	if result.Intent == models.IntentBookingCancel {
		return e.startCancel(ctx, tenant, phone, result.Fields.ReservationID)
	}

	switch result.NextAction {
	case models.ActionCheckAvailability:
		if result.Intent == models.IntentBookingModify && result.Fields.ReservationID != "" {
			return e.proposeModify(ctx, tenant, phone, result.Fields)
		}
		return e.proposeCreate(ctx, tenant, phone, fieldsFromDraft(draft, result.Fields), result.Reply)

	case models.ActionAskClarification:
		if err := e.Sessions.SetDraft(ctx, tenant.ID, phone, draftFromFields(result.Fields)); err != nil {
			logger.Warn("failed to save draft", zap.Error(err))
		}
		text := result.Reply
		if text == "" {
			merged := fieldsFromDraft(draft, result.Fields)
			text = promptForMissing(merged)
		}
		e.reply(ctx, tenant, phone, text)
		return nil

	case models.ActionListShow:
		return e.showReservations(ctx, tenant, phone, upcoming)

	case models.ActionSendInfo:
		text := result.Reply
		if text == "" {
			text = e.Generator.Generate(ctx, reply.GenerateInput{
				History: history, Intent: result.Intent, Fields: result.Fields,
				Reservations: e.summaries(upcoming), Phone: phone, Tenant: tenant,
			})
		}
		e.reply(ctx, tenant, phone, text)
		return nil

	default:
		text := result.Reply
		if text == "" {
			text = e.Generator.Generate(ctx, reply.GenerateInput{
				History: history, Intent: result.Intent, Fields: result.Fields,
				Reservations: e.summaries(upcoming), Phone: phone, Tenant: tenant,
			})
		}
		e.reply(ctx, tenant, phone, text)
		return nil
	}
}

// proposeCreate validates a fully or partially specified booking request.
// Incomplete requests save a draft and prompt for the next missing field;
// valid complete ones arm the pending proposal and ask for confirmation.
func (e *Engine) proposeCreate(ctx context.Context, tenant *models.Tenant, phone string, f models.NLUFields, suggested string) error {
	logger := utils.GetLogger()
	rules := tenant.Rules

	// Relative tokens ("domani", "venerdi prossimo") resolve against the
	// tenant clock before anything else.
	if f.Date != "" && !isoDateRe.MatchString(f.Date) {
		if iso, ok := utils.ParseRelativeDateToken(f.Date, e.now(), e.location()); ok {
			f.Date = iso
		} else {
			f.Date = ""
		}
	}

	if missing := missingFields(f); len(missing) > 0 {
		if err := e.Sessions.SetDraft(ctx, tenant.ID, phone, draftFromFields(f)); err != nil {
			logger.Warn("failed to save draft", zap.Error(err))
		}
		if suggested != "" {
			e.reply(ctx, tenant, phone, suggested)
			return nil
		}
		e.reply(ctx, tenant, phone, promptForMissing(f))
		return nil
	}

	if _, aligned, err := utils.AlignToSlot(f.Time, rules.SlotMinutes); err != nil || !aligned {
		e.Sessions.SetDraft(ctx, tenant.ID, phone, models.Draft{Date: f.Date, People: f.People, Name: f.Name, Notes: f.Notes})
		e.reply(ctx, tenant, phone, reply.Say("invalid_slot",
			map[string]string{"slot_minutes": strconv.Itoa(rules.SlotMinutes)}))
		return nil
	}

	check, err := e.Availability.Check(ctx, tenant, f.Date, f.Time, f.People, true)
	if err != nil {
		logger.Error("availability check failed", zap.Error(err))
		e.reply(ctx, tenant, phone, reply.Say("error_retry", nil))
		return err
	}
	if !check.OK {
		return e.rejectProposal(ctx, tenant, phone, f, check.Reason)
	}

	start, err := utils.ToDateTime(f.Date, f.Time, e.location())
	if err != nil {
		e.reply(ctx, tenant, phone, reply.Say("error_retry", nil))
		return err
	}
	end := start.Add(time.Duration(rules.TableDuration) * time.Minute)
	own, err := e.Reservations.CountOverlappingForCustomer(ctx, tenant.ID, phone, start, end)
	if err != nil {
		logger.Error("own-overlap check failed", zap.Error(err))
		e.reply(ctx, tenant, phone, reply.Say("error_retry", nil))
		return err
	}
	if own > 0 {
		e.reply(ctx, tenant, phone, reply.Say("own_overlap", nil))
		return nil
	}

	if err := e.Sessions.SetPending(ctx, tenant.ID, phone, models.PendingBooking{
		Date: f.Date, Time: f.Time, People: f.People, Name: f.Name, Notes: f.Notes,
	}, e.PendingTTL); err != nil {
		logger.Error("failed to arm pending booking", zap.Error(err))
		e.reply(ctx, tenant, phone, reply.Say("error_retry", nil))
		return err
	}

	summary := reply.Say("propose_summary", map[string]string{
		"people": strconv.Itoa(f.People),
		"date":   f.Date,
		"time":   f.Time,
		"name":   f.Name,
	})
	if err := e.Sender.SendConfirmButtons(ctx, e.credsFor(tenant), phone, summary); err != nil {
		logger.Warn("confirm buttons failed, falling back to text", zap.Error(err))
		e.reply(ctx, tenant, phone, summary)
		return nil
	}
	e.markOutbound(ctx, tenant.ID, phone, summary)
	return nil
}

// rejectProposal replies per rejection reason; full slots also get up to 3
// alternative times as a pick-one list.
func (e *Engine) rejectProposal(ctx context.Context, tenant *models.Tenant, phone string, f models.NLUFields, reason string) error {
	logger := utils.GetLogger()

	switch reason {
	case availability.ReasonInvalidSlot:
		e.reply(ctx, tenant, phone, reply.Say("invalid_slot",
			map[string]string{"slot_minutes": strconv.Itoa(tenant.Rules.SlotMinutes)}))
		return nil
	case availability.ReasonClosed, availability.ReasonOutsideOpening:
		e.reply(ctx, tenant, phone, reply.Say("outside_opening", nil))
		return nil
	case availability.ReasonCapacityExceeded:
		alternatives, err := e.Availability.SuggestAlternatives(ctx, tenant, f.Date, f.Time, f.People)
		if err != nil {
			logger.Warn("failed to suggest alternatives", zap.Error(err))
		}
		if len(alternatives) == 0 {
			e.reply(ctx, tenant, phone, reply.Say("capacity_exceeded", nil))
			return nil
		}
		e.Sessions.SetDraft(ctx, tenant.ID, phone, models.Draft{Date: f.Date, People: f.People, Name: f.Name, Notes: f.Notes})
		title := reply.Say("not_available", nil)
		if err := e.Sender.SendTimeOptions(ctx, e.credsFor(tenant), phone, title, alternatives); err != nil {
			logger.Warn("time options failed, falling back to text", zap.Error(err))
			e.reply(ctx, tenant, phone, title+" "+strings.Join(alternatives, ", "))
			return nil
		}
		e.markOutbound(ctx, tenant.ID, phone, title)
		return nil
	default:
		e.reply(ctx, tenant, phone, reply.Say("not_available", nil))
		return nil
	}
}

// proposeModify validates the requested changes against availability and
// arms the modify confirmation.
func (e *Engine) proposeModify(ctx context.Context, tenant *models.Tenant, phone string, f models.NLUFields) error {
	logger := utils.GetLogger()
	loc := e.location()

	res, err := e.Reservations.GetByID(ctx, tenant.ID, phone, f.ReservationID)
	if err != nil {
		logger.Error("reservation lookup failed", zap.Error(err))
		e.reply(ctx, tenant, phone, reply.Say("error_retry", nil))
		return err
	}
	if res == nil {
		e.reply(ctx, tenant, phone, reply.Say("reservation_not_found", nil))
		return nil
	}

	date := f.Date
	if date != "" && !isoDateRe.MatchString(date) {
		if iso, ok := utils.ParseRelativeDateToken(date, e.now(), loc); ok {
			date = iso
		} else {
			date = ""
		}
	}
	if date == "" {
		date = utils.ToIsoDate(res.StartAt, loc)
	}
	hhmm := f.Time
	if hhmm == "" {
		hhmm = res.StartAt.In(loc).Format("15:04")
	}
	people := f.People
	if people == 0 {
		people = res.People
	}

	check, err := e.Availability.Check(ctx, tenant, date, hhmm, people, true)
	if err != nil {
		logger.Error("availability check failed", zap.Error(err))
		e.reply(ctx, tenant, phone, reply.Say("error_retry", nil))
		return err
	}
	if !check.OK {
		return e.rejectProposal(ctx, tenant, phone,
			models.NLUFields{Date: date, Time: hhmm, People: people}, check.Reason)
	}

	if err := e.Sessions.SetPendingModify(ctx, tenant.ID, phone, models.PendingModify{
		ReservationID: res.ID, Date: date, Time: hhmm, People: people, Notes: f.Notes,
	}, e.PendingTTL); err != nil {
		logger.Error("failed to arm pending modify", zap.Error(err))
		e.reply(ctx, tenant, phone, reply.Say("error_retry", nil))
		return err
	}

	start, _ := utils.ToDateTime(date, hhmm, loc)
	e.reply(ctx, tenant, phone,
		"Aggiorno la prenotazione a "+utils.FormatHumanTime(start, loc)+" per "+strconv.Itoa(people)+" persone. "+
			reply.Say("confirm_hint", nil))
	return nil
}

func (e *Engine) showReservations(ctx context.Context, tenant *models.Tenant, phone string, upcoming []models.Reservation) error {
	logger := utils.GetLogger()

	if len(upcoming) == 0 {
		e.reply(ctx, tenant, phone, reply.Say("nothing_to_cancel", nil))
		return nil
	}
	followUp := reply.Say("list_follow_up", nil)
	if len(upcoming) == 1 {
		e.reply(ctx, tenant, phone,
			"Hai una prenotazione "+utils.FormatHumanTime(upcoming[0].StartAt, e.location())+
				" per "+strconv.Itoa(upcoming[0].People)+" persone a nome "+upcoming[0].CustomerName+". "+followUp)
		return nil
	}
	title := "Le tue prossime prenotazioni. " + followUp
	if err := e.Sender.SendReservationList(ctx, e.credsFor(tenant), phone,
		title, e.summaries(upcoming)); err != nil {
		logger.Error("failed to send reservation list", zap.Error(err))
		return err
	}
	e.markOutbound(ctx, tenant.ID, phone, title)
	return nil
}

func (e *Engine) summaries(reservations []models.Reservation) []models.ReservationSummary {
	loc := e.location()
	out := make([]models.ReservationSummary, 0, len(reservations))
	for _, r := range reservations {
		start := r.StartAt.In(loc)
		out = append(out, models.ReservationSummary{
			ID:     r.ID,
			Date:   utils.ToIsoDate(r.StartAt, loc),
			Time:   start.Format("15:04"),
			People: r.People,
			Name:   r.CustomerName,
			Status: r.Status,
		})
	}
	return out
}

// ---- field plumbing --------------------------------------------------------

// fieldsFromDraft overlays freshly extracted fields on the saved draft; new
// values win.
func fieldsFromDraft(draft models.Draft, f models.NLUFields) models.NLUFields {
	if f.Date == "" {
		f.Date = draft.Date
	}
	if f.Time == "" {
		f.Time = draft.Time
	}
	if f.People == 0 {
		f.People = draft.People
	}
	if f.Name == "" {
		f.Name = draft.Name
	}
	if f.Notes == "" {
		f.Notes = draft.Notes
	}
	return f
}

func draftFromFields(f models.NLUFields) models.Draft {
	return models.Draft{Date: f.Date, Time: f.Time, People: f.People, Name: f.Name, Notes: f.Notes}
}

func missingFields(f models.NLUFields) []string {
	var missing []string
	for _, field := range requiredFields {
		switch field {
		case "people":
			if f.People == 0 {
				missing = append(missing, field)
			}
		case "date":
			if f.Date == "" {
				missing = append(missing, field)
			}
		case "time":
			if f.Time == "" {
				missing = append(missing, field)
			}
		case "name":
			if f.Name == "" {
				missing = append(missing, field)
			}
		}
	}
	return missing
}

// promptForMissing asks for the first missing field, or for everything when
// nothing was collected yet.
func promptForMissing(f models.NLUFields) string {
	missing := missingFields(f)
	if len(missing) == len(requiredFields) {
		return reply.Say("ask_all_fields", nil)
	}
	if len(missing) == 0 {
		return reply.Say("ask_missing_generic", nil)
	}
	switch missing[0] {
	case "people":
		return reply.Say("ask_people", nil)
	case "date":
		return reply.Say("ask_date", nil)
	case "time":
		return reply.Say("ask_time", nil)
	default:
		return reply.Say("ask_name", nil)
	}
}
