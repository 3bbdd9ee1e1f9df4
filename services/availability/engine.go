package availability

import (
	"context"
	"fmt"
	"time"

	reservationRepo "tavolo/database/repository/reservation"
	"tavolo/models"
	"tavolo/utils"

	"go.uber.org/zap"
)

// Availability check outcomes.
const (
	ReasonAvailable        = "available"
	ReasonClosed           = "closed"
	ReasonInvalidSlot      = "invalid_slot"
	ReasonOutsideOpening   = "outside_opening"
	ReasonCapacityExceeded = "capacity_exceeded"
)

// Result is the outcome of one availability check.
type Result struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason"`
}

// DefaultAvailabilityEngine decides whether a (date, time, party size) triple
// is bookable under a tenant's opening-hour and capacity rules.
type DefaultAvailabilityEngine struct {
	Reservations reservationRepo.ReservationRepository
	Location     *time.Location
}

// Check validates a candidate slot. When withOverlap is set, existing
// pending/confirmed reservations are summed against capacity.
func (e *DefaultAvailabilityEngine) Check(ctx context.Context, tenant *models.Tenant, dateISO, hhmm string, people int, withOverlap bool) (Result, error) {
	logger := utils.GetLogger()
	rules := tenant.Rules

	// A tenant document without a slot grid can never admit a booking.
	if rules.SlotMinutes <= 0 {
		logger.Warn("tenant has no slot grid", zap.String("tenant", tenant.Slug))
		return Result{OK: false, Reason: ReasonInvalidSlot}, nil
	}

	dayKey, err := utils.WeekdayKey(dateISO, e.Location)
	if err != nil {
		return Result{}, err
	}
	ranges := rules.OpeningHours[dayKey]
	if len(ranges) == 0 {
		return Result{OK: false, Reason: ReasonClosed}, nil
	}

	timeMin, err := utils.ToMinutes(hhmm)
	if err != nil {
		return Result{}, err
	}
	if timeMin%rules.SlotMinutes != 0 {
		return Result{OK: false, Reason: ReasonInvalidSlot}, nil
	}

	// The full table duration must fit inside a single opening range;
	// first range that fits wins.
	inRange := false
	for _, r := range ranges {
		start, end, err := utils.ParseRange(r)
		if err != nil {
			logger.Warn("skipping malformed opening range",
				zap.String("tenant", tenant.Slug), zap.String("range", r), zap.Error(err))
			continue
		}
		if timeMin >= start && timeMin+rules.TableDuration <= end {
			inRange = true
			break
		}
	}
	if !inRange {
		return Result{OK: false, Reason: ReasonOutsideOpening}, nil
	}

	if people > rules.Capacity {
		return Result{OK: false, Reason: ReasonCapacityExceeded}, nil
	}

	if withOverlap {
		startAt, err := utils.ToDateTime(dateISO, hhmm, e.Location)
		if err != nil {
			return Result{}, err
		}
		endAt := startAt.Add(time.Duration(rules.TableDuration) * time.Minute)
		taken, err := e.Reservations.SumOverlappingPeople(ctx, tenant.ID, startAt, endAt)
		if err != nil {
			return Result{}, fmt.Errorf("failed to sum overlapping reservations: %w", err)
		}
		if taken+people > rules.Capacity {
			return Result{OK: false, Reason: ReasonCapacityExceeded}, nil
		}
	}

	return Result{OK: true, Reason: ReasonAvailable}, nil
}

// SuggestAlternatives probes the grid around a rejected time, one then two
// slots out on either side, and returns up to 3 bookable times.
func (e *DefaultAvailabilityEngine) SuggestAlternatives(ctx context.Context, tenant *models.Tenant, dateISO, hhmm string, people int) ([]string, error) {
	timeMin, err := utils.ToMinutes(hhmm)
	if err != nil {
		return nil, err
	}
	slot := tenant.Rules.SlotMinutes
	offsets := []int{slot, -slot, 2 * slot, -2 * slot}

	var alternatives []string
	for _, off := range offsets {
		candidate := timeMin + off
		if candidate < 0 {
			continue
		}
		candidateHHMM := utils.FromMinutes(candidate)
		res, err := e.Check(ctx, tenant, dateISO, candidateHHMM, people, true)
		if err != nil {
			return nil, err
		}
		if res.OK {
			alternatives = append(alternatives, candidateHHMM)
			if len(alternatives) == 3 {
				break
			}
		}
	}
	return alternatives, nil
}

// ListFreeSlots walks every opening range of the day in grid steps and
// returns up to limit bookable start times in chronological order.
func (e *DefaultAvailabilityEngine) ListFreeSlots(ctx context.Context, tenant *models.Tenant, dateISO string, people, limit int) ([]string, error) {
	logger := utils.GetLogger()
	rules := tenant.Rules

	if rules.SlotMinutes <= 0 {
		logger.Warn("tenant has no slot grid", zap.String("tenant", tenant.Slug))
		return nil, nil
	}

	dayKey, err := utils.WeekdayKey(dateISO, e.Location)
	if err != nil {
		return nil, err
	}

	var free []string
	for _, r := range rules.OpeningHours[dayKey] {
		start, end, err := utils.ParseRange(r)
		if err != nil {
			logger.Warn("skipping malformed opening range",
				zap.String("tenant", tenant.Slug), zap.String("range", r), zap.Error(err))
			continue
		}
		for t := start; t+rules.TableDuration <= end; t += rules.SlotMinutes {
			candidate := utils.FromMinutes(t)
			res, err := e.Check(ctx, tenant, dateISO, candidate, people, true)
			if err != nil {
				return nil, err
			}
			if res.OK {
				free = append(free, candidate)
				if len(free) == limit {
					return free, nil
				}
			}
		}
	}
	return free, nil
}
