package availability

import (
	"context"
	"testing"
	"time"

	"tavolo/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeReservationRepo satisfies ReservationRepository with canned overlap sums.
type fakeReservationRepo struct {
	overlapPeople int
	overlapErr    error
}

func (f *fakeReservationRepo) Create(ctx context.Context, res *models.Reservation) error {
	return nil
}

func (f *fakeReservationRepo) CreateIfCapacityHolds(ctx context.Context, res *models.Reservation, capacity int) error {
	return nil
}

func (f *fakeReservationRepo) GetByID(ctx context.Context, tenantID, phone, id string) (*models.Reservation, error) {
	return nil, nil
}

func (f *fakeReservationRepo) UpdateStatus(ctx context.Context, tenantID, id, status string) error {
	return nil
}

func (f *fakeReservationRepo) UpdateTimes(ctx context.Context, tenantID, id string, start, end time.Time, people int, notes string) error {
	return nil
}

func (f *fakeReservationRepo) ListUpcoming(ctx context.Context, tenantID, phone string, from time.Time) ([]models.Reservation, error) {
	return nil, nil
}

func (f *fakeReservationRepo) SumOverlappingPeople(ctx context.Context, tenantID string, start, end time.Time) (int, error) {
	return f.overlapPeople, f.overlapErr
}

func (f *fakeReservationRepo) CountOverlappingForCustomer(ctx context.Context, tenantID, phone string, start, end time.Time) (int, error) {
	return 0, nil
}

func testTenant() *models.Tenant {
	return &models.Tenant{
		ID:   "t1",
		Slug: "trattoria-roma",
		Name: "Trattoria Roma",
		Rules: models.TenantRules{
			SlotMinutes:   15,
			TableDuration: 120,
			Capacity:      8,
			OpeningHours: map[string][]string{
				"tue": {"12:00-15:00", "19:00-23:00"},
				"fri": {"19:00-25:00"},
			},
		},
	}
}

func testEngine(repo *fakeReservationRepo) *DefaultAvailabilityEngine {
	loc, _ := time.LoadLocation("Europe/Rome")
	return &DefaultAvailabilityEngine{Reservations: repo, Location: loc}
}

// 2026-09-01 is a Tuesday, 2026-09-02 a Wednesday, 2026-09-04 a Friday.
const (
	tuesday   = "2026-09-01"
	wednesday = "2026-09-02"
	friday    = "2026-09-04"
)

func TestCheckGridAndOpeningRules(t *testing.T) {
	engine := testEngine(&fakeReservationRepo{})
	ctx := context.Background()
	tenant := testTenant()

	cases := []struct {
		name   string
		date   string
		hhmm   string
		people int
		ok     bool
		reason string
	}{
		{"aligned inside range", tuesday, "20:30", 4, true, ReasonAvailable},
		{"off grid", tuesday, "19:07", 4, false, ReasonInvalidSlot},
		{"table would not finish", tuesday, "21:30", 4, false, ReasonOutsideOpening},
		{"before opening", tuesday, "18:00", 4, false, ReasonOutsideOpening},
		{"closed day", wednesday, "20:00", 4, false, ReasonClosed},
		{"party over capacity", tuesday, "20:00", 9, false, ReasonCapacityExceeded},
		{"last bookable start", tuesday, "21:00", 4, true, ReasonAvailable},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			res, err := engine.Check(ctx, tenant, c.date, c.hhmm, c.people, false)
			require.NoError(t, err)
			assert.Equal(t, c.ok, res.OK)
			assert.Equal(t, c.reason, res.Reason)
		})
	}
}

func TestCheckWithoutSlotGrid(t *testing.T) {
	engine := testEngine(&fakeReservationRepo{})
	ctx := context.Background()

	// A tenant document with opening hours but no slot_minutes must degrade,
	// not divide by zero.
	tenant := testTenant()
	tenant.Rules.SlotMinutes = 0

	res, err := engine.Check(ctx, tenant, tuesday, "20:00", 4, false)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, ReasonInvalidSlot, res.Reason)

	slots, err := engine.ListFreeSlots(ctx, tenant, tuesday, 4, 10)
	require.NoError(t, err)
	assert.Empty(t, slots)
}

func TestCheckRangeAcrossMidnight(t *testing.T) {
	engine := testEngine(&fakeReservationRepo{})
	tenant := testTenant()

	// Friday runs 19:00-25:00, so a 23:00 table still fits.
	res, err := engine.Check(context.Background(), tenant, friday, "23:00", 2, false)
	require.NoError(t, err)
	assert.True(t, res.OK)
}

func TestCheckOverlapAgainstCapacity(t *testing.T) {
	repo := &fakeReservationRepo{overlapPeople: 6}
	engine := testEngine(repo)
	tenant := testTenant()
	ctx := context.Background()

	// 6 taken + 2 requested = 8 fits exactly.
	res, err := engine.Check(ctx, tenant, tuesday, "20:00", 2, true)
	require.NoError(t, err)
	assert.True(t, res.OK)

	// 6 taken + 3 requested exceeds capacity 8.
	res, err = engine.Check(ctx, tenant, tuesday, "20:00", 3, true)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, ReasonCapacityExceeded, res.Reason)
}

func TestSuggestAlternatives(t *testing.T) {
	engine := testEngine(&fakeReservationRepo{})
	tenant := testTenant()

	// A 120-minute table must end by 23:00, so around 21:30 only the
	// two-slots-back candidate 21:00 survives.
	alts, err := engine.SuggestAlternatives(context.Background(), tenant, tuesday, "21:30", 4)
	require.NoError(t, err)
	assert.Equal(t, []string{"21:00"}, alts)

	// Around 20:00 every neighbor fits; the probe stops at 3.
	alts, err = engine.SuggestAlternatives(context.Background(), tenant, tuesday, "20:00", 4)
	require.NoError(t, err)
	assert.Equal(t, []string{"20:15", "19:45", "20:30"}, alts)
}

func TestListFreeSlots(t *testing.T) {
	engine := testEngine(&fakeReservationRepo{})
	tenant := testTenant()

	slots, err := engine.ListFreeSlots(context.Background(), tenant, tuesday, 4, 100)
	require.NoError(t, err)
	// Lunch range 12:00-15:00 admits 12:00-13:00 starts; dinner 19:00-23:00
	// admits 19:00-21:00 starts, every 15 minutes.
	assert.Equal(t, "12:00", slots[0])
	assert.Contains(t, slots, "13:00")
	assert.NotContains(t, slots, "13:15")
	assert.Contains(t, slots, "21:00")
	assert.NotContains(t, slots, "21:15")
	assert.Len(t, slots, 14)

	limited, err := engine.ListFreeSlots(context.Background(), tenant, tuesday, 4, 3)
	require.NoError(t, err)
	assert.Len(t, limited, 3)
}
