// File: utils/timegrid.go
// Pure helpers for the booking minute grid. Times are "HH:MM" strings on a
// per-day minute axis; values past 24:00 are legal so an opening range may be
// authored across midnight ("19:00-25:00").
package utils

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ToMinutes converts an "HH:MM" string to minutes from midnight.
func ToMinutes(hhmm string) (int, error) {
	parts := strings.SplitN(hhmm, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time %q", hhmm)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid time %q: %w", hhmm, err)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid time %q: %w", hhmm, err)
	}
	if h < 0 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid time %q", hhmm)
	}
	return h*60 + m, nil
}

// FromMinutes renders minutes from midnight back to "HH:MM".
func FromMinutes(total int) string {
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

// AlignToSlot floors a time onto the slot grid. ok is true when the input was
// already aligned.
func AlignToSlot(hhmm string, slotMinutes int) (string, bool, error) {
	if slotMinutes <= 0 {
		return "", false, fmt.Errorf("invalid slot size %d", slotMinutes)
	}
	total, err := ToMinutes(hhmm)
	if err != nil {
		return "", false, err
	}
	aligned := (total / slotMinutes) * slotMinutes
	return FromMinutes(aligned), total == aligned, nil
}

// AddMinutes adds mins to an "HH:MM" time, carrying past 24:00 when needed.
func AddMinutes(hhmm string, mins int) (string, error) {
	total, err := ToMinutes(hhmm)
	if err != nil {
		return "", err
	}
	return FromMinutes(total + mins), nil
}

// ParseRange splits an opening range string "HH:MM-HH:MM" into start/end minutes.
func ParseRange(r string) (int, int, error) {
	parts := strings.SplitN(r, "-", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid range %q", r)
	}
	start, err := ToMinutes(parts[0])
	if err != nil {
		return 0, 0, err
	}
	end, err := ToMinutes(parts[1])
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

// weekdayKeys indexes time.Weekday (Sunday = 0) into opening-hours keys.
var weekdayKeys = [...]string{"sun", "mon", "tue", "wed", "thu", "fri", "sat"}

// WeekdayKey resolves an ISO date to its opening-hours key ("mon".."sun").
func WeekdayKey(dateISO string, loc *time.Location) (string, error) {
	d, err := time.ParseInLocation("2006-01-02", dateISO, loc)
	if err != nil {
		return "", fmt.Errorf("invalid date %q: %w", dateISO, err)
	}
	return weekdayKeys[int(d.Weekday())], nil
}

// ToIsoDate formats a timestamp as "YYYY-MM-DD" in the given location.
func ToIsoDate(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}

// ToDateTime combines an ISO date and an "HH:MM" time into a timestamp.
// Times past 24:00 roll into the following day.
func ToDateTime(dateISO, hhmm string, loc *time.Location) (time.Time, error) {
	d, err := time.ParseInLocation("2006-01-02", dateISO, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", dateISO, err)
	}
	total, err := ToMinutes(hhmm)
	if err != nil {
		return time.Time{}, err
	}
	return d.Add(time.Duration(total) * time.Minute), nil
}

var relDays = map[string]int{
	"oggi":       0,
	"stasera":    0,
	"domani":     1,
	"dopodomani": 2,
}

var weekdayTokens = map[string]time.Weekday{
	"lun": time.Monday,
	"mar": time.Tuesday,
	"mer": time.Wednesday,
	"gio": time.Thursday,
	"ven": time.Friday,
	"sab": time.Saturday,
	"dom": time.Sunday,
}

var weekdayTokenRe = regexp.MustCompile(`^(lun|mar|mer|gio|ven|sab|dom)(?:\pL+)?(?:\s+prossimo)?$`)

// ParseRelativeDateToken resolves Italian relative day tokens ("oggi",
// "domani", "venerdì", "sabato prossimo") to an absolute ISO date. Returns
// ok=false when the token is not a relative date.
func ParseRelativeDateToken(token string, now time.Time, loc *time.Location) (string, bool) {
	t := strings.ToLower(strings.TrimSpace(token))
	base := now.In(loc)

	if offset, found := relDays[t]; found {
		return ToIsoDate(base.AddDate(0, 0, offset), loc), true
	}

	m := weekdayTokenRe.FindStringSubmatch(t)
	if m == nil {
		return "", false
	}
	target := weekdayTokens[m[1]]
	isNext := strings.Contains(t, "prossim")
	diff := (int(target) - int(base.Weekday()) + 7) % 7
	if diff == 0 || isNext {
		diff += 7
	}
	return ToIsoDate(base.AddDate(0, 0, diff), loc), true
}

// FormatHuman renders a date/time pair for outbound replies ("02/01/2006 alle 20:30").
func FormatHuman(dateISO, hhmm string, loc *time.Location) string {
	d, err := time.ParseInLocation("2006-01-02", dateISO, loc)
	if err != nil {
		return dateISO + " alle " + hhmm
	}
	return d.Format("02/01/2006") + " alle " + hhmm
}

// FormatHumanTime is FormatHuman for an absolute timestamp.
func FormatHumanTime(t time.Time, loc *time.Location) string {
	local := t.In(loc)
	return local.Format("02/01/2006") + " alle " + local.Format("15:04")
}
