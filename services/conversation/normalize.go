// File: services/conversation/normalize.go
package conversation

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"tavolo/models"
)

// accentFolder maps accented vowels onto their plain form before keyword
// matching ("sì" -> "si", "perché" -> "perche").
var accentFolder = strings.NewReplacer(
	"à", "a", "á", "a", "â", "a",
	"è", "e", "é", "e", "ê", "e",
	"ì", "i", "í", "i", "î", "i",
	"ò", "o", "ó", "o", "ô", "o",
	"ù", "u", "ú", "u", "û", "u",
)

// Normalize strips accents, punctuation and emoji, casefolds and collapses
// whitespace, producing the canonical form used for keyword detection.
func Normalize(s string) string {
	s = accentFolder.Replace(strings.ToLower(s))
	var sb strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			sb.WriteRune(r)
		case unicode.IsSpace(r):
			sb.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}

var affirmativeEmoji = []string{"👍", "👌", "✌️", "🙂"}
var negativeEmoji = []string{"👎", "🙅", "🚫"}

var affirmativeWords = []string{
	"confermo", "conferma", "ok", "okay", "va bene", "si",
	"perfetto", "procedi", "vai", "va",
}

var negativeWords = []string{
	"annulla", "cancella", "no", "non va bene", "stop", "annullare", "annullato",
}

// IsAffirmative reports whether a raw message confirms the pending proposal.
// The emoji whitelist is checked on the raw text, independent of the
// normalized word match. Negation dominates: "non va bene" is never a yes.
func IsAffirmative(raw string) bool {
	if IsNegative(raw) {
		return false
	}
	for _, e := range affirmativeEmoji {
		if strings.Contains(raw, e) {
			return true
		}
	}
	t := Normalize(raw)
	for _, w := range affirmativeWords {
		if hasWord(t, w) {
			return true
		}
	}
	return false
}

// IsNegative reports whether a raw message denies or aborts.
func IsNegative(raw string) bool {
	for _, e := range negativeEmoji {
		if strings.Contains(raw, e) {
			return true
		}
	}
	t := Normalize(raw)
	for _, w := range negativeWords {
		if hasWord(t, w) {
			return true
		}
	}
	return false
}

// hasWord reports whether normalized text contains w on word boundaries, so
// "no" never fires inside "prenotazione".
func hasWord(t, w string) bool {
	return t == w ||
		strings.HasPrefix(t, w+" ") ||
		strings.Contains(t, " "+w+" ") ||
		strings.HasSuffix(t, " "+w)
}

var bareNumberRe = regexp.MustCompile(`^\d{1,2}$`)

// shortTokenKind classifies a bare 1-2 digit message while fields are being
// collected: depending on what the draft still misses and on the tenant
// capacity it is read as a time ("21" -> 21:00) or a party size.
type shortTokenKind int

const (
	tokenAmbiguous shortTokenKind = iota
	tokenTime
	tokenPeople
)

func guessShortToken(raw string, draft models.Draft, capacity int) (shortTokenKind, string, int) {
	token := strings.TrimSpace(raw)
	if !bareNumberRe.MatchString(token) {
		return tokenAmbiguous, "", 0
	}
	n, _ := strconv.Atoi(token)
	timeMissing := draft.Time == ""
	peopleMissing := draft.People == 0

	asTime := func() (shortTokenKind, string, int) {
		return tokenTime, padHour(n), 0
	}

	switch {
	case n > capacity:
		return asTime()
	case timeMissing && peopleMissing:
		if n <= 23 {
			return tokenAmbiguous, "", 0
		}
		return tokenPeople, "", n
	case timeMissing && n <= 23:
		return asTime()
	case peopleMissing:
		if n >= 1 && n <= capacity {
			return tokenPeople, "", n
		}
	}
	return tokenAmbiguous, "", 0
}

func padHour(n int) string {
	return strconv.Itoa(n/10) + strconv.Itoa(n%10) + ":00"
}
