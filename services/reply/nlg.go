// File: services/reply/nlg.go
// Canned reply variants, used whenever the generative collaborator is
// unavailable or a fixed prompt is good enough.
package reply

import (
	"math/rand"
	"strings"
)

var responses = map[string][]string{
	"hello": {
		"Ciao! Sono Tom, come posso aiutarti?",
		"Ehi! Qui Tom, pronto a prendere una prenotazione? 😊",
		"Ciao! Tutto bene? Dimmi pure se vuoi prenotare.",
	},
	"ask_missing_generic": {
		"Mi servono ancora alcune informazioni.",
		"Per completare ho bisogno di qualche dettaglio in più.",
	},
	"ask_people": {"Quante persone siete?", "Per quante persone?"},
	"ask_date":   {"Che giorno ti interessa?", "Per quale data?"},
	"ask_time":   {"A che ora vorresti venire?", "Quale orario preferisci?"},
	"ask_name":   {"A nome di chi faccio la prenotazione?", "Come ti chiami?"},
	"propose_summary": {
		"Perfetto! Tavolo per {{people}} il {{date}} alle {{time}} a nome {{name}}. Scrivi \"confermo\" per fissare.",
	},
	"confirm_hint": {
		"Scrivi \"confermo\" per fissare, oppure dimmi un altro orario.",
	},
	"nothing_to_confirm": {
		"Non ho una prenotazione in attesa di conferma. Vuoi crearne una?",
	},
	"booking_confirmed": {
		"Confermata! Ti aspettiamo {{slot}}. 🎉",
	},
	"modify_confirmed": {
		"Modifica confermata per {{slot}}.",
	},
	"stale_proposal": {
		"La proposta non è più disponibile, ripartiamo da capo. Che orario preferisci?",
	},
	"own_overlap": {
		"Hai già una prenotazione in quell'orario. Vuoi modificarla o annullarla?",
	},
	"cancel_prompt": {
		"Annullo la prenotazione del {{slot}}? Scrivi \"confermo\" per procedere.",
	},
	"cancel_done": {
		"Prenotazione annullata. Se vuoi rifissare sono qui.",
	},
	"cancel_aborted": {"Va bene, non annullo nulla."},
	"modify_aborted": {"Va bene, lascio tutto com'era."},
	"pending_cleared": {
		"Annullata. Vuoi provare con un altro orario?",
	},
	"nothing_to_cancel": {"Non ho trovato prenotazioni da annullare."},
	"list_follow_up": {
		"Vuoi modificare o annullare?",
		"Vuoi modificarne o annullarne una?",
	},
	"invalid_slot": {
		"Accettiamo prenotazioni ogni {{slot_minutes}} minuti. Prova un orario vicino, tipo 20:00 o 20:15.",
	},
	"outside_opening": {
		"A quell'ora siamo chiusi. Ti va un altro orario?",
	},
	"capacity_exceeded": {
		"Non abbiamo abbastanza posti a quell'ora. Meno persone o un altro orario?",
	},
	"not_available": {
		"A quell'ora siamo al completo. Posso proporti degli orari alternativi.",
	},
	"reservation_not_found": {"Non ho trovato quella prenotazione."},
	"ask_all_fields": {
		"Dimmi data, ora, persone e nome per la prenotazione.",
	},
	"error_retry": {
		"Ops, qualcosa è andato storto. Riproviamo tra poco?",
	},
	"clarify_fallback": {
		"Scusami, non ho capito. Dimmi data, ora e persone.",
	},
	"voice_unclear": {
		"Non sono riuscito ad ascoltare il messaggio vocale, puoi scrivermi?",
	},
	"reminder": {
		"Ti ricordiamo il tuo tavolo {{slot}}. A presto!",
	},
}

// Say returns one variant for a key, substituting {{param}} placeholders.
func Say(key string, params map[string]string) string {
	variants, ok := responses[key]
	if !ok || len(variants) == 0 {
		return ""
	}
	text := variants[rand.Intn(len(variants))]
	for k, v := range params {
		text = strings.ReplaceAll(text, "{{"+k+"}}", v)
	}
	return text
}
