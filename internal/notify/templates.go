package notify

import (
	"strconv"
	"strings"
)

type template struct {
	Title string
	Body  string
}

var templates = map[string]map[Kind]template{
	"en": {
		KindNext:        {"You're next!", "Hi {first_name}! You're #{ticket_number}. Please come to the shop now."},
		KindAlmostNext:  {"Almost your turn", "Hi {first_name}! {people_ahead} ahead of you. Please come to the shop in ~{minutes} minutes."},
		KindSkipped:     {"Position changed", "Hi {first_name}, you've been moved to position #{position}. Please come to the shop."},
		KindDone:        {"Thank you!", "Thanks for your visit, {first_name}. Tell us how it went."},
		KindNoShow:      {"Marked absent", "You were marked absent after 3 deferrals. Please talk to the barber if this is a mistake."},
		KindRemoved:     {"Removed by the barber", "You were removed from the queue. Reason: {reason}"},
		KindLeft:        {"You left the queue", "You are no longer in the queue."},
		KindQueueOpened: {"Queue is open", "The barber queue is now open. Join now!"},
		KindGone:        {"Removed from the queue", "You are no longer in the queue. Please join again if needed."},
	},
	"fr": {
		KindNext:        {"C'est votre tour !", "Bonjour {first_name} ! Vous êtes le n°{ticket_number}. Présentez-vous au salon maintenant."},
		KindAlmostNext:  {"Bientôt votre tour", "Bonjour {first_name} ! {people_ahead} devant vous. Présentez-vous au salon dans ~{minutes} minutes."},
		KindSkipped:     {"Position modifiée", "Bonjour {first_name}, vous êtes passé à la position n°{position}. Présentez-vous au salon."},
		KindDone:        {"Merci !", "Merci pour votre visite, {first_name}. Donnez-nous votre avis."},
		KindNoShow:      {"Absence signalée", "Vous avez été marqué comme absent après 3 reports. Parlez au coiffeur si c'est une erreur."},
		KindRemoved:     {"Retiré par l'administrateur", "Vous avez été retiré de la file d'attente. Raison : {reason}"},
		KindLeft:        {"File quittée", "Vous n'êtes plus dans la file d'attente."},
		KindQueueOpened: {"La file est ouverte", "La file d'attente est ouverte. Inscrivez-vous !"},
		KindGone:        {"Retiré de la file", "Vous avez été retiré de la file d'attente. Réinscrivez-vous si nécessaire."},
	},
}

var defaultReason = map[string]string{
	"en": "No reason given",
	"fr": "Aucune raison spécifiée",
}

func lookup(lang string, kind Kind) template {
	if byKind, ok := templates[lang]; ok {
		if tmpl, ok := byKind[kind]; ok {
			return tmpl
		}
	}
	return templates[DefaultLang][kind]
}

func renderTemplate(text string, values map[string]string) string {
	for key, value := range values {
		text = strings.ReplaceAll(text, "{"+key+"}", value)
	}
	return text
}

func peopleLabel(lang string, n int) string {
	switch lang {
	case "fr":
		if n == 1 {
			return "1 personne"
		}
		return strconv.Itoa(n) + " personnes"
	default:
		if n == 1 {
			return "1 person"
		}
		return strconv.Itoa(n) + " people"
	}
}
