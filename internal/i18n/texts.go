// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package i18n holds the few user-visible strings the transport layer itself
// writes into a conversation, per supported language.
package i18n

import "github.com/jeranaias/chatlink/internal/model"

// QuickAction is a canned prompt. The keyword is sent to the stream endpoint,
// the label is what the user sees as their own message.
type QuickAction struct {
	Label  string
	Prompt string
}

// Quick action keywords understood by the stream endpoint.
const (
	PromptMotivation      = "MOTIVATION"
	PromptTellMeSomething = "TELL_ME_SOMETHING"
	PromptDailyMeditation = "DAILY_MEDITATION"
)

// Texts are the strings for one language.
type Texts struct {
	Welcome              string
	StreamingPlaceholder string
	Error                string
	NoConnection         string
	OperatorConnecting   string
	ConversationClosed   string
	QuickActions         []QuickAction
}

var catalog = map[model.Lang]Texts{
	model.LangRO: {
		Welcome:              "Bună! Sunt aici să te ajut cu răspunsuri la întrebări despre Biblie și viața spirituală. Spune-mi, te rog, cu ce pot începe?",
		StreamingPlaceholder: "Se generează răspunsul, te rog să aștepți...",
		Error:                "Ne pare rău, a apărut o eroare. Încearcă din nou.",
		NoConnection:         "Nu există conexiune la internet. Verifică rețeaua și încearcă din nou.",
		OperatorConnecting:   "Urmează să fii preluat de un mentor în cel mai scurt timp posibil.",
		ConversationClosed:   "Conversația cu mentorul a fost închisă.",
		QuickActions: []QuickAction{
			{Label: "Motivează-mă", Prompt: PromptMotivation},
			{Label: "Spune-mi ceva ce nu știu", Prompt: PromptTellMeSomething},
			{Label: "Meditația zilei", Prompt: PromptDailyMeditation},
		},
	},
	model.LangEN: {
		Welcome:              "Hello! I am here to help you with answers to questions about the Bible and spiritual life. Please tell me, how can I help?",
		StreamingPlaceholder: "Generating response, please wait...",
		Error:                "Sorry, an error occurred. Please try again.",
		NoConnection:         "No internet connection. Check your network and try again.",
		OperatorConnecting:   "You will be connected with a mentor as soon as possible.",
		ConversationClosed:   "The conversation with the mentor has been closed.",
		QuickActions: []QuickAction{
			{Label: "Motivate me", Prompt: PromptMotivation},
			{Label: "Tell me something I don't know", Prompt: PromptTellMeSomething},
			{Label: "Daily meditation", Prompt: PromptDailyMeditation},
		},
	},
	model.LangHU: {
		Welcome:              "Szia! Azért vagyok itt, hogy segítsek a Bibliával és a lelki élettel kapcsolatos kérdéseidben. Kérlek, mondd el, miben segíthetek?",
		StreamingPlaceholder: "Válasz generálása, kérlek várj...",
		Error:                "Sajnáljuk, hiba történt. Kérlek, próbáld újra.",
		NoConnection:         "Nincs internetkapcsolat. Ellenőrizd a hálózatot, és próbáld újra.",
		OperatorConnecting:   "Hamarosan egy mentor fog foglalkozni veled.",
		ConversationClosed:   "A mentorral folytatott beszélgetés lezárult.",
		QuickActions: []QuickAction{
			{Label: "Motiválj", Prompt: PromptMotivation},
			{Label: "Mondj valamit, amit nem tudok", Prompt: PromptTellMeSomething},
			{Label: "A nap meditációja", Prompt: PromptDailyMeditation},
		},
	},
}

// For returns the texts for lang, falling back to English.
func For(lang model.Lang) Texts {
	if t, ok := catalog[lang]; ok {
		return t
	}
	return catalog[model.LangEN]
}

// QuickActionByPrompt finds the action for a keyword in the given language.
func QuickActionByPrompt(lang model.Lang, prompt string) (QuickAction, bool) {
	for _, qa := range For(lang).QuickActions {
		if qa.Prompt == prompt {
			return qa, true
		}
	}
	return QuickAction{}, false
}
