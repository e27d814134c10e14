package autoreply

import "strings"

// DefaultLanguage is used for stubs when the caller's language is unknown.
const DefaultLanguage = "en"

var stubs = map[string]string{
	"en": "Thanks for your message! Our concierge team will reply shortly.",
	"ar": "شكرًا لرسالتك! سيرد عليك فريق الكونسيرج قريبًا.",
	"de": "Danke für Ihre Nachricht! Unser Concierge-Team antwortet in Kürze.",
}

// StubFor returns the fixed reply for lang, English when lang is unsupported.
func StubFor(lang string) string {
	if s, ok := stubs[normalizeLanguage(lang)]; ok {
		return s
	}
	return stubs[DefaultLanguage]
}

// normalizeLanguage maps tags like "de-AT" or "AR_ae" to their base language.
func normalizeLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "-_"); i >= 0 {
		lang = lang[:i]
	}
	if lang == "" {
		return DefaultLanguage
	}
	return lang
}
