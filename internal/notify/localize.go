package notify

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

const liveMessage = "%s just started streaming"

var (
	supportedLanguages = []language.Tag{
		language.English,
		language.Spanish,
		language.French,
		language.German,
		language.Portuguese,
	}
	languageMatcher = language.NewMatcher(supportedLanguages)
	messages        = newCatalog()
)

func newCatalog() catalog.Catalog {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	translations := map[language.Tag]string{
		language.English:    liveMessage,
		language.Spanish:    "%s acaba de empezar a transmitir",
		language.French:     "%s vient de commencer un live",
		language.German:     "%s hat gerade mit dem Streamen begonnen",
		language.Portuguese: "%s acabou de começar a transmitir",
	}
	for tag, text := range translations {
		if err := b.SetString(tag, liveMessage, text); err != nil {
			panic(err)
		}
	}
	return b
}

// matchLanguage picks the closest supported language for a locale such as
// "es-MX" or "pt_BR". Unknown or empty locales resolve to English.
func matchLanguage(locale string) language.Tag {
	tag, err := language.Parse(normalizeLocale(locale))
	if err != nil {
		return language.English
	}
	_, index, confidence := languageMatcher.Match(tag)
	if confidence == language.No {
		return language.English
	}
	return supportedLanguages[index]
}

// LiveMessage renders the "just started streaming" body for a locale.
func LiveMessage(locale, streamerName string) string {
	printer := message.NewPrinter(matchLanguage(locale), message.Catalog(messages))
	return printer.Sprintf(liveMessage, streamerName)
}

func normalizeLocale(locale string) string {
	return strings.ReplaceAll(strings.TrimSpace(locale), "_", "-")
}
