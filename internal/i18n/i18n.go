// Package i18n builds the CLI's message printer from the locale in the
// environment. The printer groups digits the local way and translates the
// fixed messages registered in catalog.go.
package i18n

import (
	"os"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Supported lists the CLI languages; the first is the fallback.
var Supported = []language.Tag{language.English, language.German}

var matcher = language.NewMatcher(Supported)

// Match picks the supported language closest to a locale list such as
// "de-DE,en;q=0.8". Anything unsupported or unparsable is English.
func Match(locales string) language.Tag {
	tags, _, _ := language.ParseAcceptLanguage(locales)
	_, i, _ := matcher.Match(tags...)
	return Supported[i]
}

// EnvLocale returns the locale from LC_ALL, LC_MESSAGES or LANG, in that
// order, as a BCP 47 string without encoding ("de_DE.UTF-8" is "de-DE").
// The C and POSIX locales yield "".
func EnvLocale() string {
	var lang string
	for _, key := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		if lang = os.Getenv(key); lang != "" {
			break
		}
	}
	if i := strings.IndexAny(lang, ".@"); i >= 0 {
		lang = lang[:i]
	}
	if lang == "C" || lang == "POSIX" {
		return ""
	}
	return strings.ReplaceAll(lang, "_", "-")
}

// NewPrinter returns a printer for tag with the catalog loaded.
func NewPrinter(tag language.Tag) *message.Printer {
	loadCatalog()
	return message.NewPrinter(tag)
}

// NewCLIPrinter returns a printer for the environment's locale.
func NewCLIPrinter() *message.Printer {
	return NewPrinter(Match(EnvLocale()))
}
