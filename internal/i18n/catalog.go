package i18n

import (
	"sync"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// german translates fixed CLI messages. Keys are the exact format strings
// passed to the printer; untranslated messages print as written.
var german = map[string]string{
	"Configuration valid!\n":     "Konfiguration gültig!\n",
	"No changes detected.\n":     "Keine Änderungen gefunden.\n",
	"No managed rules\n":         "Keine verwalteten Regeln\n",
	"No events\n":                "Keine Ereignisse\n",
	"Removed rule %s\n":          "Regel %s entfernt\n",
	"Removed %d managed rules\n": "%d verwaltete Regeln entfernt\n",
	"Removed %d foreign rules\n": "%d fremde Regeln entfernt\n",
	"Wrote %s\n":                 "%s geschrieben\n",
	"Unknown command: %s\n\n":    "Unbekannter Befehl: %s\n\n",
	"%s failed: %v\n":            "%s fehlgeschlagen: %v\n",
	"Sweep:    disabled\n":       "Sweep:    deaktiviert\n",
	"Journal:  enabled\n":        "Journal:  aktiviert\n",
	"Journal:  disabled\n":       "Journal:  deaktiviert\n",
}

var catalogOnce sync.Once

func loadCatalog() {
	catalogOnce.Do(func() {
		for key, msg := range german {
			if err := message.SetString(language.German, key, msg); err != nil {
				panic("i18n: " + err.Error())
			}
		}
	})
}
