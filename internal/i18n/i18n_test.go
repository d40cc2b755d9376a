package i18n

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/text/language"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		locales string
		want    language.Tag
	}{
		{"en-US,en;q=0.9", language.English},
		{"de-DE", language.German},
		{"de-AT,en;q=0.5", language.German},
		{"fr", language.English},
		{"", language.English},
		{"!!", language.English},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Match(tt.locales), tt.locales)
	}
}

func TestEnvLocale(t *testing.T) {
	t.Setenv("LC_ALL", "")
	t.Setenv("LC_MESSAGES", "")
	t.Setenv("LANG", "de_DE.UTF-8")
	assert.Equal(t, "de-DE", EnvLocale())

	t.Setenv("LC_MESSAGES", "en_GB@euro")
	assert.Equal(t, "en-GB", EnvLocale())

	t.Setenv("LC_ALL", "C")
	assert.Equal(t, "", EnvLocale())
}

func TestNewCLIPrinter(t *testing.T) {
	t.Setenv("LC_MESSAGES", "")
	t.Setenv("LC_ALL", "de_DE.UTF-8")
	p := NewCLIPrinter()
	assert.Equal(t, "1.234", p.Sprintf("%d", 1234))
	assert.Equal(t, "Keine verwalteten Regeln\n", p.Sprintf("No managed rules\n"))
	assert.Equal(t, "3 fremde Regeln entfernt\n", p.Sprintf("Removed %d foreign rules\n", 3))

	t.Setenv("LC_ALL", "")
	t.Setenv("LANG", "")
	p = NewCLIPrinter()
	assert.Equal(t, "1,234", p.Sprintf("%d", 1234))
	assert.Equal(t, "No managed rules\n", p.Sprintf("No managed rules\n"))
}
