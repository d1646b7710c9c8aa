// Package locale holds the translated progress messages printed by the CLI.
package locale

import (
	"embed"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed lang/*.yaml
var langFS embed.FS

// Fallback is used when the system locale has no translation file.
const Fallback = "en_US"

type Locale struct {
	translations map[string]string
	locale       string
}

var globalLocale *Locale

// InitLocale initializes the global locale from the environment, falling
// back to en_US.
func InitLocale() error {
	locale := DetectSystemLocale()

	l, err := LoadLocale(locale)
	if err != nil {
		l, err = LoadLocale(Fallback)
		if err != nil {
			return fmt.Errorf("failed to load fallback locale %s: %w", Fallback, err)
		}
	}

	globalLocale = l
	return nil
}

// DetectSystemLocale reads LANG, LC_ALL and LC_MESSAGES in that order.
func DetectSystemLocale() string {
	for _, env := range []string{"LANG", "LC_ALL", "LC_MESSAGES"} {
		// Typically "en_US.UTF-8".
		if v := os.Getenv(env); v != "" {
			if code, _, _ := strings.Cut(v, "."); code != "" && code != "C" && code != "POSIX" {
				return code
			}
		}
	}
	return Fallback
}

// LoadLocale loads one of the bundled translation files.
func LoadLocale(locale string) (*Locale, error) {
	file := path.Join("lang", locale+".yaml")
	data, err := langFS.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read locale file %s: %w", file, err)
	}

	var translations map[string]string
	if err := yaml.Unmarshal(data, &translations); err != nil {
		return nil, fmt.Errorf("failed to parse locale file %s: %w", file, err)
	}

	return &Locale{translations: translations, locale: locale}, nil
}

// Available lists the bundled locale codes.
func Available() []string {
	entries, _ := langFS.ReadDir("lang")
	codes := make([]string, 0, len(entries))
	for _, e := range entries {
		codes = append(codes, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(codes)
	return codes
}

// T translates a key with optional Sprintf parameters. Unknown keys are
// returned as is.
func T(key string, params ...interface{}) string {
	if globalLocale == nil {
		return key
	}

	translation, ok := globalLocale.translations[key]
	if !ok {
		return key
	}

	if len(params) > 0 {
		return fmt.Sprintf(translation, params...)
	}
	return translation
}

// GetLocale returns the current locale code (e.g., "en_US", "ru_RU")
func GetLocale() string {
	if globalLocale == nil {
		return Fallback
	}
	return globalLocale.locale
}
