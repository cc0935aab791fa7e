package main

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed lang/*.yaml
var bundledLocales embed.FS

const defaultLocale = "en_US"

type Locale struct {
	translations map[string]string
	locale       string
}

var globalLocale *Locale

// InitLocale loads the translations for the system locale, falling back to English.
func InitLocale() error {
	locale := DetectSystemLocale()

	l, err := LoadLocale(locale)
	if err != nil {
		l, err = LoadLocale(defaultLocale)
		if err != nil {
			return fmt.Errorf("failed to load fallback locale %s: %w", defaultLocale, err)
		}
	}

	globalLocale = l
	return nil
}

// DetectSystemLocale reads LANG, LC_ALL and LC_MESSAGES in that order.
func DetectSystemLocale() string {
	for _, key := range []string{"LANG", "LC_ALL", "LC_MESSAGES"} {
		if value := os.Getenv(key); value != "" {
			// e.g. "en_US.UTF-8"
			if code := strings.Split(value, ".")[0]; code != "" && code != "C" && code != "POSIX" {
				return code
			}
		}
	}
	return defaultLocale
}

// LoadLocale reads lang/<locale>.yaml next to the executable, then the bundled copy.
func LoadLocale(locale string) (*Locale, error) {
	data, err := readLocaleFile(locale)
	if err != nil {
		return nil, err
	}

	var translations map[string]string
	if err := yaml.Unmarshal(data, &translations); err != nil {
		return nil, fmt.Errorf("failed to parse locale %s: %w", locale, err)
	}

	return &Locale{
		translations: translations,
		locale:       locale,
	}, nil
}

func readLocaleFile(locale string) ([]byte, error) {
	name := locale + ".yaml"
	if exePath, err := os.Executable(); err == nil {
		if data, err := os.ReadFile(filepath.Join(filepath.Dir(exePath), "lang", name)); err == nil {
			return data, nil
		}
	}

	data, err := bundledLocales.ReadFile("lang/" + name)
	if err != nil {
		return nil, fmt.Errorf("no translations for locale %s: %w", locale, err)
	}
	return data, nil
}

// T translates key, formatting the translation with params when given.
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

// GetLocale returns the current locale code, e.g. "en_US".
func GetLocale() string {
	if globalLocale == nil {
		return defaultLocale
	}
	return globalLocale.locale
}
