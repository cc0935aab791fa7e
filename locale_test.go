package main

import "testing"

func TestDetectSystemLocale(t *testing.T) {
	testCases := []struct {
		name           string
		lang           string
		lcAll          string
		lcMessages     string
		expectedLocale string
	}{
		{
			name:           "English US locale from LANG",
			lang:           "en_US.UTF-8",
			expectedLocale: "en_US",
		},
		{
			name:           "Russian locale from LANG",
			lang:           "ru_RU.UTF-8",
			expectedLocale: "ru_RU",
		},
		{
			name:           "LANG takes precedence over LC_ALL",
			lang:           "en_US.UTF-8",
			lcAll:          "ru_RU.UTF-8",
			expectedLocale: "en_US",
		},
		{
			name:           "LC_ALL used when LANG is empty",
			lcAll:          "ru_RU.UTF-8",
			expectedLocale: "ru_RU",
		},
		{
			name:           "LC_MESSAGES used last",
			lcMessages:     "ru_RU",
			expectedLocale: "ru_RU",
		},
		{
			name:           "POSIX locale is ignored",
			lang:           "C.UTF-8",
			expectedLocale: "en_US",
		},
		{
			name:           "Fallback to en_US when empty",
			expectedLocale: "en_US",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("LANG", tc.lang)
			t.Setenv("LC_ALL", tc.lcAll)
			t.Setenv("LC_MESSAGES", tc.lcMessages)

			if got := DetectSystemLocale(); got != tc.expectedLocale {
				t.Errorf("Expected locale '%s', got '%s'", tc.expectedLocale, got)
			}
		})
	}
}

func TestLoadBundledLocales(t *testing.T) {
	en, err := LoadLocale("en_US")
	if err != nil {
		t.Fatalf("Failed to load en_US: %v", err)
	}

	entries, err := bundledLocales.ReadDir("lang")
	if err != nil {
		t.Fatalf("Failed to list bundled locales: %v", err)
	}

	for _, entry := range entries {
		code := entry.Name()[:len(entry.Name())-len(".yaml")]
		t.Run(code, func(t *testing.T) {
			l, err := LoadLocale(code)
			if err != nil {
				t.Fatalf("Failed to load %s: %v", code, err)
			}
			for key := range en.translations {
				if _, ok := l.translations[key]; !ok {
					t.Errorf("%s is missing key %q", code, key)
				}
			}
		})
	}
}

func TestLoadLocaleMissing(t *testing.T) {
	if _, err := LoadLocale("xx_XX"); err == nil {
		t.Error("Expected error for a locale without translations")
	}
}

func TestTranslationFunction(t *testing.T) {
	originalLocale := globalLocale
	globalLocale = &Locale{
		translations: map[string]string{
			"simple_key":          "Simple Translation",
			"key_with_param":      "Hello, %s!",
			"key_with_two_params": "Claimed %d / %d",
		},
		locale: "test",
	}
	defer func() {
		globalLocale = originalLocale
	}()

	testCases := []struct {
		name           string
		key            string
		params         []interface{}
		expectedOutput string
	}{
		{name: "Simple translation", key: "simple_key", expectedOutput: "Simple Translation"},
		{name: "One parameter", key: "key_with_param", params: []interface{}{"World"}, expectedOutput: "Hello, World!"},
		{name: "Two parameters", key: "key_with_two_params", params: []interface{}{2, 5}, expectedOutput: "Claimed 2 / 5"},
		{name: "Missing key returns key itself", key: "nonexistent_key", expectedOutput: "nonexistent_key"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := T(tc.key, tc.params...); got != tc.expectedOutput {
				t.Errorf("Expected '%s', got '%s'", tc.expectedOutput, got)
			}
		})
	}
}

func TestTranslationWithoutLocale(t *testing.T) {
	originalLocale := globalLocale
	globalLocale = nil
	defer func() {
		globalLocale = originalLocale
	}()

	if got := T("summary_line", 1, 2); got != "summary_line" {
		t.Errorf("Expected the key back, got '%s'", got)
	}
	if GetLocale() != "en_US" {
		t.Errorf("Expected en_US, got %s", GetLocale())
	}
}

func TestInitLocaleFallsBackToEnglish(t *testing.T) {
	originalLocale := globalLocale
	defer func() {
		globalLocale = originalLocale
	}()
	t.Setenv("LANG", "xx_XX.UTF-8")

	if err := InitLocale(); err != nil {
		t.Fatalf("InitLocale failed: %v", err)
	}
	if GetLocale() != "en_US" {
		t.Errorf("Expected fallback to en_US, got %s", GetLocale())
	}
	if T("summary_line", 1, 3) != "Successfully claimed 1 / 3" {
		t.Errorf("Unexpected summary line %q", T("summary_line", 1, 3))
	}
}
