package translator_test

import (
	"testing"

	"github.com/ownlingo/catalog-translate/translator"
)

func TestNormalizeLanguage(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"en", "en"},
		{"EN", "en"},
		{"en-US", "en"},
		{"en_us", "en"},
		{"zh", "zh"},
		{"zh-Hant", "zh-hant"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := translator.NormalizeLanguage(tt.input); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestSameLanguage(t *testing.T) {
	if !translator.SameLanguage("EN", "en-GB") {
		t.Error("expected EN and en-GB to match")
	}
	if translator.SameLanguage("en", "zh") {
		t.Error("expected en and zh to differ")
	}
	if translator.SameLanguage("", "") {
		t.Error("expected empty codes not to match")
	}
}

func TestMirrorCode(t *testing.T) {
	if got := translator.MirrorCode("zh"); got != "ZH" {
		t.Errorf("expected ZH, got %q", got)
	}
	if got := translator.MirrorCode("en-us"); got != "EN" {
		t.Errorf("expected EN, got %q", got)
	}
}

func TestLanguageName(t *testing.T) {
	if got := translator.LanguageName("zh"); got != "Chinese" {
		t.Errorf("expected Chinese, got %q", got)
	}
	if got := translator.LanguageName("fr"); got != "French" {
		t.Errorf("expected French, got %q", got)
	}
}

func TestDetectLanguage(t *testing.T) {
	en := translator.DetectLanguage("A hanging scroll painted with ink and light colours on silk, depicting travellers in a mountain landscape.")
	if en != "en" {
		t.Errorf("expected en, got %q", en)
	}

	if got := translator.DetectLanguage("   "); got != "" {
		t.Errorf("expected empty detection for blank text, got %q", got)
	}
}
