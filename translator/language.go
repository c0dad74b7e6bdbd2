package translator

import (
	"strings"

	"github.com/abadojack/whatlanggo"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

var englishNames = display.Languages(language.English)

// NormalizeLanguage lower-cases a language code and strips the region,
// so "EN-us", "en_US" and "en" all compare equal. Chinese keeps its script
// because simplified and traditional targets differ.
func NormalizeLanguage(code string) string {
	code = strings.TrimSpace(strings.ReplaceAll(code, "_", "-"))
	if code == "" {
		return ""
	}

	tag, err := language.Parse(code)
	if err != nil {
		return strings.ToLower(code)
	}

	base, _ := tag.Base()
	if base.String() == "zh" {
		if script, _ := tag.Script(); script.String() == "Hant" {
			return "zh-hant"
		}
	}
	return base.String()
}

// SameLanguage reports whether two codes name the same language
func SameLanguage(a, b string) bool {
	na, nb := NormalizeLanguage(a), NormalizeLanguage(b)
	return na != "" && na == nb
}

// MirrorCode returns the upper-case form DeepL-style endpoints expect
func MirrorCode(code string) string {
	return strings.ToUpper(NormalizeLanguage(code))
}

// LanguageName returns the English display name of a code, falling back
// to the code itself when it cannot be parsed.
func LanguageName(code string) string {
	tag, err := language.Parse(strings.ReplaceAll(code, "_", "-"))
	if err != nil {
		return code
	}
	if name := englishNames.Name(tag); name != "" {
		return name
	}
	return code
}

// DetectLanguage guesses the ISO 639-1 code of text. An empty string means
// the detector could not decide.
func DetectLanguage(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	info := whatlanggo.Detect(text)
	return info.Lang.Iso6391()
}
