// Package i18n lists the supported UI languages and matches request tags
// against them.
package i18n

import (
	"strings"

	"github.com/louisbranch/benchhistory/internal/platform/i18n/catalog"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var supportedTags = []language.Tag{
	language.AmericanEnglish,
	language.BrazilianPortuguese,
}

var matcher = language.NewMatcher(supportedTags)

// SupportedTags returns the supported language tags, default first.
func SupportedTags() []language.Tag {
	out := make([]language.Tag, len(supportedTags))
	copy(out, supportedTags)
	return out
}

// DefaultTag returns the fallback language.
func DefaultTag() language.Tag {
	return supportedTags[0]
}

// ParseTag parses value and reports whether it maps to a supported language.
func ParseTag(value string) (language.Tag, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return DefaultTag(), false
	}
	tag, err := language.Parse(value)
	if err != nil {
		return DefaultTag(), false
	}
	matched, _, confidence := matcher.Match(tag)
	if confidence == language.No {
		return DefaultTag(), false
	}
	return normalize(matched), true
}

// MatchTags picks the best supported language for an Accept-Language list.
func MatchTags(tags []language.Tag) language.Tag {
	if len(tags) == 0 {
		return DefaultTag()
	}
	matched, _, confidence := matcher.Match(tags...)
	if confidence == language.No {
		return DefaultTag()
	}
	return normalize(matched)
}

// Printer returns a message printer with the embedded catalogs registered.
func Printer(tag language.Tag) *message.Printer {
	_ = catalog.Default()
	return message.NewPrinter(tag)
}

// normalize drops the -u-rg extension the matcher adds so tags compare equal
// to the supported list.
func normalize(tag language.Tag) language.Tag {
	for _, supported := range supportedTags {
		base, _ := supported.Base()
		matchedBase, _ := tag.Base()
		if base == matchedBase {
			return supported
		}
	}
	return DefaultTag()
}
