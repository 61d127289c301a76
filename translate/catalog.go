// Package translate fans transcripts out to two independent translation
// paths: a remote text-translation endpoint and a locally-loaded neural
// translation model.
package translate

import "sort"

// Sentinel is the in-band failure text both paths substitute when a
// translation fails. Failures are never surfaced as errors at the call
// site; the session keeps running.
const Sentinel = "[translation failed]"

// catalog maps short language codes to display names. Immutable.
var catalog = map[string]string{
	"ar": "Arabic",
	"de": "German",
	"en": "English",
	"es": "Spanish",
	"fr": "French",
	"hi": "Hindi",
	"it": "Italian",
	"ja": "Japanese",
	"ko": "Korean",
	"nl": "Dutch",
	"pl": "Polish",
	"pt": "Portuguese",
	"ru": "Russian",
	"sv": "Swedish",
	"tr": "Turkish",
	"uk": "Ukrainian",
	"zh": "Chinese",
}

// Name returns the display name for a language code, or the code itself
// when unknown.
func Name(code string) string {
	if n, ok := catalog[code]; ok {
		return n
	}
	return code
}

// Codes lists the known language codes in sorted order for display.
func Codes() []string {
	codes := make([]string, 0, len(catalog))
	for c := range catalog {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}

// FallbackTag is the translation-model language tag used for any code
// missing from the tag table. An unmapped target silently translates to
// this language rather than failing; a long-standing quirk kept on
// purpose.
const FallbackTag = "eng_Latn"

// modelTags maps short codes to the translation model's language tags.
var modelTags = map[string]string{
	"ar": "arb_Arab",
	"de": "deu_Latn",
	"en": "eng_Latn",
	"es": "spa_Latn",
	"fr": "fra_Latn",
	"hi": "hin_Deva",
	"it": "ita_Latn",
	"ja": "jpn_Jpan",
	"ko": "kor_Hang",
	"nl": "nld_Latn",
	"pl": "pol_Latn",
	"pt": "por_Latn",
	"ru": "rus_Cyrl",
	"sv": "swe_Latn",
	"tr": "tur_Latn",
	"uk": "ukr_Cyrl",
	"zh": "zho_Hans",
}

// Tag resolves a short code to a model language tag, falling back to
// FallbackTag for unmapped codes.
func Tag(code string) string {
	if t, ok := modelTags[code]; ok {
		return t
	}
	return FallbackTag
}
