package pager

import (
	"strings"
	"unicode"

	"feedsync/models"

	lingua "github.com/pemistahl/lingua-go"
	"github.com/samber/lo"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Predicate decides whether a retrieved document belongs in the feed.
type Predicate func(models.Document) bool

// Fold lowercases s and strips diacritics so "Córdoba" matches "cordoba".
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(strings.TrimSpace(folded))
}

// OwnerIs keeps documents whose field equals id exactly.
func OwnerIs(field, id string) Predicate {
	return func(d models.Document) bool {
		return d.String(field) == id
	}
}

// TitleContains keeps documents whose title contains q, ignoring case and
// accents. An empty q keeps everything.
func TitleContains(q string) Predicate {
	needle := Fold(q)
	return func(d models.Document) bool {
		return needle == "" || strings.Contains(Fold(d.String("title")), needle)
	}
}

// FieldEquals keeps documents whose field matches v, ignoring case and accents.
func FieldEquals(field, v string) Predicate {
	want := Fold(v)
	return func(d models.Document) bool {
		return Fold(d.String(field)) == want
	}
}

// All keeps documents accepted by every predicate. Nil predicates are skipped.
func All(predicates ...Predicate) Predicate {
	predicates = lo.Filter(predicates, func(p Predicate, _ int) bool { return p != nil })
	return func(d models.Document) bool {
		for _, p := range predicates {
			if !p(d) {
				return false
			}
		}
		return true
	}
}

// LanguageIn keeps documents whose title and description are detected as one
// of the given ISO 639-1 codes. Documents with no text are kept. It returns
// nil when none of the codes is known, which All treats as no filter.
func LanguageIn(codes ...string) Predicate {
	targets := isoToLingua(codes)
	if len(targets) == 0 {
		return nil
	}
	detector := newLanguageDetector(targets)

	return func(d models.Document) bool {
		text := strings.TrimSpace(d.String("title") + " " + d.String("description"))
		if text == "" {
			return true
		}
		lang, ok := detector.DetectLanguageOf(text)
		return ok && lo.Contains(targets, lang)
	}
}

// The detector also knows a handful of common languages so short texts in
// those are not forced onto a target.
func newLanguageDetector(targets []lingua.Language) lingua.LanguageDetector {
	languages := lo.Uniq(append([]lingua.Language{
		lingua.English,
		lingua.Spanish,
		lingua.Portuguese,
		lingua.French,
		lingua.German,
		lingua.Italian,
	}, targets...))

	return lingua.NewLanguageDetectorBuilder().
		FromLanguages(languages...).
		WithMinimumRelativeDistance(0.1).
		Build()
}

func isoToLingua(codes []string) []lingua.Language {
	byCode := make(map[string]lingua.Language)
	for _, lang := range lingua.AllLanguages() {
		byCode[strings.ToLower(lang.IsoCode639_1().String())] = lang
	}

	var languages []lingua.Language
	for _, code := range codes {
		if lang, ok := byCode[strings.ToLower(strings.TrimSpace(code))]; ok {
			languages = append(languages, lang)
		}
	}
	return lo.Uniq(languages)
}
