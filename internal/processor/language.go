package processor

import (
	"github.com/pemistahl/lingua-go"
)

// minDetectableLength is the shortest text worth running detection on.
const minDetectableLength = 20

// LanguageDetector reports the dominant language of a text.
type LanguageDetector interface {
	DetectLanguageOf(text string) (lingua.Language, bool)
}

// NewLanguageDetector builds a lingua detector over the languages most often
// served as translated documentation.
func NewLanguageDetector() LanguageDetector {
	return lingua.NewLanguageDetectorBuilder().
		FromLanguages(
			lingua.English, lingua.French, lingua.German, lingua.Spanish,
			lingua.Portuguese, lingua.Italian, lingua.Russian, lingua.Chinese,
			lingua.Japanese, lingua.Korean,
		).
		WithMinimumRelativeDistance(0.25).
		Build()
}

// filterLanguage drops pages confidently detected as something other than
// English. Short or ambiguous pages are kept.
func filterLanguage(detector LanguageDetector, pages []CleanedPage) (kept []CleanedPage, dropped []string) {
	if detector == nil {
		return pages, nil
	}
	kept = make([]CleanedPage, 0, len(pages))
	for _, p := range pages {
		if len(p.Content) < minDetectableLength {
			kept = append(kept, p)
			continue
		}
		lang, ok := detector.DetectLanguageOf(p.Content)
		if ok && lang != lingua.English {
			dropped = append(dropped, p.URL)
			continue
		}
		kept = append(kept, p)
	}
	return kept, dropped
}
