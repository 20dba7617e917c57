package processor

// DefaultSimilarityThreshold is the Jaccard similarity above which a page is
// treated as a duplicate of an earlier one.
const DefaultSimilarityThreshold = 0.8

// jaccard returns |a∩b| / |a∪b|, or 0 when both sets are empty.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) > len(b) {
		a, b = b, a
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// deduplicate keeps pages in order, dropping any page whose similarity to an
// already kept page is strictly greater than threshold.
func deduplicate(pages []CleanedPage, threshold float64) (kept []CleanedPage, dropped int) {
	kept = make([]CleanedPage, 0, len(pages))
	for _, page := range pages {
		duplicate := false
		for _, prior := range kept {
			if jaccard(page.words, prior.words) > threshold {
				duplicate = true
				break
			}
		}
		if duplicate {
			dropped++
			continue
		}
		kept = append(kept, page)
	}
	return kept, dropped
}
