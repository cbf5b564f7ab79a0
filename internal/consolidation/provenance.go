package consolidation

import "github.com/happynocode/app-review-analysis/internal/domain"

// FilterProvenance removes quotes that do not appear, after normalization, in
// any of the input candidates. It returns the filtered themes and the number
// of quotes dropped.
func FilterProvenance(themes []Theme, input []domain.ThemeCandidate) ([]Theme, int) {
	known := make(map[string]struct{})
	for _, c := range input {
		for _, q := range c.Quotes {
			if n := normalizeText(q); n != "" {
				known[n] = struct{}{}
			}
		}
	}

	dropped := 0
	out := make([]Theme, len(themes))
	for i, t := range themes {
		kept := make([]Quote, 0, len(t.Quotes))
		for _, q := range t.Quotes {
			if _, ok := known[normalizeText(q.Text)]; ok {
				kept = append(kept, q)
				continue
			}
			dropped++
		}
		t.Quotes = kept
		out[i] = t
	}
	return out, dropped
}
