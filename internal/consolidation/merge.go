package consolidation

import (
	"sort"
	"strings"
	"unicode/utf8"
)

var summaryPrefixes = []string{
	"users report", "many users", "several users", "customers mention", "overall,", "the reviews", "reviewers",
}

var summaryFragments = []string{"analysis shows", "based on the reviews"}

var actionVerbs = map[string]struct{}{
	"add": {}, "implement": {}, "fix": {}, "improve": {}, "provide": {}, "allow": {},
	"enable": {}, "make": {}, "create": {}, "introduce": {}, "support": {}, "consider": {},
}

func mergeGroup(cands []candidate, members []int, opts Options) merged {
	var (
		titles      []string
		descs       []string
		quotes      []string
		suggestions []string
		score       int
	)
	for _, idx := range members {
		c := cands[idx]
		titles = append(titles, c.Title)
		descs = append(descs, c.Description)
		quotes = append(quotes, c.Quotes...)
		suggestions = append(suggestions, c.Suggestions...)
		score += c.score
	}

	var sugTexts []string
	for _, s := range dedupeTexts(suggestions, normalizeSuggestion, opts.MaxSuggestions) {
		sugTexts = append(sugTexts, s.Text)
	}
	if sugTexts == nil {
		sugTexts = []string{}
	}

	return merged{
		Theme: Theme{
			Title:       bestTitle(titles),
			Description: longest(descs),
			Quotes:      dedupeTexts(quotes, normalizeText, opts.MaxQuotes),
			Suggestions: sugTexts,
			Importance:  score,
		},
		members: members,
		first:   cands[members[0]].ordinal,
	}
}

// TitleQuality scores how well a title names a theme. Reasonable length,
// concrete product vocabulary and a few words score higher; generic filler
// words are penalized.
func TitleQuality(title string) int {
	score := 0
	if n := utf8.RuneCountInString(title); n >= 10 && n <= 50 {
		score += 3
	}

	words := strings.Fields(normalizeText(title))
	domainWords := 0
	for _, w := range words {
		if _, ok := domainStems[stem(w)]; ok {
			domainWords++
		}
	}
	score += min(domainWords, 3)

	if len(words) >= 2 && len(words) <= 6 {
		score += 2
	}

	for _, w := range words {
		for _, g := range genericTerms {
			if w == g {
				score -= 3
			}
		}
	}
	return score
}

func bestTitle(titles []string) string {
	best, bestScore := "", 0
	for i, t := range titles {
		s := TitleQuality(t)
		if i == 0 || betterTitle(t, s, best, bestScore) {
			best, bestScore = t, s
		}
	}
	return best
}

func betterTitle(t string, score int, best string, bestScore int) bool {
	if score != bestScore {
		return score > bestScore
	}
	tl, bl := utf8.RuneCountInString(t), utf8.RuneCountInString(best)
	if tl != bl {
		return tl < bl
	}
	return t < best
}

func longest(texts []string) string {
	best := ""
	for _, t := range texts {
		tl, bl := utf8.RuneCountInString(t), utf8.RuneCountInString(best)
		if tl > bl || (tl == bl && t < best) {
			best = t
		}
	}
	return best
}

// normalizeSuggestion normalizes like quotes and drops one leading action verb,
// so "Add dark mode" and "dark mode" collapse.
func normalizeSuggestion(s string) string {
	n := normalizeText(s)
	first, rest, found := strings.Cut(n, " ")
	if !found {
		return n
	}
	if _, ok := actionVerbs[first]; ok {
		return rest
	}
	return n
}

func isSummary(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, p := range summaryPrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	for _, f := range summaryFragments {
		if strings.Contains(lower, f) {
			return true
		}
	}
	return false
}

type variant struct {
	text  string
	count int
}

// dedupeTexts groups texts by their normalized key, keeps the longest raw
// variant of each key and orders them by frequency, length and text.
func dedupeTexts(texts []string, normalize func(string) string, limit int) []Quote {
	byKey := make(map[string]*variant)
	var keys []string
	for _, t := range texts {
		if isSummary(t) {
			continue
		}
		key := normalize(t)
		if key == "" {
			continue
		}
		v, ok := byKey[key]
		if !ok {
			byKey[key] = &variant{text: t, count: 1}
			keys = append(keys, key)
			continue
		}
		v.count++
		tl, vl := utf8.RuneCountInString(t), utf8.RuneCountInString(v.text)
		if tl > vl || (tl == vl && t < v.text) {
			v.text = t
		}
	}

	out := make([]Quote, 0, len(keys))
	for _, k := range keys {
		v := byKey[k]
		out = append(out, Quote{Text: v.text, Frequency: v.count})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Frequency != out[j].Frequency {
			return out[i].Frequency > out[j].Frequency
		}
		li, lj := utf8.RuneCountInString(out[i].Text), utf8.RuneCountInString(out[j].Text)
		if li != lj {
			return li > lj
		}
		return out[i].Text < out[j].Text
	})

	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
