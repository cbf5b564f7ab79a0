// Package consolidation merges the theme candidates produced for one platform
// into a short, ranked list of distinct themes.
//
// Consolidate is a pure function: the same multiset of candidates always
// yields the same themes, whatever order they arrive in.
package consolidation

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/happynocode/app-review-analysis/internal/domain"
)

const (
	DefaultMaxThemes      = 50
	DefaultMaxQuotes      = 10
	DefaultMaxSuggestions = 8

	// NoThemesTitle is the title of the theme returned for empty input.
	NoThemesTitle = "No significant themes identified"

	groupTitleThreshold   = 0.6
	similarTitleThreshold = 0.8
	relatedTitleThreshold = 0.5
	contentThreshold      = 0.6
	duplicateThreshold    = 0.85
)

// Options bounds the engine output. Zero values use the defaults.
type Options struct {
	MaxThemes      int
	MaxQuotes      int
	MaxSuggestions int
}

func (o Options) withDefaults() Options {
	if o.MaxThemes <= 0 {
		o.MaxThemes = DefaultMaxThemes
	}
	if o.MaxQuotes <= 0 {
		o.MaxQuotes = DefaultMaxQuotes
	}
	if o.MaxSuggestions <= 0 {
		o.MaxSuggestions = DefaultMaxSuggestions
	}
	return o
}

// Quote is a deduplicated supporting excerpt and the number of candidates
// that cited it.
type Quote struct {
	Text      string
	Frequency int
}

// Theme is one consolidated theme.
type Theme struct {
	Title       string
	Description string
	Quotes      []Quote
	Suggestions []string
	Importance  int
}

// candidate is a cleaned ThemeCandidate with its precomputed features.
type candidate struct {
	domain.ThemeCandidate
	title   titleFeatures
	desc    map[string]struct{}
	quotes  map[string]struct{}
	score   int
	ordinal int
}

// merged is a theme before the internal fields are stripped.
type merged struct {
	Theme
	members []int
	first   int
}

// Consolidate groups similar candidates, merges each group into one theme and
// returns the themes ordered by importance. An input without any usable
// candidate yields a single placeholder theme titled NoThemesTitle.
func Consolidate(input []domain.ThemeCandidate, opts Options) []Theme {
	opts = opts.withDefaults()

	cands := prepare(input)
	if len(cands) == 0 {
		return []Theme{noThemes()}
	}

	groups := groupCandidates(cands)

	themes := make([]merged, 0, len(groups))
	for _, g := range groups {
		themes = append(themes, mergeGroup(cands, g, opts))
	}
	sortThemes(themes)

	accepted := make([]merged, 0, len(themes))
	acceptedTitles := make([]titleFeatures, 0, len(themes))
	for _, t := range themes {
		f := newTitleFeatures(t.Title)
		if isDuplicate(f, acceptedTitles) {
			continue
		}
		accepted = append(accepted, t)
		acceptedTitles = append(acceptedTitles, f)
		if len(accepted) == opts.MaxThemes {
			break
		}
	}

	out := make([]Theme, len(accepted))
	for i, t := range accepted {
		out[i] = t.Theme
	}
	return out
}

// prepare cleans the input, sorts it canonically and precomputes features.
func prepare(input []domain.ThemeCandidate) []candidate {
	cleaned := make([]domain.ThemeCandidate, 0, len(input))
	for _, c := range input {
		title := strings.TrimSpace(c.Title)
		if title == "" {
			continue
		}
		cleaned = append(cleaned, domain.ThemeCandidate{
			Title:       title,
			Description: strings.TrimSpace(c.Description),
			Quotes:      trimAll(c.Quotes),
			Suggestions: trimAll(c.Suggestions),
			Platform:    c.Platform,
		})
	}

	sort.SliceStable(cleaned, func(i, j int) bool {
		return compareCandidates(cleaned[i], cleaned[j]) < 0
	})

	cands := make([]candidate, len(cleaned))
	for i, c := range cleaned {
		quotes := make(map[string]struct{}, len(c.Quotes))
		for _, q := range c.Quotes {
			if n := normalizeText(q); n != "" {
				quotes[n] = struct{}{}
			}
		}
		cands[i] = candidate{
			ThemeCandidate: c,
			title:          newTitleFeatures(c.Title),
			desc:           wordSet(normalizeText(c.Description)),
			quotes:         quotes,
			score:          candidateScore(c),
			ordinal:        i,
		}
	}
	return cands
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func compareCandidates(a, b domain.ThemeCandidate) int {
	if c := strings.Compare(a.Title, b.Title); c != 0 {
		return c
	}
	if c := strings.Compare(a.Description, b.Description); c != 0 {
		return c
	}
	if c := compareLists(a.Quotes, b.Quotes); c != 0 {
		return c
	}
	if c := compareLists(a.Suggestions, b.Suggestions); c != 0 {
		return c
	}
	return strings.Compare(string(a.Platform), string(b.Platform))
}

func compareLists(a, b []string) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := strings.Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// candidateScore is the importance contributed by one folded candidate.
func candidateScore(c domain.ThemeCandidate) int {
	score := 3*len(c.Quotes) + 2*len(c.Suggestions)
	score += min(utf8.RuneCountInString(c.Title)/10, 5)
	if utf8.RuneCountInString(c.Description) > 20 {
		score += 2
	}
	return score
}

// advancedSimilar reports whether two candidates describe the same theme.
func advancedSimilar(a, b *candidate) bool {
	ts := titleSimilarity(a.title, b.title)
	if ts >= similarTitleThreshold {
		return true
	}
	if ts >= relatedTitleThreshold && contentSimilarity(a, b) >= contentThreshold {
		return true
	}
	return shareBucket(a.title, b.title)
}

func contentSimilarity(a, b *candidate) float64 {
	desc := jaccard(a.desc, b.desc)
	if len(a.quotes) == 0 && len(b.quotes) == 0 {
		return desc
	}
	return 0.6*desc + 0.4*jaccard(a.quotes, b.quotes)
}

// groupCandidates returns the groups as ascending member indices, ordered by
// their first member. Primary grouping takes the connected components of the
// advancedSimilar relation, which already covers every cross-group pair; the
// second pass then folds groups whose primary titles are close until nothing
// changes.
func groupCandidates(cands []candidate) [][]int {
	uf := newUnionFind(len(cands))
	for i := range cands {
		for j := i + 1; j < len(cands); j++ {
			if uf.find(i) == uf.find(j) {
				continue
			}
			if advancedSimilar(&cands[i], &cands[j]) {
				uf.union(i, j)
			}
		}
	}

	byRoot := make(map[int]int)
	var groups [][]int
	for i := range cands {
		root := uf.find(i)
		idx, ok := byRoot[root]
		if !ok {
			idx = len(groups)
			byRoot[root] = idx
			groups = append(groups, nil)
		}
		groups[idx] = append(groups[idx], i)
	}

	for {
		a, b, found := findMergeablePair(cands, groups)
		if !found {
			return groups
		}
		combined := append(groups[a], groups[b]...)
		sort.Ints(combined)
		groups[a] = combined
		groups = append(groups[:b], groups[b+1:]...)
	}
}

// findMergeablePair returns the first pair of groups, a < b, whose primary
// titles are close enough to merge. A group's primary title is the title of
// its first member.
func findMergeablePair(cands []candidate, groups [][]int) (int, int, bool) {
	for a := range groups {
		pa := cands[groups[a][0]].title
		for b := a + 1; b < len(groups); b++ {
			if titleSimilarity(pa, cands[groups[b][0]].title) >= groupTitleThreshold {
				return a, b, true
			}
		}
	}
	return 0, 0, false
}

type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	return &unionFind{parent: p}
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

// union keeps the smaller index as the root.
func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if rb < ra {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
}

func sortThemes(themes []merged) {
	sort.SliceStable(themes, func(i, j int) bool {
		a, b := themes[i], themes[j]
		if a.Importance != b.Importance {
			return a.Importance > b.Importance
		}
		if len(a.Quotes) != len(b.Quotes) {
			return len(a.Quotes) > len(b.Quotes)
		}
		if len(a.Suggestions) != len(b.Suggestions) {
			return len(a.Suggestions) > len(b.Suggestions)
		}
		if a.Title != b.Title {
			return a.Title < b.Title
		}
		return a.first < b.first
	})
}

func isDuplicate(f titleFeatures, accepted []titleFeatures) bool {
	for _, a := range accepted {
		if titleSimilarity(f, a) >= duplicateThreshold {
			return true
		}
	}
	return false
}

func noThemes() Theme {
	return Theme{
		Title:       NoThemesTitle,
		Description: "The collected reviews did not contain enough recurring feedback to identify themes.",
		Quotes:      []Quote{},
		Suggestions: []string{
			"Widen the review date range to collect more feedback",
			"Enable additional platforms for this app",
			"Check that the app name matches its store listings",
		},
	}
}
