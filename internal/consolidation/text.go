package consolidation

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// semanticBuckets group title words by topic. Two titles that both mention a
// word of the same bucket are considered topically related.
var semanticBuckets = map[string][]string{
	"performance":      {"slow", "speed", "fast", "lag", "laggy", "performance", "loading", "battery", "memory", "sluggish"},
	"ui-ux":            {"ui", "ux", "interface", "design", "layout", "navigation", "menu", "button", "usability", "confusing"},
	"bug-crash":        {"bug", "crash", "crashes", "crashing", "freeze", "freezes", "glitch", "error", "broken"},
	"feature-request":  {"feature", "request", "wish", "missing", "option", "ability"},
	"pricing":          {"price", "pricing", "expensive", "subscription", "cost", "paywall", "refund", "payment"},
	"support":          {"support", "service", "helpdesk", "response", "agent"},
	"security-privacy": {"security", "privacy", "password", "data", "tracking", "permission", "permissions"},
	"integration":      {"integration", "sync", "syncing", "export", "import", "calendar", "api"},
}

// bucketOf maps a stemmed word to its bucket name.
var bucketOf = func() map[string]string {
	m := make(map[string]string)
	names := make([]string, 0, len(semanticBuckets))
	for name := range semanticBuckets {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, w := range semanticBuckets[name] {
			s := stem(w)
			if _, taken := m[s]; !taken {
				m[s] = name
			}
		}
	}
	return m
}()

var genericTerms = []string{"general", "misc", "miscellaneous", "various", "other", "stuff", "things"}

// extraDomainWords are meaningful product words outside the semantic buckets.
var extraDomainWords = []string{
	"app", "login", "account", "notification", "notifications", "update", "ads", "offline",
	"search", "upload", "download", "video", "audio", "camera", "startup", "onboarding",
}

var domainStems = func() map[string]struct{} {
	m := make(map[string]struct{})
	for w := range bucketOf {
		m[w] = struct{}{}
	}
	for _, w := range extraDomainWords {
		m[stem(w)] = struct{}{}
	}
	return m
}()

// normalizeText lowercases s, replaces punctuation with spaces and collapses
// runs of whitespace.
func normalizeText(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	space := true
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
			space = false
			continue
		}
		if !space {
			sb.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(sb.String())
}

// stem folds simple English inflections: crashing, crashes and crash share a stem.
func stem(w string) string {
	switch {
	case len(w) > 5 && strings.HasSuffix(w, "ing"):
		return w[:len(w)-3]
	case len(w) > 4 && strings.HasSuffix(w, "es") && esPlural(w[:len(w)-2]):
		return w[:len(w)-2]
	case len(w) > 3 && strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss"):
		return w[:len(w)-1]
	default:
		return w
	}
}

// esPlural reports whether base takes "es" in the plural (box, crash, church).
func esPlural(base string) bool {
	return strings.HasSuffix(base, "sh") || strings.HasSuffix(base, "ch") ||
		strings.HasSuffix(base, "x") || strings.HasSuffix(base, "z") || strings.HasSuffix(base, "ss")
}

// wordSet returns the stems of the words longer than two characters in an
// already normalized string.
func wordSet(normalized string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(normalized) {
		if utf8.RuneCountInString(w) <= 2 {
			continue
		}
		set[stem(w)] = struct{}{}
	}
	return set
}

// jaccard returns |a∩b| / |a∪b|, and 0 when both sets are empty.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// titleFeatures caches everything the similarity functions need from a title.
type titleFeatures struct {
	normalized string
	runes      int
	words      map[string]struct{}
	buckets    map[string]struct{}
}

func newTitleFeatures(title string) titleFeatures {
	n := normalizeText(title)
	f := titleFeatures{
		normalized: n,
		runes:      utf8.RuneCountInString(n),
		words:      wordSet(n),
		buckets:    make(map[string]struct{}),
	}
	for _, w := range strings.Fields(n) {
		if b, ok := bucketOf[stem(w)]; ok {
			f.buckets[b] = struct{}{}
		}
	}
	return f
}

// TitleSimilarity scores two titles in [0, 1]: 1 for an exact normalized
// match, otherwise the larger of length-penalized containment and word
// Jaccard over stems of words longer than two characters.
func TitleSimilarity(a, b string) float64 {
	return titleSimilarity(newTitleFeatures(a), newTitleFeatures(b))
}

func titleSimilarity(a, b titleFeatures) float64 {
	if a.normalized == "" || b.normalized == "" {
		return 0
	}
	if a.normalized == b.normalized {
		return 1
	}

	best := 0.0
	shorter, longer := a, b
	if shorter.runes > longer.runes {
		shorter, longer = longer, shorter
	}
	if strings.Contains(longer.normalized, shorter.normalized) {
		best = 0.8 + 0.2*float64(shorter.runes)/float64(longer.runes)
	}
	if j := jaccard(a.words, b.words); j > best {
		best = j
	}
	return best
}

func shareBucket(a, b titleFeatures) bool {
	for k := range a.buckets {
		if _, ok := b.buckets[k]; ok {
			return true
		}
	}
	return false
}
