package textsim

import (
	"regexp"
	"sort"
	"strings"

	"github.com/texttheater/golang-levenshtein/levenshtein"
)

// DefaultClusterThreshold is the similarity threshold used for grouping
// free-text failure descriptions when no explicit threshold is configured.
const DefaultClusterThreshold = 0.75

var (
	whitespaceRuns = regexp.MustCompile(`\s+`)
	// Thai script, ASCII letters, digits and whitespace survive normalization
	disallowedChars = regexp.MustCompile(`[^\x{0E00}-\x{0E7F}a-zA-Z0-9\s]`)
	tokenPattern    = regexp.MustCompile(`[\x{0E00}-\x{0E7F}]+|[a-zA-Z0-9]+`)
)

// Cluster groups near-duplicate free-text phrases under a representative
type Cluster struct {
	Representative string   `json:"representative"`
	Variants       []string `json:"variants"`
	Indices        []int    `json:"indices"`
}

// Match is a ranked similarity hit from FindSimilar
type Match struct {
	Text       string  `json:"text"`
	Similarity float64 `json:"similarity"`
	Index      int     `json:"index"`
}

// Engine provides fuzzy matching over repair-log free text. Technicians
// describe the same fault in many spellings; exact-string grouping would
// undercount true variants.
type Engine struct{}

// NewEngine creates a text similarity engine
func NewEngine() *Engine {
	return &Engine{}
}

// Normalize lowercases, strips every character that is not Thai script, an
// ASCII letter, a digit or whitespace, then collapses whitespace runs and
// trims. Stripping before collapsing keeps the result idempotent: a stripped
// character between spaces must not leave a double space behind.
func (e *Engine) Normalize(text string) string {
	if text == "" {
		return ""
	}
	s := strings.ToLower(text)
	s = disallowedChars.ReplaceAllString(s, "")
	s = whitespaceRuns.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Tokenize splits normalized text into Thai and Latin/digit runs
func (e *Engine) Tokenize(text string) []string {
	return tokenPattern.FindAllString(e.Normalize(text), -1)
}

// Similarity returns a score in [0,1] based on normalized edit distance.
// Identical normalized forms score exactly 1.0 without computing a distance;
// if exactly one side normalizes to empty the score is 0.
func (e *Engine) Similarity(a, b string) float64 {
	na := e.Normalize(a)
	nb := e.Normalize(b)

	if na == nb {
		return 1.0
	}
	if na == "" || nb == "" {
		return 0
	}

	ra := []rune(na)
	rb := []rune(nb)
	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}

	dist := levenshtein.DistanceForStrings(ra, rb, levenshtein.DefaultOptions)
	return 1.0 - float64(dist)/float64(maxLen)
}

// FindSimilar returns all texts whose similarity to target meets the
// threshold, sorted by descending similarity
func (e *Engine) FindSimilar(target string, texts []string, threshold float64) []Match {
	var matches []Match
	for i, text := range texts {
		sim := e.Similarity(target, text)
		if sim >= threshold {
			matches = append(matches, Match{Text: text, Similarity: sim, Index: i})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	return matches
}

// ClusterSimilarTexts groups texts with a single greedy pass: each
// not-yet-assigned text opens a cluster as its representative, then absorbs
// every later unassigned text whose similarity to that representative meets
// the threshold. Order-dependent at the threshold boundary; the first-seen
// representative is kept for import compatibility.
func (e *Engine) ClusterSimilarTexts(texts []string, threshold float64) []Cluster {
	clusters := make([]Cluster, 0)
	assigned := make([]bool, len(texts))

	for i := range texts {
		if assigned[i] {
			continue
		}

		cluster := Cluster{
			Representative: texts[i],
			Variants:       []string{texts[i]},
			Indices:        []int{i},
		}

		for j := i + 1; j < len(texts); j++ {
			if assigned[j] {
				continue
			}
			if e.Similarity(texts[i], texts[j]) >= threshold {
				cluster.Variants = append(cluster.Variants, texts[j])
				cluster.Indices = append(cluster.Indices, j)
				assigned[j] = true
			}
		}

		assigned[i] = true
		clusters = append(clusters, cluster)
	}

	return clusters
}

// FindRepresentative picks the text with the highest total similarity to the
// rest of the list. Not used by the batch import path, which keeps the
// first-seen representative.
func (e *Engine) FindRepresentative(texts []string) string {
	if len(texts) == 0 {
		return ""
	}
	if len(texts) == 1 {
		return texts[0]
	}

	best := texts[0]
	bestScore := 0.0
	for _, a := range texts {
		score := 0.0
		for _, b := range texts {
			if a != b {
				score += e.Similarity(a, b)
			}
		}
		if score > bestScore {
			bestScore = score
			best = a
		}
	}
	return best
}
