package quality

import (
	"math"
	"regexp"
	"strings"
)

// Heuristic composite weights.
const (
	weightDensity     = 0.30
	weightHashtags    = 0.25
	weightEngagement  = 0.30
	weightCleanliness = 0.15

	// ExternalWeight is the share of the external signal in the final score.
	ExternalWeight = 0.6
)

// DefaultMinScore is the default acceptance threshold.
const DefaultMinScore = 80

// Default hashtag banks used to judge broad/niche diversity.
var (
	DefaultBroadHashtags = []string{
		"#ai", "#machinelearning", "#datascience", "#deeplearning", "#python",
		"#neuralnetworks", "#bigdata", "#tech", "#innovation",
	}
	DefaultNicheHashtags = []string{
		"#bioinformatics", "#drugdiscovery", "#gans", "#mlops", "#computationalbiology",
		"#molecularmodeling", "#healthcare", "#generativeai", "#moleculardesign", "#airesearch",
	}
)

var (
	wordRe     = regexp.MustCompile(`\w+`)
	sentenceRe = regexp.MustCompile(`[.!?]+(\s+|$)`)
	paraRe     = regexp.MustCompile(`\n\s*\n`)
	hashtagRe  = regexp.MustCompile(`#\w+`)
)

// Input is a candidate to score.
type Input struct {
	Text     string
	Keywords []string
	Hashtags []string
	// External is an optional 0-100 assessment from the generator or a
	// separate review call.
	External *float64
}

// Result holds the final score and its parts, all in 0-100.
type Result struct {
	Final          float64  `json:"final"`
	Heuristic      float64  `json:"heuristic"`
	External       *float64 `json:"external,omitempty"`
	KeywordDensity float64  `json:"keyword_density"`
	Hashtags       float64  `json:"hashtags"`
	Engagement     float64  `json:"engagement"`
	Cleanliness    float64  `json:"cleanliness"`
	Issues         []string `json:"issues,omitempty"`
}

// Rounded returns Final as an integer score.
func (r Result) Rounded() int {
	return int(math.Round(r.Final))
}

// Scorer combines an external signal with local heuristics.
type Scorer struct {
	minScore float64
	broad    map[string]bool
	niche    map[string]bool
}

// NewScorer creates a scorer. Empty banks fall back to the defaults.
func NewScorer(minScore float64, broad, niche []string) *Scorer {
	if len(broad) == 0 {
		broad = DefaultBroadHashtags
	}
	if len(niche) == 0 {
		niche = DefaultNicheHashtags
	}
	return &Scorer{
		minScore: minScore,
		broad:    tagSet(broad),
		niche:    tagSet(niche),
	}
}

// MinScore returns the acceptance threshold.
func (s *Scorer) MinScore() float64 { return s.minScore }

// Passes reports whether score clears the threshold.
func (s *Scorer) Passes(score float64) bool {
	return score >= s.minScore
}

// Score computes the final score for in.
func (s *Scorer) Score(in Input) Result {
	r := Result{
		KeywordDensity: KeywordDensityScore(in.Text, in.Keywords),
		Hashtags:       s.HashtagScore(in.Hashtags),
		Engagement:     EngagementScore(in.Text),
		Cleanliness:    CleanlinessScore(in.Text),
	}
	r.Heuristic = weightDensity*r.KeywordDensity +
		weightHashtags*r.Hashtags +
		weightEngagement*r.Engagement +
		weightCleanliness*r.Cleanliness

	r.Final = r.Heuristic
	if in.External != nil {
		ext := clamp(*in.External, 0, 100)
		r.External = &ext
		r.Final = ExternalWeight*ext + (1-ExternalWeight)*r.Heuristic
	}
	r.Issues = Validate(in.Text, in.Hashtags)
	return r
}

// KeywordDensityScore is 100 when keyword words make up 2-5% of all words,
// rising linearly from 0 below the band and falling by 20 per point above it.
func KeywordDensityScore(text string, keywords []string) float64 {
	words := wordRe.FindAllString(strings.ToLower(text), -1)
	if len(words) == 0 {
		return 0
	}

	kw := make(map[string]bool)
	for _, k := range keywords {
		for _, w := range wordRe.FindAllString(strings.ToLower(k), -1) {
			kw[w] = true
		}
	}
	hits := 0
	for _, w := range words {
		if kw[w] {
			hits++
		}
	}

	d := float64(hits) / float64(len(words)) * 100
	switch {
	case d < 2:
		return d / 2 * 100
	case d <= 5:
		return 100
	default:
		return math.Max(0, 100-(d-5)*20)
	}
}

// HashtagScore weighs count (ideal 3-6), broad/niche diversity, uniqueness
// and the share of niche tags.
func (s *Scorer) HashtagScore(tags []string) float64 {
	if len(tags) == 0 {
		return 0
	}

	c := len(tags)
	count := 100.0
	if c < 3 || c > 6 {
		count = math.Max(0, 100-math.Abs(float64(c)-5)*20)
	}

	uniq := make(map[string]bool)
	broad, niche := 0, 0
	for _, t := range tags {
		t = normalizeTag(t)
		uniq[t] = true
		if s.broad[t] {
			broad++
		}
		if s.niche[t] {
			niche++
		}
	}

	var diversity float64
	switch {
	case broad > 0 && niche > 0:
		diversity = float64(min(broad, niche)) / float64(max(broad, niche)) * 100
	case broad > 0 || niche > 0:
		diversity = 50
	}
	uniqueness := float64(len(uniq)) / float64(c) * 100
	nicheRatio := float64(niche) / float64(c) * 100

	return 0.4*count + 0.25*diversity + 0.2*uniqueness + 0.15*nicheRatio
}

// EngagementScore rewards 12-20 word sentences, a question, lines of at most
// 150 characters and two to five paragraphs.
func EngagementScore(text string) float64 {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}

	var sentences []string
	for _, s := range sentenceRe.Split(text, -1) {
		if strings.TrimSpace(s) != "" {
			sentences = append(sentences, s)
		}
	}
	words := 0
	for _, s := range sentences {
		words += len(wordRe.FindAllString(s, -1))
	}
	avg := 0.0
	if len(sentences) > 0 {
		avg = float64(words) / float64(len(sentences))
	}
	length := 100.0
	if avg < 12 || avg > 20 {
		length = math.Max(0, 100-math.Abs(avg-16)*6)
	}

	question := 0.0
	if strings.Contains(text, "?") {
		question = 100
	}

	maxLine := 0
	for _, l := range strings.Split(text, "\n") {
		if n := len([]rune(strings.TrimSpace(l))); n > maxLine {
			maxLine = n
		}
	}
	scan := 100.0
	if maxLine > 150 {
		scan = math.Max(0, 100-float64(maxLine-150)*0.8)
	}

	paras := 0
	for _, p := range paraRe.Split(text, -1) {
		if strings.TrimSpace(p) != "" {
			paras++
		}
	}
	structure := 100.0
	switch {
	case paras < 2:
		structure = math.Max(0, 100-float64(2-paras)*50)
	case paras > 5:
		structure = math.Max(0, 100-float64(paras-5)*25)
	}

	return 0.35*length + 0.2*question + 0.2*scan + 0.25*structure
}

// CleanlinessScore is 0 if any formatting artifact remains, else 100.
func CleanlinessScore(text string) float64 {
	if len(Artifacts(text)) > 0 {
		return 0
	}
	return 100
}

// HashtagsIn returns the hashtags that appear in text, in order.
func HashtagsIn(text string) []string {
	return hashtagRe.FindAllString(text, -1)
}

func normalizeTag(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if !strings.HasPrefix(t, "#") {
		t = "#" + t
	}
	return t
}

func tagSet(tags []string) map[string]bool {
	m := make(map[string]bool, len(tags))
	for _, t := range tags {
		m[normalizeTag(t)] = true
	}
	return m
}

func clamp(x, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, x))
}
