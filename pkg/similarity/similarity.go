package similarity

import (
	"context"
	"fmt"
	"math"

	"github.com/elonfeng/postagent/internal/store"
)

// DefaultThreshold is the similarity above which a candidate is a duplicate.
const DefaultThreshold = 0.8

// History supplies the recent-post window.
type History interface {
	RecentPosts(ctx context.Context, limit int) ([]store.Post, error)
}

// Match is the result of a duplicate check.
type Match struct {
	Duplicate bool
	Score     float64
	// Post is the most similar post in the window, nil when the window is
	// empty or nothing scored above zero.
	Post *store.Post
}

// Engine checks candidates against the most recent posts.
type Engine struct {
	history   History
	window    int
	threshold float64
}

// NewEngine creates an engine comparing against the window most recent posts.
func NewEngine(h History, window int, threshold float64) *Engine {
	if window <= 0 {
		window = 30
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Engine{history: h, window: window, threshold: threshold}
}

// Threshold returns the configured duplicate threshold.
func (e *Engine) Threshold() float64 { return e.threshold }

// IsDuplicate scores text against the window. It is a duplicate iff the best
// score is strictly greater than the threshold.
func (e *Engine) IsDuplicate(ctx context.Context, text string) (Match, error) {
	posts, err := e.history.RecentPosts(ctx, e.window)
	if err != nil {
		return Match{}, fmt.Errorf("load history window: %w", err)
	}

	docs := make([]string, len(posts))
	for i := range posts {
		docs[i] = posts[i].Body
	}

	score, idx := MaxSimilarity(text, docs)
	m := Match{Score: score, Duplicate: score > e.threshold}
	if idx >= 0 && score > 0 {
		m.Post = &posts[idx]
	}
	return m, nil
}

// MaxSimilarity returns the highest cosine similarity between candidate and
// any of docs, and the index of the first doc reaching it. The index is -1
// when docs is empty. TF-IDF statistics are built from candidate plus docs
// on every call.
func MaxSimilarity(candidate string, docs []string) (float64, int) {
	if len(docs) == 0 {
		return 0, -1
	}

	corpus := make([][]string, 0, len(docs)+1)
	corpus = append(corpus, Tokenize(candidate))
	for _, d := range docs {
		corpus = append(corpus, Tokenize(d))
	}
	vecs := vectorize(corpus)

	best, bestIdx := 0.0, 0
	for i := 1; i < len(vecs); i++ {
		s := dot(vecs[0], vecs[i])
		if s > best {
			best, bestIdx = s, i-1
		}
	}
	return clamp01(best), bestIdx
}

// Cosine returns the TF-IDF cosine similarity of two texts, using the pair
// itself as the corpus.
func Cosine(a, b string) float64 {
	vecs := vectorize([][]string{Tokenize(a), Tokenize(b)})
	return clamp01(dot(vecs[0], vecs[1]))
}

type vector map[string]float64

// vectorize builds L2-normalised TF-IDF vectors using raw term counts and
// smooth idf: ln((1+n)/(1+df)) + 1. Empty documents yield empty vectors.
func vectorize(corpus [][]string) []vector {
	n := float64(len(corpus))

	df := make(map[string]int)
	counts := make([]map[string]int, len(corpus))
	for i, toks := range corpus {
		counts[i] = make(map[string]int)
		for _, t := range toks {
			counts[i][t]++
		}
		for t := range counts[i] {
			df[t]++
		}
	}

	vecs := make([]vector, len(corpus))
	for i, tf := range counts {
		v := make(vector, len(tf))
		var norm float64
		for t, c := range tf {
			w := float64(c) * (math.Log((1+n)/(1+float64(df[t]))) + 1)
			v[t] = w
			norm += w * w
		}
		if norm > 0 {
			norm = math.Sqrt(norm)
			for t := range v {
				v[t] /= norm
			}
		}
		vecs[i] = v
	}
	return vecs
}

func dot(a, b vector) float64 {
	if len(a) > len(b) {
		a, b = b, a
	}
	var s float64
	for t, w := range a {
		s += w * b[t]
	}
	return s
}

func clamp01(x float64) float64 {
	switch {
	case x < 0:
		return 0
	case x > 1:
		return 1
	}
	return x
}
