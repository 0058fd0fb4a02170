package source

import (
	"sort"
	"time"

	"github.com/elonfeng/postagent/pkg/similarity"
)

// Ranking weights. Freshness takes the place of score velocity since items
// are not snapshotted between runs.
const (
	crossSourceWeight = 0.5
	freshnessWeight   = 0.3
	absoluteWeight    = 0.2

	clusterThreshold = 0.3
)

// scoreScale is the native score treated as "very popular" per source.
// Sources without a popularity signal are absent and normalise to zero.
var scoreScale = map[SourceType]float64{
	SourceHackerNews: 500,
	SourceGitHub:     100,
}

// Cluster groups items from possibly different sources that talk about the
// same thing.
type Cluster struct {
	Topic   string
	Items   []Item
	Sources map[SourceType]bool
	Score   float64
}

// NormalizeScore maps a native score to 0-100 for its source.
func NormalizeScore(score int, src SourceType) float64 {
	scale, ok := scoreScale[src]
	if !ok || scale == 0 || score <= 0 {
		return 0
	}
	return min(float64(score)/scale, 1) * 100
}

// Rank clusters items by title overlap and orders the clusters by a weighted
// mix of cross-source coverage, freshness and popularity. Items earlier in
// the input win ties.
func Rank(items []Item, now time.Time) []Cluster {
	clusters := clusterItems(items)
	for i := range clusters {
		clusters[i].Score = scoreCluster(clusters[i], now)
	}
	sort.SliceStable(clusters, func(a, b int) bool { return clusters[a].Score > clusters[b].Score })
	return clusters
}

func clusterItems(items []Item) []Cluster {
	n := len(items)
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}

	tokens := make([][]string, n)
	for i, item := range items {
		tokens[i] = similarity.Tokenize(item.Title)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if jaccard(tokens[i], tokens[j]) >= clusterThreshold {
				if pi, pj := find(i), find(j); pi != pj {
					// Keep the earliest index as root so cluster order follows input order.
					parent[max(pi, pj)] = min(pi, pj)
				}
			}
		}
	}

	index := make(map[int]int)
	var clusters []Cluster
	for i, item := range items {
		root := find(i)
		ci, ok := index[root]
		if !ok {
			ci = len(clusters)
			index[root] = ci
			clusters = append(clusters, Cluster{Sources: make(map[SourceType]bool)})
		}
		c := &clusters[ci]
		c.Items = append(c.Items, item)
		c.Sources[item.Source] = true
	}

	for i := range clusters {
		best := clusters[i].Items[0]
		for _, item := range clusters[i].Items[1:] {
			if NormalizeScore(item.Score, item.Source) > NormalizeScore(best.Score, best.Source) {
				best = item
			}
		}
		clusters[i].Topic = best.Title
	}
	return clusters
}

func scoreCluster(c Cluster, now time.Time) float64 {
	cross := min(float64(len(c.Sources))*20, 100)

	fresh, absolute := 0.0, 0.0
	for _, item := range c.Items {
		if !item.PublishedAt.IsZero() {
			age := now.Sub(item.PublishedAt)
			if f := 100 * (1 - age.Hours()/24); f > fresh {
				fresh = min(f, 100)
			}
		}
		absolute += NormalizeScore(item.Score, item.Source)
	}
	absolute /= float64(len(c.Items))

	return cross*crossSourceWeight + fresh*freshnessWeight + absolute*absoluteWeight
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[string]bool, len(a))
	for _, t := range a {
		setA[t] = true
	}
	setB := make(map[string]bool, len(b))
	for _, t := range b {
		setB[t] = true
	}

	inter := 0
	for t := range setA {
		if setB[t] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
