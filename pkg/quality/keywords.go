package quality

import (
	"sort"
	"strings"

	"github.com/elonfeng/postagent/pkg/similarity"
)

// ExtractKeywords returns the topK most frequent significant words across
// texts. Ties keep first-occurrence order.
func ExtractKeywords(texts []string, topK int) []string {
	freq := make(map[string]int)
	var order []string
	for _, t := range texts {
		for _, tok := range similarity.Tokenize(t) {
			if freq[tok] == 0 {
				order = append(order, tok)
			}
			freq[tok]++
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		return freq[order[i]] > freq[order[j]]
	})
	if len(order) > topK {
		order = order[:topK]
	}
	return order
}

// MapHashtags picks niche tags that overlap a keyword, then tops up with broad
// tags, returning at most limit tags.
func MapHashtags(keywords, broad, niche []string, limit int) []string {
	if len(broad) == 0 {
		broad = DefaultBroadHashtags
	}
	if len(niche) == 0 {
		niche = DefaultNicheHashtags
	}

	picked := make([]string, 0, limit)
	has := make(map[string]bool)
	add := func(tag string) {
		key := normalizeTag(tag)
		if has[key] || len(picked) >= limit {
			return
		}
		has[key] = true
		picked = append(picked, displayTag(tag))
	}

	for _, kw := range keywords {
		kw = strings.ToLower(kw)
		if kw == "" {
			continue
		}
		for _, tag := range niche {
			bare := strings.TrimPrefix(normalizeTag(tag), "#")
			if strings.Contains(bare, kw) || strings.Contains(kw, bare) {
				add(tag)
				break
			}
		}
	}
	for _, tag := range broad {
		add(tag)
	}
	return picked
}

// displayTag restores readable casing for the bundled lowercase banks.
func displayTag(tag string) string {
	if d, ok := tagDisplay[normalizeTag(tag)]; ok {
		return d
	}
	return "#" + strings.TrimPrefix(strings.TrimSpace(tag), "#")
}

var tagDisplay = map[string]string{
	"#ai":                   "#AI",
	"#machinelearning":      "#MachineLearning",
	"#datascience":          "#DataScience",
	"#deeplearning":         "#DeepLearning",
	"#python":               "#Python",
	"#neuralnetworks":       "#NeuralNetworks",
	"#bigdata":              "#BigData",
	"#tech":                 "#Tech",
	"#innovation":           "#Innovation",
	"#bioinformatics":       "#Bioinformatics",
	"#drugdiscovery":        "#DrugDiscovery",
	"#gans":                 "#GANs",
	"#mlops":                "#MLOps",
	"#computationalbiology": "#ComputationalBiology",
	"#molecularmodeling":    "#MolecularModeling",
	"#healthcare":           "#Healthcare",
	"#generativeai":         "#GenerativeAI",
	"#moleculardesign":      "#MolecularDesign",
	"#airesearch":           "#AIResearch",
}
