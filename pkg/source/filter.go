package source

import "strings"

// DefaultKeywords is the base set used to keep trending items on topic.
var DefaultKeywords = []string{
	"artificial intelligence", "machine learning", "deep learning",
	"neural network", "LLM", "large language model", "GPT",
	"transformer", "diffusion", "computer vision", "NLP",
	"generative AI", "genai", "reinforcement learning", "fine-tuning",
	"RAG", "retrieval augmented", "vector database", "embedding",
	"inference", "AI agent", "agentic", "foundation model",
	"llama", "mistral", "gemini", "openai", "anthropic", "claude",
	"hugging face", "pytorch", "tensorflow", "MLOps",
	"drug discovery", "bioinformatics", "multimodal",
	"AI coding", "code generation", "AI assistant", "explainability",
}

// Filter matches text against include and exclude keyword lists.
type Filter struct {
	keywords []string
	exclude  []string
}

// NewFilter creates a filter with the default keywords plus extras.
func NewFilter(extraKeywords, excludeKeywords []string) *Filter {
	return &Filter{
		keywords: lowerAll(DefaultKeywords, extraKeywords),
		exclude:  lowerAll(excludeKeywords),
	}
}

func lowerAll(lists ...[]string) []string {
	var out []string
	for _, l := range lists {
		for _, kw := range l {
			if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
				out = append(out, kw)
			}
		}
	}
	return out
}

// Match reports whether text contains a keyword and no excluded term.
// Keywords are matched on word boundaries, allowing a plural "s", so "RAG"
// does not match "storage" but "LLM" matches "LLMs".
func (f *Filter) Match(text string) bool {
	lower := " " + strings.ToLower(text) + " "

	for _, ex := range f.exclude {
		if strings.Contains(lower, ex) {
			return false
		}
	}
	for _, kw := range f.keywords {
		if containsWord(lower, kw) {
			return true
		}
	}
	return false
}

func containsWord(s, word string) bool {
	for i := 0; ; {
		j := strings.Index(s[i:], word)
		if j < 0 {
			return false
		}
		start := i + j
		end := start + len(word)
		if end < len(s) && s[end] == 's' {
			end++
		}
		if !isWordByte(s[start-1]) && (end >= len(s) || !isWordByte(s[end])) {
			return true
		}
		i = start + 1
	}
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9'
}
