package models

// DefaultConfidenceThreshold is the minimum confidence for a classified intent
const DefaultConfidenceThreshold = 0.6

// MaxClassifiedIntents caps the ranked classification result
const MaxClassifiedIntents = 3

// Intent is a category of prospect reply that may trigger an auto-response
type Intent struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Keywords    []string `json:"keywords" yaml:"keywords"`
	Threshold   float64  `json:"threshold" yaml:"threshold"`
	AutoRespond bool     `json:"auto_respond" yaml:"auto_respond"`
	TemplateIDs []string `json:"template_ids" yaml:"templates"`
	Default     bool     `json:"default,omitempty" yaml:"default"` // used when nothing else matches
}

// IntentMatch is one ranked entry of a classification
type IntentMatch struct {
	Intent        Intent   `json:"intent"`
	Confidence    float64  `json:"confidence"`
	Reasoning     string   `json:"reasoning"`
	KeywordsFound []string `json:"keywords_found,omitempty"`
}

// ClassificationResult is the ranked intent list for one message
type ClassificationResult struct {
	Matches  []IntentMatch `json:"matches"`
	Fallback bool          `json:"fallback"` // produced by keyword scoring
}

// Top returns the highest ranked match
func (r ClassificationResult) Top() (IntentMatch, bool) {
	if len(r.Matches) == 0 {
		return IntentMatch{}, false
	}
	return r.Matches[0], true
}

// AutoRespond reports whether any matched intent allows an automatic reply
func (r ClassificationResult) AutoRespond() bool {
	for _, m := range r.Matches {
		if m.Intent.AutoRespond {
			return true
		}
	}
	return false
}

// Names returns the matched intent names in rank order
func (r ClassificationResult) Names() []string {
	names := make([]string, 0, len(r.Matches))
	for _, m := range r.Matches {
		names = append(names, m.Intent.Name)
	}
	return names
}

// Template is a reply or follow-up body with {{placeholders}}
type Template struct {
	ID       string   `json:"id" yaml:"id"`
	Name     string   `json:"name" yaml:"name"`
	Intent   string   `json:"intent,omitempty" yaml:"intent"`
	Subject  string   `json:"subject" yaml:"subject"`
	Body     string   `json:"body" yaml:"body"`
	Keywords []string `json:"keywords,omitempty" yaml:"keywords"`
	Generic  bool     `json:"generic,omitempty" yaml:"generic"` // generic auto-response
	Priority int      `json:"priority,omitempty" yaml:"priority"`
}

// KnowledgeSnippet is a piece of product knowledge offered to the LLM
type KnowledgeSnippet struct {
	Title    string   `json:"title" yaml:"title"`
	Content  string   `json:"content" yaml:"content"`
	Keywords []string `json:"keywords" yaml:"keywords"`
}
