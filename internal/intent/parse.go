package intent

import (
	"encoding/json"
	"fmt"

	"github.com/foxzi/outreach/internal/llm"
)

// ParseResult is the outcome of parsing an LLM classification answer.
// It is either ParsedOK or ParseFailed.
type ParseResult interface {
	parseResult()
}

// ParsedIntent is one intent entry as reported by the LLM
type ParsedIntent struct {
	Name          string   `json:"name"`
	Confidence    float64  `json:"confidence"`
	Reasoning     string   `json:"reasoning"`
	KeywordsFound []string `json:"keywords_found"`
}

// ParsedOK carries the intents of a well-formed answer
type ParsedOK struct {
	Intents []ParsedIntent
}

// ParseFailed carries the raw answer that could not be understood
type ParseFailed struct {
	Raw    string
	Reason string
}

func (ParsedOK) parseResult()    {}
func (ParseFailed) parseResult() {}

type answer struct {
	Intents *[]ParsedIntent `json:"intents"`
}

// ParseResponse extracts the first JSON object from text and decodes it
// as {"intents": [...]}.
func ParseResponse(text string) ParseResult {
	obj, ok := llm.ExtractJSONObject(text)
	if !ok {
		return ParseFailed{Raw: text, Reason: "no json object"}
	}

	var a answer
	if err := json.Unmarshal([]byte(obj), &a); err != nil {
		return ParseFailed{Raw: text, Reason: fmt.Sprintf("decode: %v", err)}
	}
	if a.Intents == nil {
		return ParseFailed{Raw: text, Reason: "missing intents field"}
	}

	intents := make([]ParsedIntent, 0, len(*a.Intents))
	for _, pi := range *a.Intents {
		if pi.Name == "" {
			continue
		}
		intents = append(intents, pi)
	}
	return ParsedOK{Intents: intents}
}
