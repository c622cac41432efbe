package intent

import (
	"fmt"
	"strings"

	"github.com/foxzi/outreach/internal/llm"
	"github.com/foxzi/outreach/internal/models"
)

const systemPrompt = `You classify replies to sales outreach emails into intents.
Respond with JSON only, in this shape:
{"intents": [{"name": "<intent name>", "confidence": 0.0-1.0, "reasoning": "<short>", "keywords_found": ["..."]}]}
Use only intent names from the provided list. Order by confidence, highest first.`

const maxPromptBody = 4000

func buildPrompt(subject, body string, intents []models.Intent) string {
	var sb strings.Builder
	sb.WriteString("Intents:\n")
	for _, in := range intents {
		fmt.Fprintf(&sb, "- %s: %s", in.Name, in.Description)
		if len(in.Keywords) > 0 {
			fmt.Fprintf(&sb, " (keywords: %s)", strings.Join(in.Keywords, ", "))
		}
		sb.WriteString("\n")
	}

	body = llm.Truncate(body, maxPromptBody)
	fmt.Fprintf(&sb, "\nSubject: %s\n\nMessage:\n%s\n", subject, body)
	return sb.String()
}
