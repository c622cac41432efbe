package intent

import (
	"context"
	"errors"
	"testing"

	"github.com/foxzi/outreach/internal/llm"
	"github.com/foxzi/outreach/internal/models"
)

type fakeLLM struct {
	answer string
	err    error
}

func (f *fakeLLM) Complete(ctx context.Context, req llm.Request) (string, error) {
	return f.answer, f.err
}

func testIntents() []models.Intent {
	return []models.Intent{
		{
			Name:        "Pricing",
			Description: "Prospect asks about pricing, cost or plans",
			Keywords:    []string{"pricing", "price", "cost"},
			AutoRespond: true,
		},
		{
			Name:        "Meeting",
			Description: "Prospect wants to schedule a call or demo",
			Keywords:    []string{"call", "demo", "meeting", "calendar"},
			AutoRespond: true,
		},
		{
			Name:        "Unsubscribe",
			Description: "Prospect asks to stop receiving emails",
			Keywords:    []string{"unsubscribe", "remove me", "stop emailing"},
			Threshold:   0.8,
		},
	}
}

func TestFallback_Pricing(t *testing.T) {
	c := NewClassifier(WithLLM(&fakeLLM{err: &llm.ServiceError{Kind: llm.KindUnavailable, Err: errors.New("down")}}, 0))

	intents := []models.Intent{{Name: "Pricing", Keywords: []string{"pricing"}, AutoRespond: true}}
	got := c.Classify(context.Background(), "", "Can you send pricing?", intents)

	if !got.Fallback {
		t.Error("Classify() Fallback = false, want true")
	}
	top, ok := got.Top()
	if !ok {
		t.Fatal("Classify() returned no matches")
	}
	if top.Intent.Name != "Pricing" {
		t.Errorf("top intent = %s, want Pricing", top.Intent.Name)
	}
	if top.Confidence <= 0.3 {
		t.Errorf("top confidence = %v, want > 0.3", top.Confidence)
	}
	if len(top.KeywordsFound) != 1 || top.KeywordsFound[0] != "pricing" {
		t.Errorf("keywords found = %v, want [pricing]", top.KeywordsFound)
	}
}

func TestFallback(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantNames []string
	}{
		{
			name:      "single intent",
			body:      "What does it cost per seat? Is there a price list?",
			wantNames: []string{"Pricing"},
		},
		{
			name:      "two intents ranked",
			body:      "Happy to book a demo call, send a calendar invite for a meeting. Also pricing?",
			wantNames: []string{"Meeting", "Pricing"},
		},
		{
			name:      "nothing matches returns default",
			body:      "Thanks.",
			wantNames: []string{"general"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Fallback("", tt.body, testIntents())
			if len(got) != len(tt.wantNames) {
				t.Fatalf("Fallback() returned %d matches (%v), want %d", len(got), got, len(tt.wantNames))
			}
			for i, name := range tt.wantNames {
				if got[i].Intent.Name != name {
					t.Errorf("Fallback()[%d] = %s, want %s", i, got[i].Intent.Name, name)
				}
			}
			for i := 1; i < len(got); i++ {
				if got[i].Confidence > got[i-1].Confidence {
					t.Errorf("Fallback() not sorted: %v > %v", got[i].Confidence, got[i-1].Confidence)
				}
			}
		})
	}
}

func TestFallback_DefaultIntent(t *testing.T) {
	intents := append(testIntents(), models.Intent{Name: "Other", Default: true})
	got := Fallback("", "ok", intents)
	if len(got) != 1 || got[0].Intent.Name != "Other" {
		t.Fatalf("Fallback() = %v, want configured default", got)
	}
	if got[0].Confidence != defaultConfidence {
		t.Errorf("default confidence = %v, want %v", got[0].Confidence, defaultConfidence)
	}
}

func TestFallback_Cap(t *testing.T) {
	var intents []models.Intent
	for _, kw := range []string{"alpha", "beta", "gamma", "delta", "epsilon"} {
		intents = append(intents, models.Intent{Name: kw, Keywords: []string{kw}})
	}
	got := Fallback("", "alpha beta gamma delta epsilon", intents)
	if len(got) != models.MaxClassifiedIntents {
		t.Errorf("Fallback() returned %d matches, want %d", len(got), models.MaxClassifiedIntents)
	}
}

func TestClassify_LLM(t *testing.T) {
	tests := []struct {
		name         string
		answer       string
		wantNames    []string
		wantFallback bool
	}{
		{
			name:      "valid answer",
			answer:    `Here you go: {"intents":[{"name":"meeting","confidence":0.7,"reasoning":"asks for call"},{"name":"Pricing","confidence":0.9,"reasoning":"asks price"}]}`,
			wantNames: []string{"Pricing", "Meeting"},
		},
		{
			name:      "below threshold dropped",
			answer:    `{"intents":[{"name":"Pricing","confidence":0.95},{"name":"Meeting","confidence":0.4}]}`,
			wantNames: []string{"Pricing"},
		},
		{
			name:      "per-intent threshold",
			answer:    `{"intents":[{"name":"Unsubscribe","confidence":0.7}]}`,
			wantNames: []string{"general"},
		},
		{
			name:      "unknown intent ignored",
			answer:    `{"intents":[{"name":"Refund","confidence":0.9},{"name":"Pricing","confidence":0.8}]}`,
			wantNames: []string{"Pricing"},
		},
		{
			name:         "unparseable uses fallback",
			answer:       "I think this is about pricing.",
			wantNames:    []string{"Pricing"},
			wantFallback: true,
		},
		{
			name:         "missing field uses fallback",
			answer:       `{"result":"pricing"}`,
			wantNames:    []string{"Pricing"},
			wantFallback: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClassifier(WithLLM(&fakeLLM{answer: tt.answer}, 0))
			got := c.Classify(context.Background(), "Re: intro", "How much does the pricing start at?", testIntents())
			if got.Fallback != tt.wantFallback {
				t.Errorf("Classify() Fallback = %v, want %v", got.Fallback, tt.wantFallback)
			}
			names := got.Names()
			if len(names) != len(tt.wantNames) {
				t.Fatalf("Classify() = %v, want %v", names, tt.wantNames)
			}
			for i := range names {
				if names[i] != tt.wantNames[i] {
					t.Errorf("Classify()[%d] = %s, want %s", i, names[i], tt.wantNames[i])
				}
			}
		})
	}
}

func TestClassify_FallbackHook(t *testing.T) {
	var reasons []string
	c := NewClassifier(
		WithLLM(&fakeLLM{answer: "nope"}, 0),
		WithFallbackHook(func(reason string) { reasons = append(reasons, reason) }),
	)
	c.Classify(context.Background(), "", "pricing?", testIntents())
	if len(reasons) != 1 || reasons[0] != "parse failed" {
		t.Errorf("fallback reasons = %v, want [parse failed]", reasons)
	}
}

func TestParseResponse(t *testing.T) {
	switch r := ParseResponse(`{"intents":[{"name":"A","confidence":0.8},{"name":""}]}`).(type) {
	case ParsedOK:
		if len(r.Intents) != 1 || r.Intents[0].Name != "A" {
			t.Errorf("ParsedOK.Intents = %v", r.Intents)
		}
	default:
		t.Fatalf("ParseResponse() = %T, want ParsedOK", r)
	}

	switch r := ParseResponse(`{"intents": [broken`).(type) {
	case ParseFailed:
		if r.Raw == "" {
			t.Error("ParseFailed.Raw is empty")
		}
	default:
		t.Fatalf("ParseResponse() = %T, want ParseFailed", r)
	}

	if _, ok := ParseResponse(`{"intents":[]}`).(ParsedOK); !ok {
		t.Error("empty intents list should parse")
	}
}
