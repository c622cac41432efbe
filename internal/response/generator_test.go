package response

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/foxzi/outreach/internal/llm"
	"github.com/foxzi/outreach/internal/models"
)

type fakeLLM struct {
	answer string
	err    error
	calls  int
	last   llm.Request
}

func (f *fakeLLM) Complete(ctx context.Context, req llm.Request) (string, error) {
	f.calls++
	f.last = req
	return f.answer, f.err
}

func testProspect() *models.Prospect {
	return &models.Prospect{
		ID:        "p1",
		FirstName: "Maria",
		LastName:  "Lopez",
		Email:     "maria@northwind.example",
		Company:   "Northwind",
		Industry:  "logistics",
		Title:     "VP Operations",
		Location:  "Austin",
	}
}

func testTemplates() []models.Template {
	return []models.Template{
		{ID: "pricing-basic", Intent: "Pricing", Body: "Hi {{first_name}}, plans start at $20 per seat.\n\n{{sender_name}}", Priority: 1},
		{ID: "pricing-enterprise", Intent: "Pricing", Keywords: []string{"enterprise"}, Body: "Hi {{first_name}}, enterprise plans for {{company}} are custom.\n\n{{sender_name}}"},
		{ID: "generic", Generic: true, Body: "Hi {{first_name}}, thanks for your note.\n\n{{sender_name}}"},
	}
}

func classification(intent models.Intent, conf float64) models.ClassificationResult {
	return models.ClassificationResult{Matches: []models.IntentMatch{{Intent: intent, Confidence: conf}}}
}

func TestGenerate_TemplateSelection(t *testing.T) {
	tests := []struct {
		name      string
		templates []models.Template
		intent    models.Intent
		body      string
		want      string
	}{
		{
			name:      "relevant intent template",
			templates: testTemplates(),
			intent:    models.Intent{Name: "Pricing"},
			body:      "What is your enterprise pricing?",
			want:      "pricing-enterprise",
		},
		{
			name:      "priority when no keyword matches",
			templates: testTemplates(),
			intent:    models.Intent{Name: "Pricing"},
			body:      "How much?",
			want:      "pricing-basic",
		},
		{
			name:      "explicit template reference",
			templates: testTemplates(),
			intent:    models.Intent{Name: "Discount", TemplateIDs: []string{"pricing-basic"}},
			body:      "Any discount?",
			want:      "pricing-basic",
		},
		{
			name:      "generic when intent has no template",
			templates: testTemplates(),
			intent:    models.Intent{Name: "Meeting"},
			body:      "Let's talk",
			want:      "generic",
		},
		{
			name:      "acknowledgment when nothing else exists",
			templates: testTemplates()[:2],
			intent:    models.Intent{Name: "Meeting"},
			body:      "Let's talk",
			want:      TemplateAcknowledgment,
		},
		{
			name:      "acknowledgment with no templates",
			templates: nil,
			intent:    models.Intent{Name: "Meeting"},
			body:      "Let's talk",
			want:      TemplateAcknowledgment,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGenerator(tt.templates)
			d := g.Generate(context.Background(), Input{
				Message:        &models.RawMessage{Subject: "Quick question", Body: tt.body},
				Classification: classification(tt.intent, 0.9),
				Prospect:       testProspect(),
				SenderName:     "Alex",
			})
			if d.TemplateUsed != tt.want {
				t.Errorf("TemplateUsed = %s, want %s", d.TemplateUsed, tt.want)
			}
			if d.Content == "" {
				t.Error("Content is empty")
			}
			if strings.Contains(d.Content, "{{first_name}}") || strings.Contains(d.Content, "{{sender_name}}") {
				t.Errorf("Content has unresolved placeholders: %q", d.Content)
			}
			if !strings.Contains(d.Content, "Maria") || !strings.Contains(d.Content, "Alex") {
				t.Errorf("Content not personalized: %q", d.Content)
			}
			if d.Subject != "Re: Quick question" {
				t.Errorf("Subject = %q, want %q", d.Subject, "Re: Quick question")
			}
		})
	}
}

func TestGenerate_Confidence(t *testing.T) {
	g := NewGenerator(nil)
	d := g.Generate(context.Background(), Input{
		Message:        &models.RawMessage{Subject: "Hi", Body: "Hello"},
		Classification: classification(models.Intent{Name: "Meeting"}, 0.8),
	})
	if d.Confidence >= 0.8 {
		t.Errorf("acknowledgment confidence = %v, want below intent confidence", d.Confidence)
	}
}

func TestGenerate_Enhancement(t *testing.T) {
	kb := NewKnowledgeBase([]models.KnowledgeSnippet{
		{Title: "Plans", Content: "Starter $20/seat, Team $35/seat", Keywords: []string{"pricing", "plans"}},
		{Title: "Security", Content: "SOC 2 Type II", Keywords: []string{"security"}},
	})
	in := Input{
		Message:        &models.RawMessage{Subject: "Quick question", Body: "Can you send pricing?"},
		Classification: classification(models.Intent{Name: "Pricing"}, 0.9),
		Prospect:       testProspect(),
		SenderName:     "Alex",
		History:        []models.Message{{Direction: models.DirectionSent, Content: "Intro email"}},
	}

	t.Run("success", func(t *testing.T) {
		fake := &fakeLLM{answer: "  Hi Maria, Starter is $20/seat.  "}
		g := NewGenerator(testTemplates(), WithEnhancement(fake, kb, 0))
		d := g.Generate(context.Background(), in)
		if !d.Enhanced {
			t.Error("Enhanced = false, want true")
		}
		if d.Content != "Hi Maria, Starter is $20/seat." {
			t.Errorf("Content = %q", d.Content)
		}
		if !strings.Contains(fake.last.User, "Starter $20/seat") {
			t.Error("prompt does not include relevant knowledge")
		}
		if strings.Contains(fake.last.User, "SOC 2") {
			t.Error("prompt includes irrelevant knowledge")
		}
	})

	t.Run("failure keeps draft", func(t *testing.T) {
		fake := &fakeLLM{err: &llm.ServiceError{Kind: llm.KindTimeout, Err: errors.New("deadline")}}
		var fallbacks int
		g := NewGenerator(testTemplates(),
			WithEnhancement(fake, kb, 0),
			WithGeneratorFallbackHook(func(string) { fallbacks++ }),
		)
		d := g.Generate(context.Background(), in)
		if d.Enhanced {
			t.Error("Enhanced = true, want false")
		}
		if d.TemplateUsed != "pricing-basic" {
			t.Errorf("TemplateUsed = %s, want pricing-basic", d.TemplateUsed)
		}
		if !strings.HasPrefix(d.Content, "Hi Maria, plans start at $20 per seat.") {
			t.Errorf("Content = %q, want templated draft", d.Content)
		}
		if fallbacks != 1 {
			t.Errorf("fallbacks = %d, want 1", fallbacks)
		}
	})
}

func TestKnowledgeBase_Relevant(t *testing.T) {
	kb := NewKnowledgeBase([]models.KnowledgeSnippet{
		{Title: "Plans", Keywords: []string{"pricing"}},
		{Title: "Pricing FAQ", Keywords: []string{"pricing", "discount"}},
		{Title: "Security", Keywords: []string{"soc"}},
	})

	got := kb.Relevant("Any discount on pricing?", 2)
	if len(got) != 2 {
		t.Fatalf("Relevant() returned %d snippets, want 2", len(got))
	}
	if got[0].Title != "Pricing FAQ" {
		t.Errorf("Relevant()[0] = %s, want Pricing FAQ", got[0].Title)
	}

	var nilKB *KnowledgeBase
	if nilKB.Relevant("pricing", 3) != nil {
		t.Error("nil knowledge base should return nothing")
	}
}
