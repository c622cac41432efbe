package response

import (
	"context"
	"errors"
	"testing"

	"github.com/foxzi/outreach/internal/llm"
	"github.com/foxzi/outreach/internal/models"
)

const goodReply = "Hi Maria,\n\n" +
	"Thank you for the quick reply. Northwind sounds like a great fit: we work with several logistics teams " +
	"on route planning and I would be happy to share pricing details.\n\n" +
	"Let me know a good time to talk.\n\n" +
	"Best regards,\nAlex"

func TestVerifier_Monotonicity(t *testing.T) {
	v := NewVerifier()
	p := testProspect()

	good := v.Verify(context.Background(), VerifyInput{Content: goodReply, Prospect: p})
	if good.Scores.Personalization < 0.7 {
		t.Errorf("personalization = %v, want >= 0.7", good.Scores.Personalization)
	}
	if good.Scores.ContentQuality < 0.5 {
		t.Errorf("content_quality = %v, want >= 0.5", good.Scores.ContentQuality)
	}

	bad := v.Verify(context.Background(), VerifyInput{Content: "Ok", Prospect: p})
	if bad.Scores.ContentQuality >= 0.3 {
		t.Errorf("one-word content_quality = %v, want < 0.3", bad.Scores.ContentQuality)
	}
	if bad.OverallScore >= good.OverallScore {
		t.Errorf("one-word overall %v >= good overall %v", bad.OverallScore, good.OverallScore)
	}
}

func TestVerifier_Verdicts(t *testing.T) {
	msg := &models.RawMessage{MessageID: "<m1@acme>", Subject: "Quick question", Body: "Can you send pricing?"}
	cls := models.ClassificationResult{Matches: []models.IntentMatch{{Intent: models.Intent{Name: "Pricing"}, Confidence: 0.9}}}

	tests := []struct {
		name       string
		client     llm.Client
		content    string
		wantStatus models.VerificationStatus
	}{
		{
			name:       "approved with strong llm scores",
			client:     &fakeLLM{answer: `{"score": 0.9, "reason": "on point"}`},
			content:    goodReply,
			wantStatus: models.VerificationApproved,
		},
		{
			name:       "needs review when llm is unavailable",
			client:     &fakeLLM{err: &llm.ServiceError{Kind: llm.KindUnavailable, Err: errors.New("down")}},
			content:    goodReply,
			wantStatus: models.VerificationNeedsReview,
		},
		{
			name:       "rejected for a one-word reply",
			client:     nil,
			content:    "Ok",
			wantStatus: models.VerificationRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opts []VerifierOption
			if tt.client != nil {
				opts = append(opts, WithVerifierLLM(tt.client, 0))
			}
			v := NewVerifier(opts...)
			rec := v.Verify(context.Background(), VerifyInput{
				Subject:        "Re: Quick question",
				Content:        tt.content,
				Message:        msg,
				Classification: cls,
				Prospect:       testProspect(),
			})

			if rec.Status != tt.wantStatus {
				t.Errorf("Status = %s, want %s (overall %v, scores %+v)", rec.Status, tt.wantStatus, rec.OverallScore, rec.Scores)
			}
			if rec.MessageID != "<m1@acme>" || rec.ProspectID != "p1" {
				t.Errorf("record ids = %q/%q", rec.MessageID, rec.ProspectID)
			}
			if rec.Status == models.VerificationApproved && rec.SuggestedChanges != "" {
				t.Errorf("approved record has suggestions: %q", rec.SuggestedChanges)
			}
			if rec.Status != models.VerificationApproved && rec.SuggestedChanges == "" {
				t.Error("non-approved record has no suggestions")
			}
		})
	}
}

func TestVerifier_FallbackScores(t *testing.T) {
	var axes []string
	v := NewVerifier(
		WithVerifierLLM(&fakeLLM{answer: "I would rate it highly"}, 0),
		WithVerifierFallbackHook(func(axis string) { axes = append(axes, axis) }),
	)
	rec := v.Verify(context.Background(), VerifyInput{
		Content:        goodReply,
		Message:        &models.RawMessage{Body: "pricing?"},
		Classification: models.ClassificationResult{Matches: []models.IntentMatch{{Intent: models.Intent{Name: "Pricing"}}}},
		Prospect:       testProspect(),
	})
	if rec.Scores.ContextAlignment != 0.5 || rec.Scores.IntentAccuracy != 0.5 {
		t.Errorf("llm axes = %v/%v, want 0.5/0.5", rec.Scores.ContextAlignment, rec.Scores.IntentAccuracy)
	}
	if len(axes) != 2 {
		t.Errorf("fallback axes = %v, want 2 entries", axes)
	}
}

func TestVerdictUsesExactOverall(t *testing.T) {
	tests := []struct {
		name   string
		scores models.Scores
		want   models.VerificationStatus
	}{
		{
			name:   "just below approval",
			scores: models.Scores{ContextAlignment: 0.71, IntentAccuracy: 0.70, ContentQuality: 1, Personalization: 0.5, Tone: 0.8},
			want:   models.VerificationNeedsReview,
		},
		{
			name:   "above approval",
			scores: models.Scores{ContextAlignment: 1, IntentAccuracy: 1, ContentQuality: 0.6, Personalization: 0.6, Tone: 0.6},
			want:   models.VerificationApproved,
		},
		{
			name:   "just below review",
			scores: models.Scores{ContextAlignment: 0.49, IntentAccuracy: 0.49, ContentQuality: 0.5, Personalization: 0.5, Tone: 0.5},
			want:   models.VerificationRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := verdict(tt.scores)
			if rec.Status != tt.want {
				t.Errorf("Status = %s, want %s (exact overall %v)", rec.Status, tt.want, tt.scores.Overall())
			}
		})
	}

	rec := verdict(models.Scores{ContextAlignment: 0.71, IntentAccuracy: 0.70, ContentQuality: 1, Personalization: 0.5, Tone: 0.8})
	if rec.OverallScore != 0.75 {
		t.Errorf("stored OverallScore = %v, want 0.75", rec.OverallScore)
	}
	if rec.SuggestedChanges == "" {
		t.Error("needs_review record has no suggestions")
	}
}

func TestOverallWeights(t *testing.T) {
	s := models.Scores{ContextAlignment: 1, IntentAccuracy: 0, ContentQuality: 0, Personalization: 0, Tone: 0}
	if got := s.Overall(); got != 0.25 {
		t.Errorf("Overall() = %v, want 0.25", got)
	}
	s = models.Scores{ContextAlignment: 1, IntentAccuracy: 1, ContentQuality: 1, Personalization: 1, Tone: 1}
	if got := round2(s.Overall()); got != 1 {
		t.Errorf("Overall() = %v, want 1", got)
	}
}

func TestTone(t *testing.T) {
	tests := []struct {
		name    string
		content string
		min     float64
		max     float64
	}{
		{"neutral", "See attached.", 0.7, 0.7},
		{"professional", "Thank you, happy to help. Let me know. Best regards", 1, 1},
		{"unprofessional", "yo dude this is gonna be great lol", 0, 0.2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := round2(Tone(tt.content))
			if got < tt.min || got > tt.max {
				t.Errorf("Tone() = %v, want in [%v, %v]", got, tt.min, tt.max)
			}
		})
	}
}

func TestParseScore(t *testing.T) {
	tests := []struct {
		in     string
		want   float64
		wantOK bool
	}{
		{`{"score": 0.75}`, 0.75, true},
		{"0.8", 0.8, true},
		{"Score: 8/10", 0, false},
		{"great", 0, false},
		{`{"score": 1.4}`, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := parseScore(tt.in)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("parseScore(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
