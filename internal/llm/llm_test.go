package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
	"unicode/utf8"
)

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   string
		wantOK bool
	}{
		{
			name:   "bare object",
			input:  `{"a":1}`,
			want:   `{"a":1}`,
			wantOK: true,
		},
		{
			name:   "surrounded by prose",
			input:  "Sure! Here is the result:\n{\"intents\":[{\"name\":\"Pricing\"}]}\nHope that helps.",
			want:   `{"intents":[{"name":"Pricing"}]}`,
			wantOK: true,
		},
		{
			name:   "code fence",
			input:  "```json\n{\"x\": {\"y\": 2}}\n```",
			want:   `{"x": {"y": 2}}`,
			wantOK: true,
		},
		{
			name:   "braces inside strings",
			input:  `{"reasoning":"uses } and { chars","ok":true} trailing`,
			want:   `{"reasoning":"uses } and { chars","ok":true}`,
			wantOK: true,
		},
		{
			name:   "escaped quote",
			input:  `{"r":"say \"hi}\""}`,
			want:   `{"r":"say \"hi}\""}`,
			wantOK: true,
		},
		{
			name:   "first object only",
			input:  `{"a":1} {"b":2}`,
			want:   `{"a":1}`,
			wantOK: true,
		},
		{
			name:   "unbalanced",
			input:  `{"a":1`,
			wantOK: false,
		},
		{
			name:   "no object",
			input:  "I cannot answer that.",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractJSONObject(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("ExtractJSONObject() ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("ExtractJSONObject() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name  string
		input string
		n     int
		want  string
	}{
		{"short", "hello", 10, "hello"},
		{"ascii", "hello world", 5, "hello"},
		{"inside two-byte rune", "caf\u00e9s", 4, "caf"},
		{"after two-byte rune", "caf\u00e9s", 5, "caf\u00e9"},
		{"inside three-byte rune", "a\u20acb", 3, "a"},
		{"zero", "abc", 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Truncate(tt.input, tt.n)
			if got != tt.want {
				t.Errorf("Truncate(%q, %d) = %q, want %q", tt.input, tt.n, got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("Truncate(%q, %d) = %q is not valid UTF-8", tt.input, tt.n, got)
			}
		})
	}
}

func TestServiceError(t *testing.T) {
	inner := errors.New("boom")
	err := fmt.Errorf("classify: %w", &ServiceError{Kind: KindTimeout, Err: inner})

	if !IsServiceError(err) {
		t.Error("IsServiceError() = false, want true")
	}
	if !errors.Is(err, inner) {
		t.Error("errors.Is() should reach the wrapped error")
	}
	if IsServiceError(inner) {
		t.Error("IsServiceError() = true for plain error")
	}
}

func TestDisabled(t *testing.T) {
	_, err := Disabled{}.Complete(context.Background(), Request{User: "hi"})
	if !IsServiceError(err) {
		t.Errorf("Disabled.Complete() error = %v, want ServiceError", err)
	}
}

func TestOpenAIClient_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"  yes  "},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	client := NewOpenAIClient(Config{APIKey: "test-key", BaseURL: srv.URL, Model: "test", Timeout: 5 * time.Second})
	got, err := client.Complete(context.Background(), Request{System: "s", User: "u", Temperature: 0.1, MaxTokens: 5})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got != "yes" {
		t.Errorf("Complete() = %q, want %q", got, "yes")
	}

	bad := NewOpenAIClient(Config{APIKey: "wrong", BaseURL: srv.URL, Model: "test", Timeout: 5 * time.Second})
	_, err = bad.Complete(context.Background(), Request{User: "u"})
	var se *ServiceError
	if !errors.As(err, &se) {
		t.Fatalf("Complete() error = %v, want ServiceError", err)
	}
	if se.Kind != KindAuth {
		t.Errorf("ServiceError.Kind = %s, want %s", se.Kind, KindAuth)
	}
}

func TestOpenAIClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	client := NewOpenAIClient(Config{APIKey: "k", BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	_, err := client.Complete(context.Background(), Request{User: "u"})
	if !IsServiceError(err) {
		t.Fatalf("Complete() error = %v, want ServiceError", err)
	}
}
