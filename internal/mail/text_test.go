package mail

import (
	"strings"
	"testing"
)

func TestTrimQuoted(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "no quote",
			body: "Sounds good, let's talk Tuesday.",
			want: "Sounds good, let's talk Tuesday.",
		},
		{
			name: "gmail attribution",
			body: "Yes, please send pricing.\r\n\r\nOn Mon, Mar 10, 2025 at 9:00 AM Alex <alex@example.com> wrote:\r\n> Hi Maria",
			want: "Yes, please send pricing.",
		},
		{
			name: "angle quotes",
			body: "Interested.\n> Earlier message\n> more",
			want: "Interested.",
		},
		{
			name: "original message marker",
			body: "Call me.\n\n-----Original Message-----\nFrom: Alex",
			want: "Call me.",
		},
		{
			name: "outlook separator",
			body: "Thanks!\n________________________________\nFrom: Alex <alex@example.com>\nSent: Monday",
			want: "Thanks!",
		},
		{
			name: "only quoted text is kept",
			body: "> quoted only",
			want: "> quoted only",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TrimQuoted(tt.body); got != tt.want {
				t.Errorf("TrimQuoted() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHTMLToText(t *testing.T) {
	html := `<html><head><style>p{}</style></head><body>
<p>Hi Alex,</p><p>Can you send   pricing?</p>
<div class="gmail_quote">On Mon Alex wrote: old text</div>
<script>alert(1)</script></body></html>`

	got := HTMLToText(html)
	if !strings.Contains(got, "Hi Alex,") || !strings.Contains(got, "Can you send pricing?") {
		t.Errorf("HTMLToText() = %q, missing reply text", got)
	}
	for _, unwanted := range []string{"old text", "alert", "p{}"} {
		if strings.Contains(got, unwanted) {
			t.Errorf("HTMLToText() = %q, should not contain %q", got, unwanted)
		}
	}
}
