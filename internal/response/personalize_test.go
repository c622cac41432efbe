package response

import "testing"

func TestRender(t *testing.T) {
	tests := []struct {
		name     string
		template string
		vars     map[string]string
		want     string
	}{
		{
			name:     "simple substitution",
			template: "Hi {{first_name}},",
			vars:     map[string]string{"first_name": "Maria"},
			want:     "Hi Maria,",
		},
		{
			name:     "spaces inside braces",
			template: "{{ company }} team",
			vars:     map[string]string{"company": "Northwind"},
			want:     "Northwind team",
		},
		{
			name:     "missing variable unchanged",
			template: "Hi {{first_name}} at {{company}}",
			vars:     map[string]string{"first_name": "Maria"},
			want:     "Hi Maria at {{company}}",
		},
		{
			name:     "empty template",
			template: "",
			vars:     map[string]string{"first_name": "Maria"},
			want:     "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Render(tt.template, tt.vars)
			if got != tt.want {
				t.Errorf("Render() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMergeVariables(t *testing.T) {
	got := MergeVariables(
		map[string]string{"a": "1", "b": "1"},
		map[string]string{"b": "2"},
		nil,
	)
	if got["a"] != "1" || got["b"] != "2" {
		t.Errorf("MergeVariables() = %v", got)
	}
}

func TestReplySubject(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Quick question", "Re: Quick question"},
		{"Re: Quick question", "Re: Quick question"},
		{"RE: Quick question", "RE: Quick question"},
		{"  ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ReplySubject(tt.in); got != tt.want {
				t.Errorf("ReplySubject(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
