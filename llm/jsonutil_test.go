package llm

import (
	"encoding/json"
	"testing"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantKey string // if non-empty, check this key exists in parsed JSON
		wantErr bool
	}{
		{
			name:    "plain JSON",
			input:   `{"scores": {"relevance": 4}}`,
			wantKey: "scores",
		},
		{
			name:    "markdown code block",
			input:   "```json\n{\"scores\": {\"relevance\": 4}}\n```",
			wantKey: "scores",
		},
		{
			name:    "code block with trailing prose",
			input:   "```json\n{\"scores\": {\"relevance\": 4}}\n```\n\nThe relevance is high because the article covers the topic directly.",
			wantKey: "scores",
		},
		{
			name:    "leading prose before bare object",
			input:   "Here is my assessment:\n\n{\"scores\": {\"relevance\": 3.5, \"depth\": 2}}",
			wantKey: "scores",
		},
		{
			name:    "line comments inside values",
			input:   "```json\n{\n  \"signals\": [\n    \"cites primary sources\",  // strongest indicator\n    \"original analysis\"\n  ]\n}\n```",
			wantKey: "signals",
		},
		{
			name:    "trailing commas",
			input:   "{\n  \"scores\": {\n    \"relevance\": 4,\n    \"depth\": 3,\n  },\n}",
			wantKey: "scores",
		},
		{
			name:    "URL in string not treated as comment",
			input:   `{"source": "https://example.com/feed"}`,
			wantKey: "source",
		},
		{
			name:    "empty input",
			input:   "",
			wantErr: true,
		},
		{
			name:    "no JSON at all",
			input:   "I cannot score this artifact.",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ExtractJSON(tt.input)

			if tt.wantErr {
				if result != "" {
					t.Errorf("expected empty result, got: %s", result)
				}
				return
			}

			if result == "" {
				t.Fatal("expected JSON result, got empty string")
			}

			var parsed map[string]any
			if err := json.Unmarshal([]byte(result), &parsed); err != nil {
				t.Fatalf("extracted text is not valid JSON: %v\n%s", err, result)
			}
			if _, ok := parsed[tt.wantKey]; !ok {
				t.Errorf("key %q missing from parsed JSON", tt.wantKey)
			}
		})
	}
}

func TestStripLineCommentRespectsStrings(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"comment after value", `"one",  // first`, `"one",`},
		{"slashes inside string", `"url": "http://example.com"`, `"url": "http://example.com"`},
		{"escaped quote then comment", `"say \"hi\"" // greeting`, `"say \"hi\""`},
		{"no comment", `"plain"`, `"plain"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stripLineComment(tt.input); got != tt.want {
				t.Errorf("stripLineComment(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
