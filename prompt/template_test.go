package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractVariables(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{name: "empty", text: "", want: nil},
		{name: "no placeholders", text: "score this artifact", want: nil},
		{name: "single", text: "Title: {title}", want: []string{"title"}},
		{
			name: "order of first appearance",
			text: "{title} then {content} then {title} again",
			want: []string{"title", "content"},
		},
		{
			name: "underscores and digits",
			text: "{rubric_v2} {category_1}",
			want: []string{"rubric_v2", "category_1"},
		},
		{name: "escaped braces", text: `{{"not": "a placeholder"}}`, want: nil},
		{name: "unclosed brace", text: "broken {title", want: nil},
		{name: "empty braces", text: "nothing {} here", want: nil},
		{
			name: "json braces are literal",
			text: `respond as {"scores": {score_hint}}`,
			want: []string{"score_hint"},
		},
		{name: "space breaks a name", text: "{not a var} {real}", want: []string{"real"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractVariables(tt.text))
		})
	}
}

func TestTemplateValidate(t *testing.T) {
	tmpl := &Template{
		ID:         "eval-default",
		Name:       "Default evaluation",
		Type:       TypeEvaluation,
		UserPrompt: "Evaluate {title}: {content}",
	}
	assert.NoError(t, tmpl.Validate())
	assert.Equal(t, []string{"title", "content"}, tmpl.Variables)

	assert.Error(t, (&Template{Type: TypeEvaluation, UserPrompt: "x"}).Validate())
	assert.Error(t, (&Template{ID: "a", Type: "summary", UserPrompt: "x"}).Validate())
	assert.Error(t, (&Template{ID: "a", Type: TypeMetadata}).Validate())
}

func TestTemplateValidateIncludesSystemPromptVariables(t *testing.T) {
	tmpl := &Template{
		ID:           "eval-sys",
		Type:         TypeEvaluation,
		SystemPrompt: "You grade artifacts against {rubric_guidance}.",
		UserPrompt:   "Artifact: {content}",
	}
	assert.NoError(t, tmpl.Validate())
	assert.Equal(t, []string{"rubric_guidance", "content"}, tmpl.Variables)
}
