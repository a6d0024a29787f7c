// Package prompt provides versioned prompt templates and the renderer that
// substitutes variable bindings into them. Required variables are extracted
// by a static parse at save time so misconfigured templates fail before any
// evaluation runs.
package prompt

import (
	"fmt"
	"time"
)

// TemplateType distinguishes the three prompt roles.
type TemplateType string

const (
	TypeMetadata      TemplateType = "metadata"
	TypeEvaluation    TemplateType = "evaluation"
	TypeClarification TemplateType = "clarification"
)

// Valid reports whether the template type is known.
func (t TemplateType) Valid() bool {
	switch t {
	case TypeMetadata, TypeEvaluation, TypeClarification:
		return true
	}
	return false
}

// Template is a named, versioned prompt template. Templates are referenced
// by id from rubrics, never inlined, so evaluations stay reproducible
// against the exact wording used.
type Template struct {
	ID   string       `json:"id" yaml:"id"`
	Name string       `json:"name" yaml:"name"`
	Type TemplateType `json:"type" yaml:"type"`

	// SystemPrompt is optional; UserPrompt is required and may contain
	// {name} placeholders.
	SystemPrompt string `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	UserPrompt   string `json:"user_prompt" yaml:"user_prompt"`

	// Variables is the typed list of required placeholder names, produced
	// by ExtractVariables at save time and validated on load.
	Variables []string `json:"variables,omitempty" yaml:"variables,omitempty"`

	// Default marks the one template used per type when a rubric does not
	// name one explicitly.
	Default   bool      `json:"default,omitempty" yaml:"default,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty" yaml:"created_at,omitempty"`
}

// Validate checks structural validity and refreshes the extracted variable
// list from the template text.
func (t *Template) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("template id is required")
	}
	if !t.Type.Valid() {
		return fmt.Errorf("template %s: unknown type %q", t.ID, t.Type)
	}
	if t.UserPrompt == "" {
		return fmt.Errorf("template %s: user prompt is required", t.ID)
	}
	t.Variables = ExtractVariables(t.SystemPrompt + t.UserPrompt)
	return nil
}

// ExtractVariables scans template text for {name} placeholders and returns
// the distinct variable names in order of first appearance. A placeholder
// name consists of letters, digits, and underscores; anything else between
// braces is treated as literal text. Escaped braces ({{ and }}) are not
// placeholders.
func ExtractVariables(text string) []string {
	var names []string
	seen := make(map[string]bool)

	for i := 0; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}
		// {{ is an escaped literal brace.
		if i+1 < len(text) && text[i+1] == '{' {
			i++
			continue
		}
		end := -1
		for j := i + 1; j < len(text); j++ {
			if text[j] == '}' {
				end = j
				break
			}
			if !isNameChar(text[j]) {
				break
			}
		}
		if end <= i+1 {
			continue
		}
		name := text[i+1 : end]
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
		i = end
	}

	return names
}

func isNameChar(c byte) bool {
	return c == '_' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}
