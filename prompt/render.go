package prompt

import (
	"fmt"
	"sort"
	"strings"
)

// UnboundVariableError reports placeholders with no binding at render time.
// An unbound placeholder is a fatal configuration error: rendering fails
// before any external call is made, never silently emitting literal {name}.
type UnboundVariableError struct {
	TemplateID string
	Variables  []string
}

func (e *UnboundVariableError) Error() string {
	return fmt.Sprintf("template %s: unbound variables: %v", e.TemplateID, e.Variables)
}

// Rendered holds the final prompt text ready for the LLM client. No
// escaping is performed; the client owns request-format encoding.
type Rendered struct {
	System string
	User   string
}

// Render substitutes every {name} placeholder in the template with its
// bound value. Whitespace and ordering are preserved. Every placeholder
// must have a binding; extra bindings are ignored.
func Render(t *Template, bindings map[string]string) (*Rendered, error) {
	required := ExtractVariables(t.SystemPrompt + t.UserPrompt)

	var unbound []string
	for _, name := range required {
		if _, ok := bindings[name]; !ok {
			unbound = append(unbound, name)
		}
	}
	if len(unbound) > 0 {
		sort.Strings(unbound)
		return nil, &UnboundVariableError{TemplateID: t.ID, Variables: unbound}
	}

	return &Rendered{
		System: substitute(t.SystemPrompt, bindings),
		User:   substitute(t.UserPrompt, bindings),
	}, nil
}

// Preview renders leniently for display tooling: unbound placeholders are
// left as literal {name} text. Never use Preview output for an evaluation.
func Preview(t *Template, bindings map[string]string) *Rendered {
	return &Rendered{
		System: substitute(t.SystemPrompt, bindings),
		User:   substitute(t.UserPrompt, bindings),
	}
}

// substitute replaces bound {name} occurrences, honoring the same
// placeholder grammar as ExtractVariables.
func substitute(text string, bindings map[string]string) string {
	if text == "" || !strings.ContainsRune(text, '{') {
		return text
	}

	var b strings.Builder
	b.Grow(len(text))

	for i := 0; i < len(text); i++ {
		if text[i] != '{' {
			b.WriteByte(text[i])
			continue
		}
		if i+1 < len(text) && text[i+1] == '{' {
			b.WriteString("{{")
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
			b.WriteByte(text[i])
			continue
		}
		name := text[i+1 : end]
		if val, ok := bindings[name]; ok {
			b.WriteString(val)
		} else {
			b.WriteString(text[i : end+1])
		}
		i = end
	}

	return b.String()
}
