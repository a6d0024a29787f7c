package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// EvalResult is the validated, typed output of one evaluation call. A
// response either parses into this shape or the call fails; the pipeline
// never consumes a dynamically-shaped map.
type EvalResult struct {
	// Scores maps category key to the model's score in [0, 5].
	Scores map[string]float64

	// Confidence is the model-reported confidence, nil when omitted.
	Confidence *float64

	// Signals is free-text evidence the model cited.
	Signals []string

	// Model and Provider record which backend produced the result.
	Model    string
	Provider string
}

// evalResponse is the expected JSON shape of an evaluation completion.
type evalResponse struct {
	Scores     map[string]float64 `json:"scores"`
	Confidence *float64           `json:"confidence,omitempty"`
	Signals    []string           `json:"signals,omitempty"`
}

// repairInstruction is appended to the prompt when the first response fails
// schema validation. One repair attempt only; a second failure fails the
// evaluate attempt with MalformedOutputError.
const repairInstruction = `

IMPORTANT: Your previous response could not be parsed. Respond with ONLY a
single JSON object, no prose and no code fences, exactly matching:
{"scores": {"<category>": <number 0-5>, ...}, "confidence": <number 0-1>, "signals": ["<evidence>", ...]}
Every listed category must appear in "scores".`

// Evaluator turns a rendered prompt into a validated structured result.
type Evaluator struct {
	client *Client
	logger *slog.Logger
}

// NewEvaluator creates an evaluator on top of the given client.
func NewEvaluator(client *Client, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{client: client, logger: logger}
}

// Evaluate sends the rendered system and user prompt to the provider and
// parses the structured response. categories lists the rubric's declared
// category keys, included in the schema hint sent to the model. Malformed
// responses get exactly one repair retry with a stricter instruction;
// transport errors keep their transient/fatal classification for the
// orchestrator's retry policy.
func (e *Evaluator) Evaluate(ctx context.Context, cfg *ProviderConfig, system, user string, categories []string) (*EvalResult, error) {
	userWithHint := user + schemaHint(categories)

	resp, err := e.complete(ctx, cfg, system, userWithHint)
	if err != nil {
		return nil, err
	}

	result, parseErr := parseEvalResponse(resp.Content)
	if parseErr == nil {
		result.Model = resp.Model
		result.Provider = cfg.Provider
		return result, nil
	}

	e.logger.Warn("Evaluation response failed validation, attempting repair",
		"provider", cfg.Provider,
		"model", cfg.Model,
		"error", parseErr)

	resp, err = e.complete(ctx, cfg, system, userWithHint+repairInstruction)
	if err != nil {
		return nil, err
	}

	result, parseErr = parseEvalResponse(resp.Content)
	if parseErr != nil {
		return nil, &MalformedOutputError{Detail: parseErr.Error()}
	}

	result.Model = resp.Model
	result.Provider = cfg.Provider
	return result, nil
}

func (e *Evaluator) complete(ctx context.Context, cfg *ProviderConfig, system, user string) (*Response, error) {
	messages := make([]Message, 0, 2)
	if system != "" {
		messages = append(messages, Message{Role: "system", Content: system})
	}
	messages = append(messages, Message{Role: "user", Content: user})

	return e.client.Complete(ctx, cfg, Request{Messages: messages})
}

// schemaHint describes the required response shape, naming every category
// the rubric expects a score for.
func schemaHint(categories []string) string {
	var b strings.Builder
	b.WriteString("\n\nRespond with a single JSON object of the form:\n")
	b.WriteString(`{"scores": {`)
	for i, cat := range categories {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%q: <0-5>", cat)
	}
	b.WriteString(`}, "confidence": <0-1>, "signals": ["<evidence>"]}`)
	b.WriteString("\nScore every category listed above.")
	return b.String()
}

// parseEvalResponse extracts and validates the structured evaluation from
// raw completion text.
func parseEvalResponse(content string) (*EvalResult, error) {
	raw := ExtractJSON(content)
	if raw == "" {
		return nil, fmt.Errorf("no JSON object in response")
	}

	var parsed evalResponse
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("parse response JSON: %w", err)
	}

	if len(parsed.Scores) == 0 {
		return nil, fmt.Errorf(`response has no "scores" object`)
	}
	for cat, score := range parsed.Scores {
		if score < 0 || score > 5 {
			return nil, fmt.Errorf("score for %q is %v, outside [0, 5]", cat, score)
		}
	}
	if parsed.Confidence != nil && (*parsed.Confidence < 0 || *parsed.Confidence > 1) {
		return nil, fmt.Errorf("confidence %v outside [0, 1]", *parsed.Confidence)
	}

	return &EvalResult{
		Scores:     parsed.Scores,
		Confidence: parsed.Confidence,
		Signals:    parsed.Signals,
	}, nil
}
