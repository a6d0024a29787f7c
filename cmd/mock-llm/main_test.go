package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func writeFixture(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture %s: %v", name, err)
	}
}

func postChat(t *testing.T, handler http.HandlerFunc, model, userContent string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: "You are a triage analyst."},
			{Role: "user", Content: userContent},
		},
	})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func assistantContent(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp chatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(resp.Choices) != 1 {
		t.Fatalf("choices = %d, want 1", len(resp.Choices))
	}
	return resp.Choices[0].Message.Content
}

func TestLoadFixturesOrdersNumberedBeforeBase(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "mock-triage.json", `{"scores": {"relevance": 4}}`)
	writeFixture(t, dir, "mock-triage.2.json", `{"scores": {"relevance": 2}}`)
	writeFixture(t, dir, "mock-triage.1.json", `not json at all {`)

	_, err := loadFixtures(dir)
	if err == nil {
		t.Fatal("expected error for invalid JSON fixture")
	}

	writeFixture(t, dir, "mock-triage.1.json", `{"scores": {"relevance": 1}}`)
	fixtures, err := loadFixtures(dir)
	if err != nil {
		t.Fatalf("loadFixtures: %v", err)
	}

	seq := fixtures["mock-triage"]
	if len(seq) != 3 {
		t.Fatalf("sequence length = %d, want 3", len(seq))
	}
	for i, want := range []string{`"relevance": 1`, `"relevance": 2`, `"relevance": 4`} {
		if !bytes.Contains([]byte(seq[i]), []byte(want)) {
			t.Errorf("seq[%d] = %s, want to contain %s", i, seq[i], want)
		}
	}
}

func TestLoadFixturesEmptyDir(t *testing.T) {
	if _, err := loadFixtures(t.TempDir()); err == nil {
		t.Fatal("expected error for empty fixture dir")
	}
}

func TestChatCompletionsServesFixture(t *testing.T) {
	s := newServer(map[string][]string{
		"mock-triage": {`{"scores": {"relevance": 4, "credibility": 3}, "confidence": 0.9}`},
	}, false)

	content := assistantContent(t, postChat(t, s.handleChatCompletions, "mock-triage", "score this"))
	var verdict struct {
		Scores     map[string]float64 `json:"scores"`
		Confidence float64            `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(content), &verdict); err != nil {
		t.Fatalf("verdict not JSON: %v", err)
	}
	if verdict.Scores["relevance"] != 4 || verdict.Confidence != 0.9 {
		t.Errorf("unexpected verdict: %s", content)
	}
}

func TestChatCompletionsSequentialFixturesThenFallback(t *testing.T) {
	s := newServer(map[string][]string{
		"mock-triage": {
			`this is not JSON, the first attempt is malformed`,
			`{"scores": {"relevance": 4}}`,
		},
	}, false)

	first := assistantContent(t, postChat(t, s.handleChatCompletions, "mock-triage", "score"))
	if json.Valid([]byte(first)) {
		t.Errorf("first call should serve the malformed fixture, got %s", first)
	}
	for i := 0; i < 2; i++ {
		content := assistantContent(t, postChat(t, s.handleChatCompletions, "mock-triage", "score"))
		if !json.Valid([]byte(content)) {
			t.Errorf("call %d should repeat the last fixture, got %s", i+2, content)
		}
	}
}

func TestChatCompletionsStripsMockPrefix(t *testing.T) {
	s := newServer(map[string][]string{
		"triage": {`{"scores": {"relevance": 4}}`},
	}, false)

	content := assistantContent(t, postChat(t, s.handleChatCompletions, "mock-triage", "score"))
	if !bytes.Contains([]byte(content), []byte(`"relevance"`)) {
		t.Errorf("expected fixture via stripped prefix, got %s", content)
	}
}

func TestChatCompletionsUnknownModelWithoutSynthesis(t *testing.T) {
	s := newServer(map[string][]string{}, false)
	rec := postChat(t, s.handleChatCompletions, "unknown", "score")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestSynthesizeVerdictFromPromptCategories(t *testing.T) {
	s := newServer(map[string][]string{}, true)

	userPrompt := "Title: Rate Limiter Design Notes\n" +
		"Source: https://example.com/notes\n\n" +
		"Scoring categories:\n" +
		"- relevance (weight 0.6): how directly the content addresses the mission\n" +
		"- credibility (weight 0.4): source reliability and evidence quality\n\n" +
		"Content:\n# Rate Limiter Design Notes\n"

	content := assistantContent(t, postChat(t, s.handleChatCompletions, "anything", userPrompt))
	var verdict struct {
		Scores     map[string]float64 `json:"scores"`
		Confidence float64            `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(content), &verdict); err != nil {
		t.Fatalf("synthesized verdict not JSON: %v", err)
	}
	if _, ok := verdict.Scores["relevance"]; !ok {
		t.Errorf("missing relevance score: %s", content)
	}
	if _, ok := verdict.Scores["credibility"]; !ok {
		t.Errorf("missing credibility score: %s", content)
	}
	if verdict.Confidence != 0.8 {
		t.Errorf("confidence = %v, want 0.8", verdict.Confidence)
	}

	// Same prompt, same verdict.
	again := assistantContent(t, postChat(t, s.handleChatCompletions, "anything", userPrompt))
	if content != again {
		t.Errorf("synthesis not deterministic:\n%s\n%s", content, again)
	}
}

func TestSynthesizeVerdictWithoutCategories(t *testing.T) {
	s := newServer(map[string][]string{}, true)
	content := assistantContent(t, postChat(t, s.handleChatCompletions, "anything", "no rubric here"))
	var verdict struct {
		Scores map[string]float64 `json:"scores"`
	}
	if err := json.Unmarshal([]byte(content), &verdict); err != nil {
		t.Fatalf("verdict not JSON: %v", err)
	}
	if _, ok := verdict.Scores["overall"]; !ok {
		t.Errorf("expected overall fallback score, got %s", content)
	}
}

func TestStatsCountsPerModel(t *testing.T) {
	s := newServer(map[string][]string{
		"mock-triage": {`{"scores": {"relevance": 4}}`},
	}, true)

	postChat(t, s.handleChatCompletions, "mock-triage", "score")
	postChat(t, s.handleChatCompletions, "mock-triage", "score")
	postChat(t, s.handleChatCompletions, "other", "score")

	rec := httptest.NewRecorder()
	s.handleStats(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	var stats struct {
		TotalCalls   int64            `json:"total_calls"`
		CallsByModel map[string]int64 `json:"calls_by_model"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("unmarshal stats: %v", err)
	}
	if stats.TotalCalls != 3 {
		t.Errorf("total_calls = %d, want 3", stats.TotalCalls)
	}
	if stats.CallsByModel["mock-triage"] != 2 {
		t.Errorf("mock-triage calls = %d, want 2", stats.CallsByModel["mock-triage"])
	}
}

func TestRequestsCaptureAndFilter(t *testing.T) {
	s := newServer(map[string][]string{
		"mock-triage": {`{"scores": {"relevance": 4}}`},
	}, true)

	postChat(t, s.handleChatCompletions, "mock-triage", "first prompt")
	postChat(t, s.handleChatCompletions, "mock-triage", "second prompt")
	postChat(t, s.handleChatCompletions, "other", "other prompt")

	rec := httptest.NewRecorder()
	s.handleRequests(rec, httptest.NewRequest(http.MethodGet, "/requests?model=mock-triage&call=2", nil))

	var out struct {
		RequestsByModel map[string][]capturedRequest `json:"requests_by_model"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal requests: %v", err)
	}
	reqs := out.RequestsByModel["mock-triage"]
	if len(reqs) != 1 {
		t.Fatalf("filtered requests = %d, want 1", len(reqs))
	}
	if reqs[0].CallIndex != 2 {
		t.Errorf("call_index = %d, want 2", reqs[0].CallIndex)
	}
	if reqs[0].Messages[1].Content != "second prompt" {
		t.Errorf("captured prompt = %q", reqs[0].Messages[1].Content)
	}
	if _, ok := out.RequestsByModel["other"]; ok {
		t.Error("model filter leaked other model's requests")
	}
}
