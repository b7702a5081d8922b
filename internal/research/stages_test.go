package research

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/research_go_server/internal/model"
	"github.com/qs3c/research_go_server/internal/pipeline"
)

// fakeTavily 返回固定搜索结果的假 Tavily 服务
func fakeTavily(t *testing.T, results []SearchResult) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/search", r.URL.Path)

		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "advanced", req["search_depth"])
		assert.NotEmpty(t, req["api_key"])
		assert.NotEmpty(t, req["query"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{ //nolint:errcheck
			"results": results,
		})
	}))
}

// fakeOpenAI 返回固定回复内容的假 Chat Completions 服务
func fakeOpenAI(t *testing.T, content string) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{ //nolint:errcheck
			"id":      "chatcmpl-test",
			"object":  "chat.completion",
			"created": time.Now().Unix(),
			"model":   "gpt-4o-mini",
			"choices": []map[string]interface{}{
				{
					"index": 0,
					"message": map[string]interface{}{
						"role":    "assistant",
						"content": content,
					},
					"finish_reason": "stop",
				},
			},
		})
	}))
}

func TestSearchClient_Search(t *testing.T) {
	srv := fakeTavily(t, []SearchResult{
		{Title: "AI Report", URL: "https://example.com/ai", Content: "findings"},
		{Title: "ML Survey", URL: "https://example.com/ml", Content: "survey"},
	})
	defer srv.Close()

	client := NewSearchClient("test-key", srv.URL, 5)
	results, err := client.Search(context.Background(), "ai trends")
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, "AI Report", results[0].Title)
	assert.Equal(t, "https://example.com/ml", results[1].URL)
}

func TestSearchClient_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "invalid api key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewSearchClient("bad-key", srv.URL, 5)
	_, err := client.Search(context.Background(), "ai trends")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tavily api error")
}

func TestFormatSources(t *testing.T) {
	got := FormatSources([]SearchResult{
		{Title: "A", URL: "https://a.example", Content: "alpha"},
		{Title: "B", URL: "https://b.example", Content: "beta"},
	})

	assert.Contains(t, got, "Title: A")
	assert.Contains(t, got, "URL: https://b.example")
	assert.Contains(t, got, "Content: alpha")
	assert.Contains(t, got, "\n---\n")
}

func TestStripJSONFences(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a": 1}`, `{"a": 1}`},
		{"fenced", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"fenced no lang", "```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"whitespace", "  {\"a\": 1}  ", `{"a": 1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, StripJSONFences(tc.in))
		})
	}
}

func TestStageSet_Gather(t *testing.T) {
	srv := fakeTavily(t, []SearchResult{
		{Title: "Source", URL: "https://example.com/s", Content: "details"},
	})
	defer srv.Close()

	stages := NewStageSet(NewSearchClient("test-key", srv.URL, 5), nil)

	acc, err := stages.Gather(context.Background(), "topic", pipeline.Accumulator{})
	require.NoError(t, err)
	assert.Contains(t, acc.Sources, "Title: Source")
}

func TestStageSet_GatherNoResults(t *testing.T) {
	srv := fakeTavily(t, nil)
	defer srv.Close()

	stages := NewStageSet(NewSearchClient("test-key", srv.URL, 5), nil)

	_, err := stages.Gather(context.Background(), "obscure topic", pipeline.Accumulator{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no search results")
}

func TestStageSet_Classify(t *testing.T) {
	reply := `{
		"facts_table": [{"claim": "GPUs accelerate training", "sources": ["https://example.com/s"], "confidence": "High"}],
		"opinions_table": [{"claim": "AI will change everything", "sources": ["https://example.com/s"], "perspective": "optimist"}],
		"conflicting_data": [{"topic": "adoption rate", "conflicting_claims": ["30%", "60%"], "sources": ["https://example.com/s"]}]
	}`
	srv := fakeOpenAI(t, reply)
	defer srv.Close()

	stages := NewStageSet(nil, NewLLMClient("test-key", srv.URL, "gpt-4o-mini"))

	acc, err := stages.Classify(context.Background(), "ai", pipeline.Accumulator{Sources: "raw sources"})
	require.NoError(t, err)

	require.Len(t, acc.Facts, 1)
	assert.Equal(t, "GPUs accelerate training", acc.Facts[0].Claim)
	assert.Equal(t, "High", acc.Facts[0].Confidence)
	require.Len(t, acc.Opinions, 1)
	assert.Equal(t, "optimist", acc.Opinions[0].Perspective)
	require.Len(t, acc.Conflicts, 1)
	assert.Equal(t, "adoption rate", acc.Conflicts[0].Topic)
}

func TestStageSet_ClassifyFencedOutput(t *testing.T) {
	srv := fakeOpenAI(t, "```json\n{\"facts_table\": [], \"opinions_table\": [], \"conflicting_data\": []}\n```")
	defer srv.Close()

	stages := NewStageSet(nil, NewLLMClient("test-key", srv.URL, "gpt-4o-mini"))

	_, err := stages.Classify(context.Background(), "ai", pipeline.Accumulator{Sources: "raw"})
	assert.NoError(t, err)
}

func TestStageSet_Synthesize(t *testing.T) {
	srv := fakeOpenAI(t, `{"summary": "Two paragraph summary.", "citations_list": ["https://example.com/s"]}`)
	defer srv.Close()

	stages := NewStageSet(nil, NewLLMClient("test-key", srv.URL, "gpt-4o-mini"))

	acc, err := stages.Synthesize(context.Background(), "ai", pipeline.Accumulator{Sources: "raw"})
	require.NoError(t, err)
	assert.Equal(t, "Two paragraph summary.", acc.Summary)
	assert.Equal(t, []string{"https://example.com/s"}, acc.Citations)
}

func TestStageSet_Audit(t *testing.T) {
	srv := fakeOpenAI(t, `{"score": 8, "feedback": "good", "hallucination_check": "none found", "recommendations": ["a", "b", "c"]}`)
	defer srv.Close()

	stages := NewStageSet(nil, NewLLMClient("test-key", srv.URL, "gpt-4o-mini"))

	acc, err := stages.Audit(context.Background(), "ai", pipeline.Accumulator{Summary: "summary"})
	require.NoError(t, err)

	require.NotNil(t, acc.Evaluation)
	assert.Equal(t, 8, acc.Evaluation.Score)
	assert.Equal(t, "none found", acc.Evaluation.HallucinationCheck)
	assert.Len(t, acc.Evaluation.Recommendations, 3)
}

func TestStageSet_AuditClampsScore(t *testing.T) {
	cases := []struct {
		name  string
		score int
		want  int
	}{
		{"above range", 42, 10},
		{"below range", 0, 1},
		{"in range", 5, 5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := fakeOpenAI(t, `{"score": `+jsonInt(tc.score)+`, "feedback": "f", "hallucination_check": "c", "recommendations": []}`)
			defer srv.Close()

			stages := NewStageSet(nil, NewLLMClient("test-key", srv.URL, "gpt-4o-mini"))

			acc, err := stages.Audit(context.Background(), "q", pipeline.Accumulator{})
			require.NoError(t, err)
			assert.Equal(t, tc.want, acc.Evaluation.Score)
		})
	}
}

func TestStageSet_AuditMalformedOutput(t *testing.T) {
	srv := fakeOpenAI(t, "I think the research deserves an 8 out of 10.")
	defer srv.Close()

	stages := NewStageSet(nil, NewLLMClient("test-key", srv.URL, "gpt-4o-mini"))

	_, err := stages.Audit(context.Background(), "q", pipeline.Accumulator{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse model output")
}

func TestStageSet_RunnersOrder(t *testing.T) {
	stages := NewStageSet(nil, nil)

	runners := stages.Runners(time.Minute)
	require.Len(t, runners, len(model.StageOrder))
	for i, r := range runners {
		assert.Equal(t, model.StageOrder[i], r.Name())
	}
}

func jsonInt(v int) string {
	data, _ := json.Marshal(v)
	return string(data)
}
