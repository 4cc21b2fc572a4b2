package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/internal/config"
	"docrag/internal/domain"
	chromemstore "docrag/internal/vectorstore/chromem"
)

func writeTestConfig(t *testing.T, completionURL string) string {
	t.Helper()
	t.Setenv("DOCRAG_TEST_KEY", "sk-test")
	body := fmt.Sprintf(`
embedder:
  type: tfidf
completion:
  base_url: %q
  api_key_env: DOCRAG_TEST_KEY
vector_store:
  type: memory
log:
  level: error
`, completionURL)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func writeRecognition(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "run_1", "recognition_json")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	page := `{"items":[
		{"text":"The sky is blue.","line":1},
		{"text":"Blue is a color.","line":2},
		{"text":"Grass is green.","line":3}
	]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "page_1.json"), []byte(page), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "page_2.json"), []byte("{broken"), 0o644))
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestIndexCommand(t *testing.T) {
	cfg := writeTestConfig(t, "http://127.0.0.1:1/v1/")
	dir := writeRecognition(t)

	out, err := run(t, "--config", cfg, "index", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Indexed 3 chunks across 1 pages from "+dir)
	assert.Contains(t, out, "skipped "+filepath.Join(dir, "page_2.json"))
	assert.Contains(t, out, "Summary:")
}

func TestIndexCommand_MissingDir(t *testing.T) {
	cfg := writeTestConfig(t, "http://127.0.0.1:1/v1/")
	_, err := run(t, "--config", cfg, "index", filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "index failed")
}

func TestAskCommand(t *testing.T) {
	var prompts []string
	llm := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		for _, m := range req.Messages {
			prompts = append(prompts, m.Content)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"Blue."}}]}`))
	}))
	t.Cleanup(llm.Close)

	cfg := writeTestConfig(t, llm.URL+"/v1/")
	dir := writeRecognition(t)

	out, err := run(t, "--config", cfg, "ask", "--k", "1", "--no-relations", dir, "what", "is", "the", "sky?")
	require.NoError(t, err)

	var answer domain.Answer
	require.NoError(t, json.Unmarshal([]byte(out), &answer))
	assert.Equal(t, "Blue.", answer.Answer)
	require.Len(t, answer.Sources, 1)
	assert.Equal(t, 1, answer.Sources[0].Line)
	assert.Equal(t, 100, answer.Sources[0].Percentage)
	assert.Empty(t, answer.Sources[0].Related)

	require.Len(t, prompts, 2)
	assert.Contains(t, prompts[1], "[Page 1, Line 1] The sky is blue.")
	assert.Contains(t, prompts[1], "Question: what is the sky?")
}

func TestBuildStoreFactory_Chromem(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.VectorStore.Type = "chromem"
	a := &app{cfg: cfg}

	factory, err := a.buildStoreFactory()
	require.NoError(t, err)
	store, err := factory(t.Context(), "gen1")
	require.NoError(t, err)
	require.NoError(t, store.Init(t.Context(), 3))
}

func TestSettingsFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Retrieval.RelationWindow = 4
	cfg.Summarizer.MaxSentences = 0

	st := settingsFromConfig(cfg)
	assert.Equal(t, 4, st.RelationWindow)
	assert.True(t, st.IncludeRelations)
	assert.Equal(t, 3, st.MaxSources)
	assert.Equal(t, 5, st.MaxGroupItems)
	assert.Equal(t, 4096, st.MaxTokens)
	assert.Zero(t, st.SummarySentences)
}

func TestIndexCommand_PersistentChromemLeavesNoCollections(t *testing.T) {
	t.Setenv("DOCRAG_TEST_KEY", "sk-test")
	vectors := filepath.Join(t.TempDir(), "vectors")
	cfg := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte(fmt.Sprintf(`
embedder:
  type: tfidf
completion:
  base_url: "http://127.0.0.1:1/v1/"
  api_key_env: DOCRAG_TEST_KEY
vector_store:
  type: chromem
  chromem:
    path: %q
log:
  level: error
`, vectors)), 0o600))

	db, release, err := chromemstore.Open(chromemstore.Config{Path: vectors})
	require.NoError(t, err)
	_, err = db.CreateCollection("docrag-crashed", nil, func(context.Context, string) ([]float32, error) { return nil, nil })
	require.NoError(t, err)
	require.NoError(t, release())

	dir := writeRecognition(t)
	for i := 0; i < 3; i++ {
		_, err := run(t, "--config", cfg, "index", dir)
		require.NoError(t, err)
	}

	db, release, err = chromemstore.Open(chromemstore.Config{Path: vectors})
	require.NoError(t, err)
	t.Cleanup(func() { _ = release() })
	assert.Empty(t, db.ListCollections())
}
