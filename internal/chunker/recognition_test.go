package chunker

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestExtractDir_ItemsDocumentWithPageFromFilename(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "doc_page_007.json", `{"items":[{"text":"Alpha"},{"text":"  "},{"text":"Beta","line":10}]}`)

	ext, err := ExtractDir(dir)
	require.NoError(t, err)
	require.Len(t, ext.Chunks, 2)

	assert.Equal(t, "Alpha", ext.Chunks[0].Text)
	assert.Equal(t, 7, ext.Chunks[0].Page)
	assert.Equal(t, 1, ext.Chunks[0].Line)

	assert.Equal(t, "Beta", ext.Chunks[1].Text)
	assert.Equal(t, 7, ext.Chunks[1].Page)
	assert.Equal(t, 10, ext.Chunks[1].Line)

	require.Len(t, ext.Files, 1)
	assert.Equal(t, ShapeItemsDocument, ext.Files[0].Shape)
	assert.Equal(t, 2, ext.Files[0].Chunks)
	assert.False(t, ext.Files[0].Skipped)
}

func TestExtractDir_Shapes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.json", `["first", {"content":"second"}, 42]`)
	writeFile(t, dir, "b.json", `{"text":"single"}`)
	writeFile(t, dir, "c.json", `{"foo":"bar"}`)
	writeFile(t, dir, "d.json", `"just a string"`)

	ext, err := ExtractDir(dir)
	require.NoError(t, err)

	texts := make([]string, 0, len(ext.Chunks))
	for _, c := range ext.Chunks {
		texts = append(texts, c.Text)
	}
	assert.Equal(t, []string{"first", "second", "single"}, texts)

	require.Len(t, ext.Files, 4)
	assert.Equal(t, ShapeItemList, ext.Files[0].Shape)
	assert.Equal(t, ShapeSingleItem, ext.Files[1].Shape)
	assert.Equal(t, ShapeUnrecognized, ext.Files[2].Shape)
	assert.Equal(t, ShapeUnrecognized, ext.Files[3].Shape)
	assert.Empty(t, ext.Skipped())
}

func TestExtractDir_StringItemMetadata(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "page1.json", `[" hello "]`)

	ext, err := ExtractDir(dir)
	require.NoError(t, err)
	require.Len(t, ext.Chunks, 1)
	assert.Equal(t, "hello", ext.Chunks[0].Text)
	assert.Equal(t, map[string]any{"text": " hello "}, ext.Chunks[0].Metadata)
}

func TestExtractDir_MalformedFileIsSkipped(t *testing.T) {
	dir := t.TempDir()
	bad := writeFile(t, dir, "bad.json", `{"items": [`)
	concat := writeFile(t, dir, "concat.json", "{\"text\":\"first\"}\n{\"text\":\"second\"}\n")
	writeFile(t, dir, "good.json", `[{"text":"ok"}]`)
	latin1 := writeFile(t, dir, "latin1.json", "[{\"text\":\"caf\xe9\"}]")
	trailing := writeFile(t, dir, "trailing.json", `{"items":[{"text":"Hello"}]} trailing garbage`)

	ext, err := ExtractDir(dir)
	require.NoError(t, err)
	require.Len(t, ext.Chunks, 1)
	assert.Equal(t, "ok", ext.Chunks[0].Text)

	skipped := ext.Skipped()
	require.Len(t, skipped, 4)
	assert.Equal(t, bad, skipped[0].Path)
	assert.Contains(t, skipped[0].Reason, "invalid json")
	assert.Equal(t, concat, skipped[1].Path)
	assert.Equal(t, "invalid json: trailing data", skipped[1].Reason)
	assert.Equal(t, latin1, skipped[2].Path)
	assert.Equal(t, "invalid utf-8", skipped[2].Reason)
	assert.Equal(t, trailing, skipped[3].Path)
	assert.Contains(t, skipped[3].Reason, "invalid json")
}

func TestExtractDir_TrailingWhitespaceIsAccepted(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "page_1.json", "[{\"text\":\"ok\"}]\n\n  ")

	ext, err := ExtractDir(dir)
	require.NoError(t, err)
	assert.Empty(t, ext.Skipped())
	require.Len(t, ext.Chunks, 1)
}

func TestExtractDir_ExplicitPageAndLineKeys(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "page_2.json", `[
		{"text":"a","page_no":5,"line_number":3},
		{"text":"b","page":0,"row_index":-1},
		{"text":"c","page_index":9,"index":2.0},
		{"text":"d"}
	]`)

	ext, err := ExtractDir(dir)
	require.NoError(t, err)
	require.Len(t, ext.Chunks, 4)

	assert.Equal(t, [2]int{5, 3}, [2]int{ext.Chunks[0].Page, ext.Chunks[0].Line})
	// Invalid explicit values fall back to the filename hint and the counter.
	assert.Equal(t, [2]int{2, 1}, [2]int{ext.Chunks[1].Page, ext.Chunks[1].Line})
	// A fractional-looking line is not an integer.
	assert.Equal(t, [2]int{9, 1}, [2]int{ext.Chunks[2].Page, ext.Chunks[2].Line})
	assert.Equal(t, [2]int{2, 2}, [2]int{ext.Chunks[3].Page, ext.Chunks[3].Line})
}

func TestExtractDir_LinesJoin(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "x.json", `[{"lines":[{"text":"Hello"},{"text":"world"},"noise"]}, {"lines":[{"text":" "}]}]`)

	ext, err := ExtractDir(dir)
	require.NoError(t, err)
	require.Len(t, ext.Chunks, 1)
	assert.Equal(t, "Hello world", ext.Chunks[0].Text)
	assert.Equal(t, 1, ext.Chunks[0].Page)
}

func TestExtractDir_TextKeyPriority(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "x.json", `[{"text":"  ","content":"","value":"from value","raw_text":"raw"}]`)

	ext, err := ExtractDir(dir)
	require.NoError(t, err)
	require.Len(t, ext.Chunks, 1)
	assert.Equal(t, "from value", ext.Chunks[0].Text)
}

func TestExtractDir_LineCounterRestartsPerFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.json", `[{"text":"a1","page":1},{"text":"a2","page":1}]`)
	writeFile(t, dir, "b.json", `[{"text":"b1","page":1}]`)

	ext, err := ExtractDir(dir)
	require.NoError(t, err)
	require.Len(t, ext.Chunks, 3)
	assert.Equal(t, 1, ext.Chunks[0].Line)
	assert.Equal(t, 2, ext.Chunks[1].Line)
	assert.Equal(t, 1, ext.Chunks[2].Line)
}

func TestExtractDir_RecursiveSortedAndDeterministic(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "z.json", `["z"]`)
	writeFile(t, dir, "sub/a.json", `["sub-a"]`)
	writeFile(t, dir, "b.json", `["b"]`)
	writeFile(t, dir, "notes.txt", `ignored`)
	writeFile(t, dir, ".hidden/h.json", `["hidden"]`)

	first, err := ExtractDir(dir)
	require.NoError(t, err)
	second, err := ExtractDir(dir)
	require.NoError(t, err)
	assert.Equal(t, first.Chunks, second.Chunks)

	texts := make([]string, 0, len(first.Chunks))
	for _, c := range first.Chunks {
		texts = append(texts, c.Text)
	}
	assert.Equal(t, []string{"b", "sub-a", "z"}, texts)
}

func TestExtractDir_MissingDir(t *testing.T) {
	_, err := ExtractDir(filepath.Join(t.TempDir(), "nope"))
	require.ErrorIs(t, err, ErrRecognitionDirNotFound)
}

func TestExtractDir_EmptyDir(t *testing.T) {
	ext, err := ExtractDir(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, ext.Chunks)
	assert.Empty(t, ext.Files)
}

func TestPageFromFilename(t *testing.T) {
	cases := map[string]int{
		"doc_page_007.json": 7,
		"page-3.json":       3,
		"page12.json":       12,
		"scan_42.json":      42,
		"page_000.json":     0,
		"page0_3.json":      0,
		"summary.json":      0,
	}
	for name, want := range cases {
		assert.Equal(t, want, PageFromFilename(name), name)
	}
}

func TestFindLatestRecognitionDir(t *testing.T) {
	outputs := t.TempDir()
	older := filepath.Join(outputs, "run_001", "recognition_json")
	newer := filepath.Join(outputs, "run_002", "recognition_json")
	require.NoError(t, os.MkdirAll(older, 0o755))
	require.NoError(t, os.MkdirAll(newer, 0o755))
	// A newer run without recognition output is ignored.
	require.NoError(t, os.MkdirAll(filepath.Join(outputs, "run_003"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(outputs, "other", "recognition_json"), 0o755))

	now := time.Now()
	require.NoError(t, os.Chtimes(filepath.Join(outputs, "run_001"), now.Add(-2*time.Hour), now.Add(-2*time.Hour)))
	require.NoError(t, os.Chtimes(filepath.Join(outputs, "run_002"), now.Add(-time.Hour), now.Add(-time.Hour)))
	require.NoError(t, os.Chtimes(filepath.Join(outputs, "run_003"), now, now))
	require.NoError(t, os.Chtimes(filepath.Join(outputs, "other"), now, now))

	got, err := FindLatestRecognitionDir(outputs)
	require.NoError(t, err)
	assert.Equal(t, newer, got)
}

func TestFindLatestRecognitionDir_None(t *testing.T) {
	_, err := FindLatestRecognitionDir(t.TempDir())
	require.ErrorIs(t, err, ErrRecognitionDirNotFound)
}
