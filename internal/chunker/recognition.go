package chunker

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"docrag/internal/domain"
)

// ErrRecognitionDirNotFound is returned when the directory to index does not exist.
var ErrRecognitionDirNotFound = errors.New("recognition dir not found")

// Shape identifies which accepted top-level JSON layout a file matched.
type Shape int

const (
	ShapeUnrecognized Shape = iota
	// ShapeItemsDocument is an object with a list-valued "items" field.
	ShapeItemsDocument
	// ShapeSingleItem is an object carrying "text" or "content" itself.
	ShapeSingleItem
	// ShapeItemList is a top-level list of items.
	ShapeItemList
)

func (s Shape) String() string {
	switch s {
	case ShapeItemsDocument:
		return "items-document"
	case ShapeSingleItem:
		return "single-item"
	case ShapeItemList:
		return "item-list"
	default:
		return "unrecognized"
	}
}

// FileOutcome reports what happened to one JSON file during extraction.
type FileOutcome struct {
	Path    string
	Shape   Shape
	Chunks  int
	Skipped bool
	Reason  string
}

// Extraction is the flat ordered chunk list plus per-file outcomes.
type Extraction struct {
	Chunks []domain.SourceChunk
	Files  []FileOutcome
}

// Skipped returns the outcomes of files that could not be read or parsed.
func (e *Extraction) Skipped() []FileOutcome {
	var out []FileOutcome
	for _, f := range e.Files {
		if f.Skipped {
			out = append(out, f)
		}
	}
	return out
}

var (
	textKeys = []string{"text", "content", "value", "raw_text"}
	pageKeys = []string{"page", "page_no", "page_index"}
	lineKeys = []string{"line", "line_no", "line_number", "row_index", "index"}

	pageMarkerRe  = regexp.MustCompile(`page[_-]?(\d+)`)
	trailingNumRe = regexp.MustCompile(`(\d+)\.json$`)
)

const summaryFileName = "summary.json"

// ExtractDir normalizes every JSON document under dir into chunks.
// Files are visited in sorted path order; unreadable or malformed files are
// reported as skipped and do not abort the scan.
func ExtractDir(dir string) (*Extraction, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrRecognitionDirNotFound, abs)
	}
	files, err := discoverJSON(abs)
	if err != nil {
		return nil, err
	}
	out := &Extraction{}
	for _, path := range files {
		chunks, outcome := extractFile(path)
		out.Chunks = append(out.Chunks, chunks...)
		out.Files = append(out.Files, outcome)
	}
	return out, nil
}

func discoverJSON(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".json") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	if len(files) == 0 {
		summary := filepath.Join(root, summaryFileName)
		if _, err := os.Stat(summary); err == nil {
			files = []string{summary}
		}
	}
	return files, nil
}

func extractFile(path string) ([]domain.SourceChunk, FileOutcome) {
	outcome := FileOutcome{Path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		outcome.Skipped = true
		outcome.Reason = "read failed: " + err.Error()
		return nil, outcome
	}
	if !utf8.Valid(data) {
		outcome.Skipped = true
		outcome.Reason = "invalid utf-8"
		return nil, outcome
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		outcome.Skipped = true
		outcome.Reason = "invalid json: " + err.Error()
		return nil, outcome
	}
	// The file must hold exactly one JSON value.
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		outcome.Skipped = true
		outcome.Reason = "invalid json: trailing data"
		return nil, outcome
	}

	shape, items := classify(doc)
	outcome.Shape = shape
	pageHint := PageFromFilename(filepath.Base(path))

	// Synthesized line numbers restart for every file.
	counters := map[int]int{}
	var chunks []domain.SourceChunk
	for _, item := range items {
		text, ok := itemText(item)
		if !ok {
			continue
		}
		obj, _ := item.(map[string]any)
		page := firstPositiveInt(obj, pageKeys)
		if page == 0 {
			page = pageHint
		}
		if page == 0 {
			page = 1
		}
		line := firstPositiveInt(obj, lineKeys)
		if line == 0 {
			counters[page]++
			line = counters[page]
		}
		meta := obj
		if meta == nil {
			meta = map[string]any{"text": item}
		}
		chunks = append(chunks, domain.SourceChunk{
			Text:     text,
			Page:     page,
			Line:     line,
			Source:   path,
			Metadata: meta,
		})
	}
	outcome.Chunks = len(chunks)
	return chunks, outcome
}

// classify matches the decoded document against the accepted layouts in
// their fixed trial order.
func classify(doc any) (Shape, []any) {
	switch v := doc.(type) {
	case map[string]any:
		if items, ok := v["items"].([]any); ok {
			return ShapeItemsDocument, items
		}
		_, hasText := v["text"]
		_, hasContent := v["content"]
		if hasText || hasContent {
			return ShapeSingleItem, []any{v}
		}
	case []any:
		return ShapeItemList, v
	}
	return ShapeUnrecognized, nil
}

// itemText returns the trimmed text of an item, or false when the item
// carries no retrievable content.
func itemText(item any) (string, bool) {
	switch v := item.(type) {
	case string:
		s := strings.TrimSpace(v)
		return s, s != ""
	case map[string]any:
		for _, key := range textKeys {
			if s, ok := v[key].(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s), true
			}
		}
		if lines, ok := v["lines"].([]any); ok {
			parts := make([]string, 0, len(lines))
			for _, l := range lines {
				lm, ok := l.(map[string]any)
				if !ok {
					continue
				}
				s, _ := lm["text"].(string)
				parts = append(parts, s)
			}
			joined := strings.TrimSpace(strings.Join(parts, " "))
			return joined, joined != ""
		}
	}
	return "", false
}

// firstPositiveInt returns the first integral value >= 1 found under keys, or 0.
func firstPositiveInt(obj map[string]any, keys []string) int {
	if obj == nil {
		return 0
	}
	for _, key := range keys {
		n, ok := obj[key].(json.Number)
		if !ok {
			continue
		}
		v, err := n.Int64()
		if err != nil || v < 1 {
			continue
		}
		return int(v)
	}
	return 0
}

// PageFromFilename infers a page number from names like "doc_page_007.json"
// or "3.json". Only the first matching pattern is consulted. It returns 0
// when nothing usable is found.
func PageFromFilename(name string) int {
	for _, re := range []*regexp.Regexp{pageMarkerRe, trailingNumRe} {
		m := re.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		if n, err := strconv.Atoi(m[1]); err == nil && n >= 1 {
			return n
		}
		return 0
	}
	return 0
}
