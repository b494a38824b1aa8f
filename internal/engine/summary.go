package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/itchyny/gojq"

	"github.com/rendis/pinnacle/pkg/schema"
)

// Default jq queries over a directory-creation response. Each count is
// optional in the response; directories fall back to the created path list.
const (
	DirsQuery     = `.summary.total_dirs // (.createdPaths // [] | length)`
	FilesQuery    = `.summary.total_files // 0`
	SymlinksQuery = `.summary.total_symlinks // 0`
	ProjectQuery  = `.summary.project // ""`
	BlockQuery    = `.summary.block // ""`
	RunQuery      = `.summary.run // ""`
)

// Summary is the aggregated result of a directory-creation call.
type Summary struct {
	Dirs     int
	Files    int
	Symlinks int
	Project  string
	Block    string
	Run      string
}

// Summarizer extracts a Summary with jq queries. Compiled queries are cached.
type Summarizer struct {
	queries map[string]string

	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

// NewSummarizer creates a Summarizer with the default queries.
func NewSummarizer() *Summarizer {
	return &Summarizer{
		queries: map[string]string{
			"dirs":     DirsQuery,
			"files":    FilesQuery,
			"symlinks": SymlinksQuery,
			"project":  ProjectQuery,
			"block":    BlockQuery,
			"run":      RunQuery,
		},
		cache: make(map[string]*gojq.Code),
	}
}

// WithQuery overrides the query of one summary field
// (dirs, files, symlinks, project, block, run).
func (s *Summarizer) WithQuery(field, query string) *Summarizer {
	s.queries[field] = query
	return s
}

// Summarize evaluates every query against the raw response body.
func (s *Summarizer) Summarize(ctx context.Context, raw json.RawMessage) (Summary, error) {
	var input any
	if err := json.Unmarshal(raw, &input); err != nil {
		return Summary{}, schema.NewError(schema.ErrCodeRemoteExecution, "malformed directory-creation response").WithCause(err)
	}

	var out Summary
	ints := map[string]*int{"dirs": &out.Dirs, "files": &out.Files, "symlinks": &out.Symlinks}
	for field, dst := range ints {
		v, err := s.eval(ctx, field, input)
		if err != nil {
			return Summary{}, err
		}
		*dst = toInt(v)
	}
	strs := map[string]*string{"project": &out.Project, "block": &out.Block, "run": &out.Run}
	for field, dst := range strs {
		v, err := s.eval(ctx, field, input)
		if err != nil {
			return Summary{}, err
		}
		if v != nil {
			*dst = fmt.Sprint(v)
		}
	}
	return out, nil
}

func (s *Summarizer) eval(ctx context.Context, field string, input any) (any, error) {
	query := s.queries[field]
	code, err := s.getOrCompile(query)
	if err != nil {
		return nil, err
	}
	iter := code.RunWithContext(ctx, input)
	v, ok := iter.Next()
	if !ok {
		return nil, nil
	}
	if err, isErr := v.(error); isErr {
		return nil, schema.NewErrorf(schema.ErrCodeRemoteExecution,
			"summary query %q failed: %s", query, err.Error()).WithCause(err)
	}
	return v, nil
}

func (s *Summarizer) getOrCompile(query string) (*gojq.Code, error) {
	s.mu.RLock()
	if code, ok := s.cache[query]; ok {
		s.mu.RUnlock()
		return code, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if code, ok := s.cache[query]; ok {
		return code, nil
	}

	parsed, err := gojq.Parse(query)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "jq parse error in %q: %s", query, err.Error()).WithCause(err)
	}
	code, err := gojq.Compile(parsed, gojq.WithEnvironLoader(func() []string { return nil }))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "jq compile error in %q: %s", query, err.Error()).WithCause(err)
	}
	s.cache[query] = code
	return code, nil
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	default:
		return 0
	}
}
