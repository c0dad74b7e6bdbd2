package corpus

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/ownlingo/catalog-translate/translator"
)

// JSONStore keeps results in a JSON corpus file. Every Save rewrites the
// output file atomically, so an interrupted run loses at most the records
// that were in flight.
type JSONStore struct {
	input         string
	output        string
	defaultTarget string

	mu    sync.Mutex
	doc   *Document
	index map[string]*Record
}

// NewJSONStore creates a store reading input and writing output.
// An empty output overwrites the input file.
func NewJSONStore(input, output, defaultTarget string) *JSONStore {
	if output == "" {
		output = input
	}
	return &JSONStore{
		input:         input,
		output:        output,
		defaultTarget: defaultTarget,
	}
}

// Output returns the path results are written to
func (s *JSONStore) Output() string {
	return s.output
}

// Load reads the input corpus. When a separate output file from an earlier
// run exists, its results are merged in so the run resumes.
func (s *JSONStore) Load(ctx context.Context) (*Document, error) {
	doc, err := ReadFile(s.input)
	if err != nil {
		return nil, err
	}

	if s.output != s.input {
		prev, err := ReadFile(s.output)
		switch {
		case err == nil:
			saved := make(map[string]savedResult, len(prev.Records))
			for _, rec := range prev.Records {
				saved[resultKey(rec.Key(), translator.NormalizeLanguage(rec.TargetLang))] = savedResult{
					SourceLang:  rec.SourceLang,
					TargetLang:  rec.TargetLang,
					Translation: rec.Translation,
					Error:       rec.Error,
				}
			}
			applySaved(doc, s.defaultTarget, func(key, target string) (savedResult, bool) {
				r, ok := saved[resultKey(key, target)]
				return r, ok
			})
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("resume from %s: %w", s.output, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = doc
	s.index = make(map[string]*Record, len(doc.Records))
	for _, rec := range doc.Records {
		s.index[rec.Key()] = rec
	}

	return doc.Clone(), nil
}

// Save copies the result fields of rec into the stored corpus and rewrites the output
func (s *JSONStore) Save(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.doc == nil {
		return &OutputError{Path: s.output, Err: errors.New("store not loaded")}
	}

	stored, ok := s.index[rec.Key()]
	if !ok {
		return &OutputError{Path: s.output, Err: fmt.Errorf("unknown record %s", rec.Key())}
	}

	stored.SourceLang = rec.SourceLang
	stored.TargetLang = rec.TargetLang
	stored.Error = rec.Error
	stored.Translation = nil
	if rec.Translation != nil {
		t := *rec.Translation
		stored.Translation = &t
	}

	return s.doc.WriteFile(s.output)
}

// Close is a no-op; every Save is already durable
func (s *JSONStore) Close() error {
	return nil
}
