package loader

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// IncludeKey names the files a document layers itself over.
const IncludeKey = "@include"

// ErrIncludeDepthExceeded is returned for too deeply nested includes.
var ErrIncludeDepthExceeded = errors.New("include depth exceeded")

// Files reads TOML configuration documents.
//
// A document may name other files under IncludeKey, as a string or an array
// of strings, relative to its own directory. Includes apply in order, each
// over the previous one, and the including document applies last.
type Files struct {
	fs       FileSystem
	maxDepth int
}

// NewFiles creates a reader over fsys. maxDepth bounds include nesting.
func NewFiles(fsys FileSystem, maxDepth int) *Files {
	return &Files{fs: fsys, maxDepth: maxDepth}
}

// Read loads the document at path and its includes. A missing document
// yields nil, nil; a missing include is an error.
func (f *Files) Read(path string) (map[string]any, error) {
	if _, err := f.fs.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return f.read(path, f.maxDepth)
}

// ReadFrom loads a document from r, named source in errors. Its includes
// resolve against dir.
func (f *Files) ReadFrom(r io.Reader, source, dir string) (map[string]any, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", source, err)
	}
	doc, err := parse(source, data)
	if err != nil {
		return nil, err
	}
	return f.resolve(doc, dir, f.maxDepth)
}

func (f *Files) read(path string, depth int) (map[string]any, error) {
	if depth <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrIncludeDepthExceeded, path)
	}
	data, err := f.fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	doc, err := parse(path, data)
	if err != nil {
		return nil, err
	}
	return f.resolve(doc, filepath.Dir(path), depth)
}

func (f *Files) resolve(doc map[string]any, dir string, depth int) (map[string]any, error) {
	includes, err := includeList(doc)
	if err != nil {
		return nil, err
	}
	if len(includes) == 0 {
		return doc, nil
	}

	merged := make(map[string]any)
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(dir, inc)
		}
		sub, err := f.read(inc, depth-1)
		if err != nil {
			return nil, fmt.Errorf("loading include %s: %w", inc, err)
		}
		merged = DeepMerge(merged, sub)
	}
	return DeepMerge(merged, doc), nil
}

// includeList removes IncludeKey from doc and returns the paths it held.
func includeList(doc map[string]any) ([]string, error) {
	raw, ok := doc[IncludeKey]
	if !ok {
		return nil, nil
	}
	delete(doc, IncludeKey)

	switch v := raw.(type) {
	case string:
		return []string{v}, nil
	case []any:
		paths := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%s entries must be strings, got %T", IncludeKey, item)
			}
			paths = append(paths, s)
		}
		return paths, nil
	default:
		return nil, fmt.Errorf("%s must be a string or an array of strings, got %T", IncludeKey, raw)
	}
}

func parse(source string, data []byte) (map[string]any, error) {
	var doc map[string]any
	if err := toml.Unmarshal(data, &doc); err != nil {
		perr := &ParseError{Path: source, Err: err}
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			perr.Line, perr.Column = derr.Position()
		}
		return nil, perr
	}
	if doc == nil {
		doc = make(map[string]any)
	}
	return doc, nil
}

// ParseError reports a malformed TOML document.
type ParseError struct {
	Path   string
	Line   int
	Column int
	Err    error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse error in %s at line %d, column %d: %v", e.Path, e.Line, e.Column, e.Err)
	}
	return fmt.Sprintf("parse error in %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
