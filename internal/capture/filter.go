package capture

import (
	"io/fs"
	"path/filepath"
	"strings"
	"time"
)

// Filter defines which directory entries count as artifacts.
type Filter struct {
	Extensions    map[string]struct{}
	ModifiedSince time.Time
}

// NewFilter builds a filter from extensions with or without the leading dot.
func NewFilter(extensions []string) Filter {
	f := Filter{}
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if f.Extensions == nil {
			f.Extensions = make(map[string]struct{})
		}
		f.Extensions[ext] = struct{}{}
	}
	return f
}

// Since returns a copy that also requires a modification time at or after t.
func (f Filter) Since(t time.Time) Filter {
	f.ModifiedSince = t
	return f
}

// Match checks a regular file against the filter.
func (f Filter) Match(name string, info fs.FileInfo) bool {
	if !info.Mode().IsRegular() {
		return false
	}
	if !f.acceptsExtension(name) {
		return false
	}
	if !f.ModifiedSince.IsZero() && info.ModTime().Before(f.ModifiedSince) {
		return false
	}
	return true
}

func (f Filter) acceptsExtension(name string) bool {
	if len(f.Extensions) == 0 {
		return true
	}
	_, ok := f.Extensions[strings.ToLower(filepath.Ext(name))]
	return ok
}
