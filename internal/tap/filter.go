package tap

import (
	"github.com/utrack/hypelens/internal/model"
)

// Filter defines matching conditions for tap sessions. Empty sets match
// everything.
type Filter struct {
	Sources    map[string]struct{}
	Messages   map[string]struct{}
	Types      map[model.EventType]struct{}
	FailedOnly bool
}

// Match checks whether a delivery record passes this filter.
func (f Filter) Match(rec model.Record) bool {
	if f.FailedOnly && rec.Delivered {
		return false
	}
	if !acceptsKey(f.Sources, rec.Source) {
		return false
	}
	if !acceptsKey(f.Messages, rec.Message) {
		return false
	}
	if len(f.Types) > 0 {
		if rec.Type == "" {
			return false
		}
		if _, ok := f.Types[rec.Type]; !ok {
			return false
		}
	}
	return true
}

func acceptsKey(set map[string]struct{}, key string) bool {
	if len(set) == 0 {
		return true
	}
	_, ok := set[key]
	return ok
}
