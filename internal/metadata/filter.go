package metadata

// DefaultIgnoredFields lists the system-generated fields excluded before any
// analysis: filesystem paths and timestamps say nothing about the file's own
// history. Both the classifier path and the narrative path must filter with
// the same set, so it lives here once and is injected into each.
var DefaultIgnoredFields = []string{
	"SourceFile",
	"FileModifyDate",
	"FileAccessDate",
	"FileCreateDate",
	"Directory",
	"FileName",
}

// IgnoredFieldSet is a set of field names excluded from analysis.
type IgnoredFieldSet map[string]struct{}

// NewIgnoredFieldSet builds a set from a list of field names. An empty list
// yields the default set.
func NewIgnoredFieldSet(fields []string) IgnoredFieldSet {
	if len(fields) == 0 {
		fields = DefaultIgnoredFields
	}
	set := make(IgnoredFieldSet, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// Contains reports whether the field name is in the set. Matching is
// case-sensitive, like the tool's field names.
func (s IgnoredFieldSet) Contains(field string) bool {
	_, ok := s[field]
	return ok
}

// Filter returns a copy of doc with all ignored fields removed. Filtering an
// already-filtered document yields an equal document.
func (s IgnoredFieldSet) Filter(doc Document) Document {
	out := make(Document, len(doc))
	for k, v := range doc {
		if s.Contains(k) {
			continue
		}
		out[k] = v
	}
	return out
}
