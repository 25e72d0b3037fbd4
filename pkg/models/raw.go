package models

import "sort"

// RawRecord is one fetched item exactly as the source delivered it.
// It is stored verbatim for audit and never mutated.
type RawRecord struct {
	Source Source
	Data   map[string]any
}

// Keys returns the record's top-level field names, sorted.
func (r RawRecord) Keys() []string {
	keys := make([]string, 0, len(r.Data))
	for k := range r.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// NewRawBatch tags every item with src.
func NewRawBatch(src Source, items []map[string]any) []RawRecord {
	out := make([]RawRecord, 0, len(items))
	for _, it := range items {
		out = append(out, RawRecord{Source: src, Data: it})
	}
	return out
}
