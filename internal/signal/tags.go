package signal

import "encoding/json"

// Well-known semantic tags. The "godark" prefix marks known-entity dark
// flow involvement; the rest are compound pattern tags.
const (
	TagPartner        = "godark-partner"
	TagPrep           = "godark-prep"
	TagLikely         = "godark-likely"
	TagSettlement     = "settlement"
	TagCluster        = "cluster"
	TagBatch          = "batch"
	TagCrossChain     = "cross-chain"
	TagEquityRotation = "equity-rotation"
	TagVerifiedDest   = "verified-destination"
)

// TagSet is an ordered, duplicate-free set of semantic labels.
// Order matters for display; membership matters for logic.
type TagSet struct {
	order []string
	seen  map[string]bool
}

// NewTagSet builds a tag set from the given labels, dropping duplicates
// while preserving first-occurrence order.
func NewTagSet(tags ...string) *TagSet {
	ts := &TagSet{seen: make(map[string]bool, len(tags))}
	for _, t := range tags {
		ts.Add(t)
	}
	return ts
}

// Add appends tag if not already present. Idempotent.
func (ts *TagSet) Add(tag string) {
	if ts.seen == nil {
		ts.seen = make(map[string]bool)
	}
	if ts.seen[tag] {
		return
	}
	ts.seen[tag] = true
	ts.order = append(ts.order, tag)
}

// Has reports membership.
func (ts *TagSet) Has(tag string) bool {
	if ts == nil {
		return false
	}
	return ts.seen[tag]
}

// Len returns the number of tags.
func (ts *TagSet) Len() int {
	if ts == nil {
		return 0
	}
	return len(ts.order)
}

// AsSlice returns the tags in insertion order. The returned slice is a copy.
func (ts *TagSet) AsSlice() []string {
	if ts == nil {
		return nil
	}
	out := make([]string, len(ts.order))
	copy(out, ts.order)
	return out
}

// MarshalJSON encodes the set as a plain JSON array.
func (ts *TagSet) MarshalJSON() ([]byte, error) {
	if ts == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(ts.order)
}

// UnmarshalJSON decodes a JSON array, dropping duplicates.
func (ts *TagSet) UnmarshalJSON(data []byte) error {
	var tags []string
	if err := json.Unmarshal(data, &tags); err != nil {
		return err
	}
	*ts = *NewTagSet(tags...)
	return nil
}
