package signal

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrMissingKind      = errors.New("signal: missing kind")
	ErrUnknownKind      = errors.New("signal: unknown kind")
	ErrMissingTimestamp = errors.New("signal: missing timestamp")
	ErrMissingTags      = errors.New("signal: missing tags")
	ErrTagsNotList      = errors.New("signal: tags must be a list")
)

// stringFields maps raw payload keys to their Signal destination for the
// non-numeric attributes we recognize.
var stringFields = map[string]bool{
	"kind": true, "sub_type": true, "summary": true, "id": true,
	"source": true, "destination": true, "issuer": true,
}

// Validate canonicalizes a raw producer payload into a Signal.
//
// A payload missing kind, timestamp, or tags is structurally invalid and is
// rejected here, before any fingerprinting or store write happens. Numeric
// attributes other than the timestamp are collected into Signal.Numeric
// under their payload key.
func Validate(raw map[string]any) (*Signal, error) {
	kindVal, ok := raw["kind"].(string)
	if !ok || kindVal == "" {
		return nil, ErrMissingKind
	}
	kind := Kind(kindVal)
	if !kind.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kindVal)
	}

	ts, ok := asInt64(raw["timestamp"])
	if !ok || ts <= 0 {
		return nil, ErrMissingTimestamp
	}

	rawTags, present := raw["tags"]
	if !present {
		return nil, ErrMissingTags
	}
	tagList, err := coerceTags(rawTags)
	if err != nil {
		return nil, err
	}

	s := &Signal{
		Kind:      kind,
		Timestamp: ts,
		Tags:      NewTagSet(tagList...),
	}

	if id, ok := raw["id"].(string); ok && id != "" {
		s.ID = id
	} else {
		s.ID = DeriveID(kind, ts)
	}
	s.SubType, _ = raw["sub_type"].(string)
	s.Summary, _ = raw["summary"].(string)
	s.Addresses.Source, _ = raw["source"].(string)
	s.Addresses.Destination, _ = raw["destination"].(string)
	s.Addresses.Issuer, _ = raw["issuer"].(string)

	for key, val := range raw {
		if key == "timestamp" || key == "tags" || stringFields[key] {
			continue
		}
		if f, ok := asFloat64(val); ok {
			if s.Numeric == nil {
				s.Numeric = make(map[string]float64)
			}
			s.Numeric[key] = f
		}
	}

	return s, nil
}

// coerceTags accepts the list shapes JSON decoding produces.
func coerceTags(v any) ([]string, error) {
	switch tags := v.(type) {
	case []string:
		return tags, nil
	case []any:
		out := make([]string, 0, len(tags))
		for _, t := range tags {
			str, ok := t.(string)
			if !ok {
				return nil, ErrTagsNotList
			}
			out = append(out, str)
		}
		return out, nil
	default:
		return nil, ErrTagsNotList
	}
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		if math.Trunc(n) != n {
			return 0, false
		}
		return int64(n), true
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
