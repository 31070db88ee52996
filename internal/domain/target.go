package domain

import (
	"fmt"
	"strings"
)

// Segment selects how a campaign's recipients are expanded.
type Segment string

const (
	SegmentAll      Segment = "all"
	SegmentTag      Segment = "tag"
	SegmentExternal Segment = "external"
)

// TargetConfig is a tagged variant: TagIDs is only meaningful for
// SegmentTag and Addresses only for SegmentExternal.
type TargetConfig struct {
	Segment   Segment  `json:"segment_type"`
	TagIDs    []string `json:"tag_ids,omitempty"`
	Addresses []string `json:"addresses,omitempty"`
}

// TargetAll targets every user in the user store.
func TargetAll() TargetConfig {
	return TargetConfig{Segment: SegmentAll}
}

// TargetByTag targets users carrying any of the given tags.
func TargetByTag(tagIDs ...string) TargetConfig {
	return TargetConfig{Segment: SegmentTag, TagIDs: tagIDs}
}

// TargetExternal targets literal addresses with no user record.
func TargetExternal(addresses ...string) TargetConfig {
	return TargetConfig{Segment: SegmentExternal, Addresses: addresses}
}

// Validate rejects unknown segments and empty tag or address sets.
func (t TargetConfig) Validate() error {
	switch t.Segment {
	case SegmentAll:
		return nil
	case SegmentTag:
		if len(nonBlank(t.TagIDs)) == 0 {
			return fmt.Errorf("tag segment needs at least one tag id: %w", ErrInvalidTarget)
		}
		return nil
	case SegmentExternal:
		if len(nonBlank(t.Addresses)) == 0 {
			return fmt.Errorf("external segment needs at least one address: %w", ErrInvalidTarget)
		}
		return nil
	default:
		return fmt.Errorf("unknown segment %q: %w", t.Segment, ErrInvalidTarget)
	}
}

func nonBlank(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}
