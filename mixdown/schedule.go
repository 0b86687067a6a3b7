// Package mixdown places synthesized speech segments on the original
// timeline over the separated background and renders the final mix.
//
// Placement is resolved purely from the transcript timing before any ffmpeg
// work: overlaps between consecutive segments are shifted or truncated, too
// short survivors are dropped, and the resulting schedule drives one
// time-stretch per segment plus a single mix pass.
package mixdown

import (
	"sort"

	"github.com/AltairaLabs/DubKit/types"
)

// Scheduling defaults, in milliseconds.
const (
	// DefaultGapMs is the minimum silence kept between consecutive segments.
	DefaultGapMs = 100

	// DefaultMinSegmentMs drops segments whose adjusted duration falls at or
	// below it; anything that short is an artifact of overlap resolution.
	DefaultMinSegmentMs = 100
)

// Placement is one segment's resolved spot on the output timeline. Index is
// the original transcript position; only timing is ever adjusted, never the
// speech-to-transcript mapping.
type Placement struct {
	Index      int
	StartMs    int64
	DurationMs int64
}

// EndMs returns the placement's end on the timeline.
func (p Placement) EndMs() int64 { return p.StartMs + p.DurationMs }

// ResolveSchedule turns transcript timing into an overlap-free schedule.
//
// Segments are ordered by start. For each consecutive pair closer than gapMs,
// the longer-at-fault rule applies: when the earlier segment is the longer
// one it is truncated to end gapMs before the later one starts, otherwise
// the later one is delayed to gapMs after the earlier one ends. Segments
// whose adjusted duration is at or under minMs are dropped. The second
// return value lists the transcript indexes of the dropped segments.
func ResolveSchedule(segments []types.TranscriptSegment, gapMs, minMs int64) ([]Placement, []int) {
	placements := make([]Placement, 0, len(segments))
	for i, seg := range segments {
		placements = append(placements, Placement{
			Index:      i,
			StartMs:    seg.StartMs,
			DurationMs: seg.DurationMs(),
		})
	}
	sort.SliceStable(placements, func(i, j int) bool {
		return placements[i].StartMs < placements[j].StartMs
	})

	for i := 0; i+1 < len(placements); i++ {
		a := &placements[i]
		b := &placements[i+1]
		if a.EndMs()+gapMs <= b.StartMs {
			continue
		}
		if a.DurationMs > b.DurationMs {
			a.DurationMs = b.StartMs - gapMs - a.StartMs
		} else {
			b.StartMs = a.EndMs() + gapMs
		}
	}

	kept := placements[:0]
	var dropped []int
	for _, p := range placements {
		if p.DurationMs <= minMs {
			dropped = append(dropped, p.Index)
			continue
		}
		kept = append(kept, p)
	}
	return kept, dropped
}
