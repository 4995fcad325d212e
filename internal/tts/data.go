package tts

import (
	"sort"
	"strings"
	"time"
)

// Segment is one synthesis unit. The driver owns it exclusively while the
// batch runs; once AudioPath is populated the segment is treated as
// read-only.
type Segment struct {
	Text          string
	StartTime     time.Duration
	EndTime       time.Duration
	AudioPath     string
	AudioDuration time.Duration

	// Voice selection. CloneAudioPath/CloneAudioText reference a sample
	// for voice cloning; CloneVoiceURI is filled in once a handle has
	// been resolved.
	Voice          string
	CloneAudioPath string
	CloneAudioText string
	CloneVoiceURI  string
}

// Data is a time-ordered segment collection.
type Data struct {
	Segments []*Segment
}

// NewData filters out empty and whitespace-only segments and sorts the rest
// by start time. Both steps are construction invariants: concurrent
// processing later never re-orders the collection.
func NewData(segments []*Segment) *Data {
	kept := make([]*Segment, 0, len(segments))
	for _, seg := range segments {
		if seg == nil || strings.TrimSpace(seg.Text) == "" {
			continue
		}
		kept = append(kept, seg)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].StartTime < kept[j].StartTime
	})

	return &Data{Segments: kept}
}

// Len returns the number of segments.
func (d *Data) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Segments)
}
