package pipeline

import (
	"github.com/opusbook/opusbook/internal/broker"
	"github.com/opusbook/opusbook/internal/store"
)

// Stage identifies one pipeline stage by its completion queue.
type Stage string

const (
	StageExtract   Stage = "extract"
	StageSegment   Stage = "segment"
	StageSynth     Stage = "synth"
	StageTranscode Stage = "transcode"
)

// completionQueue maps a stage to its completion queue name.
func (s Stage) completionQueue() string {
	switch s {
	case StageExtract:
		return broker.ExtractCompleted
	case StageSegment:
		return broker.SegmentCompleted
	case StageSynth:
		return broker.SynthCompleted
	case StageTranscode:
		return broker.TranscodeCompleted
	}
	return ""
}

// transition is the status and milestone a successful stage commits.
type transition struct {
	status  store.BookStatus
	percent float64
}

// transitions is the authoritative stage table. Milestone percents are the
// only values the system commits to; they never decrease.
var transitions = map[Stage]transition{
	StageExtract:   {store.StatusSegmenting, 25},
	StageSegment:   {store.StatusGeneratingAudio, 50},
	StageSynth:     {store.StatusTranscoding, 75},
	StageTranscode: {store.StatusCompleted, 100},
}

// Stages in pipeline order.
var Stages = []Stage{StageExtract, StageSegment, StageSynth, StageTranscode}

// statusRank orders the state machine so redelivered completions never move
// a book backwards.
var statusRank = map[store.BookStatus]int{
	store.StatusPending:         0,
	store.StatusExtracting:      1,
	store.StatusSegmenting:      2,
	store.StatusGeneratingAudio: 3,
	store.StatusTranscoding:     4,
	store.StatusCompleted:       5,
	store.StatusFailed:          6,
}
