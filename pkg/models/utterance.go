package models

import "time"

// Utterance speakers.
const (
	SpeakerCaller = "caller"
	SpeakerAgent  = "agent"
	SpeakerSystem = "system"
)

// Utterance is one transcript segment on a call timeline. Within a call,
// a new caller utterance starts 100 ms after the latest end_ms on record;
// the agent reply starts 120 ms after the caller utterance it answers.
type Utterance struct {
	ID         string    `json:"id"`
	CallID     string    `json:"call_id"`
	Speaker    string    `json:"speaker"`
	Text       string    `json:"text"`
	StartMs    int64     `json:"start_ms"`
	EndMs      int64     `json:"end_ms"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}

// Utterance timeline spacing in milliseconds.
const (
	UtteranceGapMs      = 100
	AgentReplyDelayMs   = 120
	MinUtteranceDurMs   = 300
	MaxUtteranceDurMs   = 5000
	UtteranceMsPerChar  = 60
	DefaultConfidence   = 0.9
	AgentTextConfidence = 1.0
)

// EstimateDurationMs derives an utterance duration from text length when
// the STT provider did not report one: 60 ms per character clamped to
// [300 ms, 5 s].
func EstimateDurationMs(text string) int64 {
	d := int64(len([]rune(text))) * UtteranceMsPerChar
	if d < MinUtteranceDurMs {
		return MinUtteranceDurMs
	}
	if d > MaxUtteranceDurMs {
		return MaxUtteranceDurMs
	}
	return d
}
