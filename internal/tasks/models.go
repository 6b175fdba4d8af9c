package tasks

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a conversion task.
//
// The provider vocabularies ("succeeded", "done", "queued") are mapped onto
// this closed enum at the provider boundary; only these values are persisted.
type Status string

const (
	StatusDraft         Status = "draft"
	StatusInit          Status = "init"
	StatusPitchAnalysis Status = "pitch_analysis"
	StatusDispatched    Status = "dispatched"
	StatusProcessing    Status = "processing"
	StatusCompleted     Status = "completed"
	StatusError         Status = "error"
	StatusNoSpeech      Status = "no_speech"
)

var allStatuses = []Status{
	StatusDraft,
	StatusInit,
	StatusPitchAnalysis,
	StatusDispatched,
	StatusProcessing,
	StatusCompleted,
	StatusError,
	StatusNoSpeech,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var terminalStatuses = map[Status]struct{}{
	StatusCompleted: {},
	StatusError:     {},
	StatusNoSpeech:  {},
}

// forwardTransitions lists the legal forward edges of the state machine.
// Error and no_speech are additionally reachable from every non-terminal
// state; see CanTransition.
var forwardTransitions = map[Status][]Status{
	StatusDraft:         {StatusInit},
	StatusInit:          {StatusPitchAnalysis, StatusDispatched},
	StatusPitchAnalysis: {StatusDispatched},
	StatusDispatched:    {StatusProcessing},
	StatusProcessing:    {StatusCompleted},
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a status is sticky: no further transitions are
// permitted once a task reaches it.
func (s Status) IsTerminal() bool {
	_, ok := terminalStatuses[s]
	return ok
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	if from.IsTerminal() {
		return false
	}
	if _, known := statusSet[to]; !known {
		return false
	}
	if to == StatusError || to == StatusNoSpeech {
		return true
	}
	for _, next := range forwardTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Progress derives the caller-visible completion percentage: 0 before
// dispatch, 50 during pitch analysis and submission, 100 once the provider
// is processing. Terminal failures report 0; completed reports 100.
func (s Status) Progress() int {
	switch s {
	case StatusPitchAnalysis, StatusDispatched:
		return 50
	case StatusProcessing, StatusCompleted:
		return 100
	default:
		return 0
	}
}

// Task represents a voice-conversion request persisted in SQLite.
type Task struct {
	ID            string
	OwnerID       string
	SourceURL     string
	TargetVoiceID string
	PitchShift    *float64
	Status        Status
	Provider      string
	ProviderJobID string
	OutputURL     string
	ErrorMessage  string
	CostMetadata  map[string]any
	WebhookURL    string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsProcessing reports whether the task is waiting on a provider callback.
func (t *Task) IsProcessing() bool {
	return t.Status == StatusProcessing
}

// Public is the task representation exposed to callers through the API and
// outbound webhooks.
type Public struct {
	ID            string         `json:"id"`
	OwnerID       string         `json:"owner_id"`
	SourceURL     string         `json:"source_url"`
	TargetVoiceID string         `json:"target_voice_id"`
	PitchShift    *float64       `json:"pitch_shift,omitempty"`
	Status        Status         `json:"status"`
	Progress      int            `json:"progress"`
	ProviderJobID string         `json:"provider_job_id,omitempty"`
	OutputURL     string         `json:"output_url,omitempty"`
	Error         string         `json:"error,omitempty"`
	CostMetadata  map[string]any `json:"cost_metadata,omitempty"`
	WebhookURL    string         `json:"webhook_url,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Public converts the task into its caller-visible representation.
func (t *Task) Public() Public {
	return Public{
		ID:            t.ID,
		OwnerID:       t.OwnerID,
		SourceURL:     t.SourceURL,
		TargetVoiceID: t.TargetVoiceID,
		PitchShift:    t.PitchShift,
		Status:        t.Status,
		Progress:      t.Status.Progress(),
		ProviderJobID: t.ProviderJobID,
		OutputURL:     t.OutputURL,
		Error:         t.ErrorMessage,
		CostMetadata:  t.CostMetadata,
		WebhookURL:    t.WebhookURL,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
}

// HealthSummary describes aggregated task counts per key lifecycle states.
type HealthSummary struct {
	Total      int `json:"total"`
	Draft      int `json:"draft"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}
