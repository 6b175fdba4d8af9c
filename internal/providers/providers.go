package providers

import (
	"context"
	"fmt"
	"strings"

	"resonate/internal/config"
	"resonate/internal/services"
)

// Kind names an inference backend shape. The two backends speak different
// wire formats but fill the same role, so the rest of the service only ever
// sees this label and the Submitter interface.
type Kind string

const (
	// KindPrediction is the hosted prediction API backend.
	KindPrediction Kind = "prediction"
	// KindPod is the dedicated pod backend.
	KindPod Kind = "pod"
)

// ParseKind validates a provider label from configuration or a webhook path.
func ParseKind(raw string) (Kind, error) {
	switch Kind(strings.TrimSpace(strings.ToLower(raw))) {
	case KindPrediction:
		return KindPrediction, nil
	case KindPod:
		return KindPod, nil
	default:
		return "", services.Wrap(services.ErrValidation, "providers", "parse-kind",
			fmt.Sprintf("unknown provider %q", raw), nil)
	}
}

// Outcome is the provider-neutral reading of a job's state.
type Outcome string

const (
	OutcomeProcessing Outcome = "processing"
	OutcomeCompleted  Outcome = "completed"
	OutcomeFailed     Outcome = "failed"
	OutcomeNoSpeech   Outcome = "no_speech"
)

// Terminal reports whether the outcome ends the job.
func (o Outcome) Terminal() bool {
	return o == OutcomeCompleted || o == OutcomeFailed || o == OutcomeNoSpeech
}

// SubmitRequest carries everything a backend needs to start a conversion.
type SubmitRequest struct {
	TaskID           string
	SourceURL        string
	ModelDownloadURL string
	PitchShift       float64
	WebhookURL       string
}

// Notification is the provider-neutral form of a job update, whether it
// arrived by webhook or by polling.
type Notification struct {
	Provider  Kind
	JobID     string
	Outcome   Outcome
	OutputURL string
	ErrorText string
}

// Submitter starts conversion jobs on one backend and reads their state back.
type Submitter interface {
	Kind() Kind
	Submit(ctx context.Context, req SubmitRequest) (string, error)
	Poll(ctx context.Context, jobID string) (*Notification, error)
}

// New builds the submitter selected by cfg.Dispatch.Provider.
func New(cfg *config.Config) (Submitter, error) {
	kind, err := ParseKind(cfg.Dispatch.Provider)
	if err != nil {
		return nil, err
	}
	switch kind {
	case KindPod:
		return NewPodClient(cfg.ProviderB), nil
	default:
		return NewPredictionClient(cfg.ProviderA), nil
	}
}

// ParseNotification decodes a raw webhook payload from the named backend
// into the neutral form.
func ParseNotification(kind Kind, payload []byte) (*Notification, error) {
	switch kind {
	case KindPrediction:
		return parsePredictionNotification(payload)
	case KindPod:
		return parsePodNotification(payload)
	default:
		return nil, services.Wrap(services.ErrValidation, "providers", "parse-notification",
			fmt.Sprintf("unknown provider %q", kind), nil)
	}
}

// noSpeechText matches the failure message both backends emit when the
// source recording contains no voiced audio.
func noSpeechText(message string) bool {
	return strings.Contains(strings.ToLower(message), "no speech")
}
