// Package tasks defines the messages exchanged over Kafka.
package tasks

import "time"

// ResumeIndexTask asks the indexer to (re)embed a resume or drop it from the index.
// Text wins over ObjectKey; when Text is empty the file is fetched from object storage and sent to Tika.
type ResumeIndexTask struct {
	ResumeID  string            `json:"resume_id"`
	Text      string            `json:"text,omitempty"`
	ObjectKey string            `json:"object_key,omitempty"`
	FileName  string            `json:"file_name,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"`
	Delete    bool              `json:"delete,omitempty"`
}

// EventMatchComputed is the type tag of MatchComputedEvent.
const EventMatchComputed = "match.computed"

// MatchComputedEvent is published after a match request finishes ranking.
type MatchComputedEvent struct {
	Type           string    `json:"type"`
	RequestID      string    `json:"request_id"`
	JobID          string    `json:"job_id"`
	TopK           int       `json:"top_k"`
	PoolSize       int       `json:"pool_size"`
	Generation     uint64    `json:"generation"`
	State          string    `json:"state"`
	Partial        bool      `json:"partial"`
	Missing        []string  `json:"missing_components,omitempty"`
	ReportID       string    `json:"fairness_report_id,omitempty"`
	FairnessPassed *bool     `json:"fairness_passed,omitempty"`
	ResumeIDs      []string  `json:"resume_ids"`
	ComputedAt     time.Time `json:"computed_at"`
}
