package realtime

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ProgramScrapedEvent is published for every accepted program record.
type ProgramScrapedEvent struct {
	EventID     string    `json:"event_id"`
	ProgramID   string    `json:"program_id"`
	SourceURL   string    `json:"source_url"`
	Institution string    `json:"institution"`
	Name        string    `json:"name"`
	Deadline    string    `json:"deadline,omitempty"`
	ScrapedAt   time.Time `json:"scraped_at"`
}

// NewProgramScrapedEvent creates a new ProgramScrapedEvent with a generated ID.
func NewProgramScrapedEvent(programID, sourceURL, institution, name, deadline string, scrapedAt time.Time) ProgramScrapedEvent {
	return ProgramScrapedEvent{
		EventID:     uuid.New().String(),
		ProgramID:   programID,
		SourceURL:   sourceURL,
		Institution: institution,
		Name:        name,
		Deadline:    deadline,
		ScrapedAt:   scrapedAt.UTC(),
	}
}

// Validate checks if the event has required fields.
func (e *ProgramScrapedEvent) Validate() error {
	if e.EventID == "" {
		return errors.New("event_id is required")
	}
	if e.SourceURL == "" {
		return errors.New("source_url is required")
	}
	if e.Institution == "" {
		return errors.New("institution is required")
	}
	return nil
}

// DiscoveryCompletedEvent is published once per institution discovery.
type DiscoveryCompletedEvent struct {
	EventID        string    `json:"event_id"`
	Institution    string    `json:"institution"`
	Mode           string    `json:"mode"`
	Known          int       `json:"known"`
	Unscraped      int       `json:"unscraped"`
	NewUnscraped   int       `json:"new_unscraped"`
	ElapsedMs      int64     `json:"elapsed_ms"`
	BudgetExceeded bool      `json:"budget_exceeded"`
	CompletedAt    time.Time `json:"completed_at"`
}

// NewDiscoveryCompletedEvent creates a new DiscoveryCompletedEvent.
func NewDiscoveryCompletedEvent(institution, mode string, known, unscraped, newUnscraped int, elapsed time.Duration, budgetExceeded bool) DiscoveryCompletedEvent {
	return DiscoveryCompletedEvent{
		EventID:        uuid.New().String(),
		Institution:    institution,
		Mode:           mode,
		Known:          known,
		Unscraped:      unscraped,
		NewUnscraped:   newUnscraped,
		ElapsedMs:      elapsed.Milliseconds(),
		BudgetExceeded: budgetExceeded,
		CompletedAt:    time.Now().UTC(),
	}
}

// Validate checks if the event has required fields.
func (e *DiscoveryCompletedEvent) Validate() error {
	if e.EventID == "" {
		return errors.New("event_id is required")
	}
	if e.Institution == "" {
		return errors.New("institution is required")
	}
	return nil
}

// RunCompletedEvent is published at the end of every scrape run.
type RunCompletedEvent struct {
	EventID      string    `json:"event_id"`
	RunID        string    `json:"run_id"`
	Mode         string    `json:"mode"`
	Institutions int       `json:"institutions"`
	Scraped      int       `json:"scraped"`
	Rejected     int       `json:"rejected"`
	Failed       int       `json:"failed"`
	Total        int       `json:"total_programs"`
	ElapsedMs    int64     `json:"elapsed_ms"`
	Error        string    `json:"error,omitempty"`
	CompletedAt  time.Time `json:"completed_at"`
}

// NewRunCompletedEvent creates a new RunCompletedEvent.
func NewRunCompletedEvent(runID, mode string) RunCompletedEvent {
	return RunCompletedEvent{
		EventID:     uuid.New().String(),
		RunID:       runID,
		Mode:        mode,
		CompletedAt: time.Now().UTC(),
	}
}
