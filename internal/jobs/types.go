// Package jobs defines the backend job and configuration records observed by the console.
package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownStatus is returned when the backend reports a status outside the closed set.
var ErrUnknownStatus = errors.New("unknown job status")

// ErrNotFound signals that the requested job or configuration does not exist.
var ErrNotFound = errors.New("not found")

// Status is the backend-authoritative lifecycle state of a job.
type Status string

// Job status values reported by the backend.
const (
	StatusCreated  Status = "Created"
	StatusRunning  Status = "Running"
	StatusFinished Status = "Finished"
	StatusFailed   Status = "Failed"
)

// ParseStatus maps a wire value onto the closed Status set.
func ParseStatus(raw string) (Status, error) {
	switch Status(raw) {
	case StatusCreated, StatusRunning, StatusFinished, StatusFailed:
		return Status(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, raw)
	}
}

// Terminal reports whether no further transitions are expected.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusFailed
}

// UnmarshalJSON rejects unrecognized status strings instead of coercing them.
func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}
	parsed, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// JobType enumerates the kinds of backend work.
type JobType string

// Job types understood by the backend.
const (
	JobTypeCrawl          JobType = "CRAWL"
	JobTypeProductMapping JobType = "PRODUCT_MAPPING"
	JobTypeProductCleanup JobType = "PRODUCT_CLEANUP"
)

// Job is a backend-tracked unit of work. The console observes it and never mutates it.
type Job struct {
	ID           int64      `json:"id"`
	Type         JobType    `json:"jobType"`
	Status       Status     `json:"status"`
	TestRun      bool       `json:"testRun"`
	ConfigCode   string     `json:"crawlerConfigCode,omitempty"`
	WebsiteCode  string     `json:"crawlerWebsiteCode,omitempty"`
	StartedAt    *Timestamp `json:"startedAt,omitempty"`
	FinishedAt   *Timestamp `json:"finishedAt,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	Parameters   string     `json:"parameters,omitempty"`
	Description  string     `json:"description,omitempty"`
	Created      *Timestamp `json:"created,omitempty"`
}

// SyntheticErrorID marks a JobError built from Job.ErrorMessage rather than fetched.
const SyntheticErrorID int64 = 0

// JobError is one failure record attached to a failed job.
type JobError struct {
	ID       int64      `json:"id"`
	JobID    int64      `json:"jobId"`
	Message  string     `json:"error"`
	Category string     `json:"category,omitempty"`
	Source   string     `json:"source,omitempty"`
	JobType  JobType    `json:"jobType,omitempty"`
	Created  *Timestamp `json:"created,omitempty"`
}

// SynthesizeError wraps the job's own summary into a single-element error collection.
// It returns nil when the job carries no summary.
func SynthesizeError(job Job) []JobError {
	if job.ErrorMessage == "" {
		return nil
	}
	return []JobError{{
		ID:      SyntheticErrorID,
		JobID:   job.ID,
		Message: job.ErrorMessage,
		JobType: job.Type,
	}}
}

// Configuration is a crawler configuration owned by the configuration store.
type Configuration struct {
	Code                string     `json:"code"`
	Website             string     `json:"crawlerWebsite"`
	ProductCategory     string     `json:"productCategory"`
	StartURL            string     `json:"startUrl"`
	AllItemsSel         string     `json:"allItemsSel"`
	TitleSel            string     `json:"titleSel"`
	LinkSel             string     `json:"linkSel"`
	PriceSel            string     `json:"priceSel"`
	UseNextPageButton   bool       `json:"useNextPageButton"`
	NextPageButtonSel   string     `json:"nextPageButtonSel"`
	MaxPages            int        `json:"maxPages"`
	Active              bool       `json:"active"`
	UseInfiniteScroll   bool       `json:"useInfiniteScroll"`
	UseURLPageParameter bool       `json:"useUrlPageParameter"`
	URLPageParameter    string     `json:"urlPageParameter"`
	AutoSchedule        bool       `json:"autoSchedule"`
	AutoScheduleEvery   int        `json:"autoScheduleEvery"`
	Created             *Timestamp `json:"created,omitempty"`
	CreatedBy           string     `json:"createdBy,omitempty"`
	Modified            *Timestamp `json:"modified,omitempty"`
	ModifiedBy          string     `json:"modifiedBy,omitempty"`
}

// CreateRequest describes a job-creation call.
type CreateRequest struct {
	Type        JobType
	ConfigCode  string
	WebsiteCode string
	TestRun     bool
	Parameters  string
}

// CrawlRequest builds the create request used by the run monitor for a configuration.
func CrawlRequest(cfg Configuration, testRun bool) CreateRequest {
	return CreateRequest{
		Type:        JobTypeCrawl,
		ConfigCode:  cfg.Code,
		WebsiteCode: cfg.Website,
		TestRun:     testRun,
	}
}
