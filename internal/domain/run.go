package domain

import (
	"errors"
	"strings"
	"time"
)

type RunStatus string

const (
	RunRunning  RunStatus = "running"
	RunFinished RunStatus = "finished"
	RunFailed   RunStatus = "failed"
)

// Run is one execution of a pipeline step as seen by the tracking service.
type Run struct {
	ID         string
	Project    string
	JobType    string
	Config     Metadata
	Status     RunStatus
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
	CreatedBy  string
}

func (r Run) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("run id is required")
	}
	if err := ValidateProject(r.Project); err != nil {
		return err
	}
	if strings.TrimSpace(r.JobType) == "" {
		return errors.New("job type is required")
	}
	if strings.TrimSpace(r.CreatedBy) == "" {
		return errors.New("created by is required")
	}
	switch r.Status {
	case RunRunning, RunFinished, RunFailed:
	default:
		return errors.New("run status is invalid")
	}
	return nil
}
