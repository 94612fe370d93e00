package models

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// CaseStatus enumerates the lifecycle states of a case.
type CaseStatus string

const (
	CaseStatusSubmitted  CaseStatus = "submitted"
	CaseStatusSubmitting CaseStatus = "submitting"
	CaseStatusRunning    CaseStatus = "running"
	CaseStatusCompleted  CaseStatus = "completed"
	CaseStatusFailed     CaseStatus = "failed"
)

// Terminal reports whether the status is a terminal one.
func (s CaseStatus) Terminal() bool {
	return s == CaseStatusCompleted || s == CaseStatusFailed
}

// Case is one unit of work moving from the watch directory to the
// remote queue and back. RemoteJobID stays empty until the remote
// submission is confirmed; ResourceName is retained after the case
// reaches a terminal state for audit purposes.
type Case struct {
	ID              uint              `gorm:"primaryKey;autoIncrement" json:"id"`
	SourcePath      string            `gorm:"uniqueIndex;not null" json:"source_path"`
	Status          CaseStatus        `gorm:"type:text;index;not null" json:"status"`
	Progress        int               `gorm:"not null;default:0" json:"progress"`
	ResourceName    string            `gorm:"type:text;index;not null;default:''" json:"resource_name,omitempty"`
	RemoteJobID     string            `gorm:"type:text;not null;default:''" json:"remote_job_id,omitempty"`
	Meta            datatypes.JSONMap `gorm:"type:json" json:"meta,omitempty"`
	StatusChangedAt time.Time         `gorm:"not null" json:"status_changed_at"`
	CreatedAt       time.Time         `gorm:"not null" json:"created_at"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
}

// Label derives the deterministic submission label for the case. It is
// the only way to re-identify a remote job after a crash that lost the
// job handle.
func (c *Case) Label() string {
	return Label(c.ID)
}

// Label derives the submission label for a case id.
func Label(caseID uint) string {
	return fmt.Sprintf("caseway-case-%d", caseID)
}
