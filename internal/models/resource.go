package models

import "time"

// ResourceStatus enumerates the states of an execution slot.
type ResourceStatus string

const (
	ResourceStatusAvailable   ResourceStatus = "available"
	ResourceStatusAssigned    ResourceStatus = "assigned"
	ResourceStatusQuarantined ResourceStatus = "quarantined"
)

// Resource is one named execution slot (a pueue group on the remote
// host). The pool is fixed at startup; rows are created once and never
// deleted. A quarantined resource keeps its case binding until a kill
// of the associated remote job is confirmed.
type Resource struct {
	Name           string         `gorm:"primaryKey" json:"name"`
	Status         ResourceStatus `gorm:"type:text;index;not null" json:"status"`
	AssignedCaseID *uint          `gorm:"index" json:"assigned_case_id,omitempty"`
	CreatedAt      time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null" json:"updated_at"`
}
