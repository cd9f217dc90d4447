package controller

import (
	"time"

	"github.com/loiht2/payload-forge/models"
)

// Level is the severity of a notification
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notification is a user-facing message produced by a session action
type Notification struct {
	Level   Level     `json:"level"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Snapshot is the full state of a session as served to clients
type Snapshot struct {
	ID              string                   `json:"id"`
	Mode            Mode                     `json:"mode"`
	TemplateID      string                   `json:"templateId,omitempty"`
	Name            string                   `json:"name"`
	Description     string                   `json:"description"`
	Values          models.PayloadFormValues `json:"values"`
	Preview         models.SubmissionPayload `json:"preview"`
	PendingCluster  *PendingCluster          `json:"pendingCluster,omitempty"`
	ArtifactVersion string                   `json:"artifactVersion,omitempty"`
	Artifacts       []string                 `json:"artifacts"`
	Notifications   []Notification           `json:"notifications"`
	// UpdatedAt of the stored template, when the session is bound to one
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}
