package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ObjectiveType classifies a study objective.
type ObjectiveType string

const (
	ObjectivePrimary     ObjectiveType = "primary"
	ObjectiveSecondary   ObjectiveType = "secondary"
	ObjectiveExploratory ObjectiveType = "exploratory"
)

// IsValid reports whether t is a known objective type.
func (t ObjectiveType) IsValid() bool {
	switch t {
	case ObjectivePrimary, ObjectiveSecondary, ObjectiveExploratory:
		return true
	}
	return false
}

// Objective is a study objective. The set is replaced wholesale on update.
type Objective struct {
	ID          uuid.UUID     `json:"id"`
	ProtocolID  uuid.UUID     `json:"protocol_id"`
	Position    int           `json:"position"`
	Type        ObjectiveType `json:"type"`
	Description string        `json:"description"`
	Endpoints   []string      `json:"endpoints,omitempty"`
	Timepoints  []string      `json:"timepoints,omitempty"`
}

// PermissionLevel is what a team member may do to a protocol.
type PermissionLevel string

const (
	PermissionView    PermissionLevel = "view"
	PermissionEdit    PermissionLevel = "edit"
	PermissionApprove PermissionLevel = "approve"
	PermissionAdmin   PermissionLevel = "admin"
)

// IsValid reports whether l is a known permission level.
func (l PermissionLevel) IsValid() bool {
	switch l {
	case PermissionView, PermissionEdit, PermissionApprove, PermissionAdmin:
		return true
	}
	return false
}

// Required permission sets for mutating operations.
var (
	UpdatePermissions = []PermissionLevel{PermissionEdit, PermissionAdmin}
	DeletePermissions = []PermissionLevel{PermissionAdmin}
)

// TeamMember grants a user a permission level on one protocol.
// The protocol creator is never stored as a team member.
type TeamMember struct {
	ProtocolID  uuid.UUID       `json:"protocol_id"`
	UserID      uuid.UUID       `json:"user_id"`
	Role        *string         `json:"role,omitempty"`
	Permissions PermissionLevel `json:"permissions"`
	Name        string          `json:"name,omitempty"`
	Email       string          `json:"email,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// ProtocolUpdatedChange is the change label recorded for every update.
const ProtocolUpdatedChange = "Protocol updated"

// HistoryEntry is an append-only snapshot written once per successful update.
type HistoryEntry struct {
	ID         uuid.UUID       `json:"id"`
	ProtocolID uuid.UUID       `json:"protocol_id"`
	Version    string          `json:"version"`
	ChangedAt  time.Time       `json:"changed_at"`
	ChangedBy  *uuid.UUID      `json:"changed_by,omitempty"`
	Changes    string          `json:"changes"`
	Snapshot   json.RawMessage `json:"document_snapshot"`
}
