package twin

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Collection is the docstore collection holding twins.
const Collection = "twins"

// idPrefix starts every twin ID.
const idPrefix = "twin-"

const (
	maxNameLength        = 100
	maxDescriptionLength = 500
)

// ReplicaLink is a replica's membership entry in a twin.
type ReplicaLink struct {
	ReplicaType string    `json:"replicaType"`
	ReplicaID   string    `json:"replicaId"`
	DisplayName string    `json:"displayName"`
	LinkedAt    time.Time `json:"linkedAt"`
}

// Twin is a named group of replicas with the services evaluated on them.
type Twin struct {
	ID                string        `json:"id"`
	Name              string        `json:"name"`
	Description       string        `json:"description"`
	OwnerUserID       string        `json:"ownerUserId"`
	ActiveOperatorIDs []string      `json:"activeOperatorIds"`
	Replicas          []ReplicaLink `json:"replicas"`
	Services          []string      `json:"services"`
	CreatedAt         time.Time     `json:"createdAt"`
	UpdatedAt         time.Time     `json:"updatedAt"`
}

// ContainsReplica reports whether the pair is linked to t.
func (t *Twin) ContainsReplica(replicaType, replicaID string) bool {
	for _, l := range t.Replicas {
		if l.ReplicaType == replicaType && l.ReplicaID == replicaID {
			return true
		}
	}
	return false
}

// ReplicaIDs returns the IDs of linked replicas of the given type, in
// link order.
func (t *Twin) ReplicaIDs(replicaType string) []string {
	var ids []string
	for _, l := range t.Replicas {
		if l.ReplicaType == replicaType {
			ids = append(ids, l.ReplicaID)
		}
	}
	return ids
}

// CreateResult is returned by CreateTwin. Services that failed to attach
// are listed by name and do not fail creation.
type CreateResult struct {
	Twin           *Twin             `json:"twin"`
	FailedServices map[string]string `json:"failedServices,omitempty"`
}

// GenerateID returns a new twin ID: "twin-" and 8 hex characters.
func GenerateID() string {
	return idPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// ValidateName checks a twin name and returns it trimmed.
func ValidateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: name is required", ErrInvalidName)
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return "", fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return name, nil
}

func validateDescription(desc string) error {
	if utf8.RuneCountInString(desc) > maxDescriptionLength {
		return fmt.Errorf("%w: description exceeds %d characters", ErrInvalidName, maxDescriptionLength)
	}
	return nil
}
