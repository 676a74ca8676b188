package core

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ID represents a domain identifier
type ID string

// NewID creates a new unique identifier using UUID v7 for time-ordered generation
func NewID() ID {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return ID(id.String())
}

// String returns the string representation
func (id ID) String() string {
	return string(id)
}

// IsEmpty checks if the ID is empty
func (id ID) IsEmpty() bool {
	return id == ""
}

// Domain-specific ID types
type (
	CommunityID ID
	DatasetName ID
	ModelName   ID
	RunID       ID
)

func (id CommunityID) String() string { return ID(id).String() }
func (id DatasetName) String() string { return ID(id).String() }
func (id ModelName) String() string   { return ID(id).String() }
func (id RunID) String() string       { return ID(id).String() }

// NewRunID creates a time-ordered run identifier for a simulation batch
func NewRunID() RunID {
	return RunID(NewID())
}

// ParseCommunityID parses a string into CommunityID
func ParseCommunityID(s string) (CommunityID, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("community ID cannot be empty")
	}
	return CommunityID(strings.TrimSpace(s)), nil
}

// ParseDatasetName parses a string into DatasetName
func ParseDatasetName(s string) (DatasetName, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("dataset name cannot be empty")
	}
	return DatasetName(strings.TrimSpace(s)), nil
}

// ArtifactKey identifies a write-once result keyed by dataset, community and model
type ArtifactKey struct {
	Dataset   DatasetName
	Community CommunityID
	Model     ModelName
}

// String renders the key as dataset/community/model
func (k ArtifactKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Dataset, k.Community, k.Model)
}
