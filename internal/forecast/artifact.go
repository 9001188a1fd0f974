package forecast

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/julianstephens/daypulse/internal/constants"
	"github.com/julianstephens/daypulse/internal/features"
	"github.com/julianstephens/daypulse/internal/sampler"
)

// Artifact is an immutable trained model. Private artifacts predict the residual of
// the global artifact whose version they carry.
type Artifact struct {
	Kind          constants.ArtifactKind `json:"kind"`
	UserID        string                 `json:"user_id,omitempty"`
	Version       uuid.UUID              `json:"version"`
	GlobalVersion uuid.UUID              `json:"global_version"`
	TrainedAt     time.Time              `json:"trained_at"`
	Columns       [features.Size]string  `json:"columns"`
	Pipeline      Pipeline               `json:"pipeline"`
	Metrics       Metrics                `json:"metrics"`
}

// NewGlobal wraps a fitted pipeline as a new global artifact
func NewGlobal(p Pipeline, m Metrics) Artifact {
	return Artifact{
		Kind:      constants.ArtifactGlobal,
		Version:   uuid.New(),
		TrainedAt: time.Now().UTC(),
		Columns:   features.Columns,
		Pipeline:  p,
		Metrics:   m,
	}
}

// NewPrivate wraps a fitted residual pipeline for one user, bound to a global version
func NewPrivate(userID string, global uuid.UUID, p Pipeline, m Metrics) Artifact {
	return Artifact{
		Kind:          constants.ArtifactPrivate,
		UserID:        userID,
		Version:       uuid.New(),
		GlobalVersion: global,
		TrainedAt:     time.Now().UTC(),
		Columns:       features.Columns,
		Pipeline:      p,
		Metrics:       m,
	}
}

// Predict applies the artifact's pipeline
func (a Artifact) Predict(x features.Vector) sampler.Target {
	return a.Pipeline.Predict(x)
}

// Matches reports whether a private artifact was trained against the given global artifact
func (a Artifact) Matches(global Artifact) bool {
	return a.Kind == constants.ArtifactPrivate && a.GlobalVersion == global.Version
}

// Validate checks that the artifact is usable with the current feature layout
func (a Artifact) Validate() error {
	if a.Columns != features.Columns {
		return fmt.Errorf("artifact %s was trained on a different feature layout", a.Version)
	}
	if a.Version == uuid.Nil {
		return fmt.Errorf("artifact has no version")
	}
	switch a.Kind {
	case constants.ArtifactGlobal:
		if a.UserID != "" {
			return fmt.Errorf("global artifact %s must not belong to a user", a.Version)
		}
	case constants.ArtifactPrivate:
		if a.UserID == "" {
			return fmt.Errorf("private artifact %s has no user", a.Version)
		}
		if a.GlobalVersion == uuid.Nil {
			return fmt.Errorf("private artifact %s is not bound to a global version", a.Version)
		}
	default:
		return fmt.Errorf("unknown artifact kind %q", a.Kind)
	}
	return nil
}
