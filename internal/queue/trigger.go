package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Kind says what changed. Score triggers recompute one enrollment; weights
// and migration triggers recompute a whole section.
type Kind string

const (
	KindScore     Kind = "score"
	KindWeights   Kind = "weights"
	KindMigration Kind = "migration"
)

type Trigger struct {
	Kind         Kind      `json:"kind"`
	SectionID    string    `json:"section_id"`
	EnrollmentID string    `json:"enrollment_id,omitempty"`
	RequestedAt  time.Time `json:"requested_at"`
}

var ErrBadTrigger = errors.New("bad trigger")

func (t Trigger) Validate() error {
	if t.SectionID == "" {
		return fmt.Errorf("%w: section_id is required", ErrBadTrigger)
	}
	switch t.Kind {
	case KindScore:
		if t.EnrollmentID == "" {
			return fmt.Errorf("%w: score trigger needs enrollment_id", ErrBadTrigger)
		}
	case KindWeights, KindMigration:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrBadTrigger, t.Kind)
	}
	return nil
}

// dedupeKey identifies triggers that would do the same work.
func (t Trigger) dedupeKey() string {
	if t.Kind == KindScore {
		return "enrollment:" + t.SectionID + ":" + t.EnrollmentID
	}
	return "section:" + t.SectionID
}

func encode(t Trigger) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}
	b, err := json.Marshal(t)
	return string(b), err
}

func decode(s string) (Trigger, error) {
	var t Trigger
	if err := json.Unmarshal([]byte(s), &t); err != nil {
		return Trigger{}, fmt.Errorf("%w: %v", ErrBadTrigger, err)
	}
	return t, t.Validate()
}
