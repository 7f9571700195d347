package quest

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Catalog-load errors are fatal at startup; the rest are surfaced to callers.
var (
	ErrDuplicateQuestID     = errors.New("quest: duplicate quest id")
	ErrUnknownQuest         = errors.New("quest: unknown quest")
	ErrCyclicPrerequisite   = errors.New("quest: cyclic prerequisite")
	ErrDanglingPrerequisite = errors.New("quest: dangling prerequisite")
	ErrInvalidObjective     = errors.New("quest: invalid objective")
	ErrInvalidTemplate      = errors.New("quest: invalid template")
	ErrCatalogFrozen        = errors.New("quest: catalog already validated")

	ErrNotActive        = errors.New("quest: not active")
	ErrNoProgress       = errors.New("quest: no progress for quest")
	ErrUnknownEventType = errors.New("quest: unknown event type")
	ErrDuplicateEvent   = errors.New("quest: duplicate event")

	// ErrNotEligible matches every *EligibilityError via errors.Is.
	ErrNotEligible = errors.New("quest: not eligible")
)

// EligibilityReason says why a quest cannot be accepted right now.
type EligibilityReason string

const (
	ReasonNotEligible         EligibilityReason = "not_eligible"
	ReasonAlreadyActive       EligibilityReason = "already_active"
	ReasonOnCooldown          EligibilityReason = "on_cooldown"
	ReasonLevelTooLow         EligibilityReason = "level_too_low"
	ReasonLevelTooHigh        EligibilityReason = "level_too_high"
	ReasonPrerequisiteMissing EligibilityReason = "prerequisite_missing"
)

// EligibilityError is a recoverable denial of an accept request.
type EligibilityError struct {
	QuestID     QuestID
	Reason      EligibilityReason
	Missing     []QuestID  // set for ReasonPrerequisiteMissing
	AvailableAt *time.Time // set for ReasonOnCooldown
}

func (e *EligibilityError) Error() string {
	switch {
	case len(e.Missing) > 0:
		ids := make([]string, len(e.Missing))
		for i, id := range e.Missing {
			ids[i] = string(id)
		}
		return fmt.Sprintf("quest %s: %s (%s)", e.QuestID, e.Reason, strings.Join(ids, ", "))
	case e.AvailableAt != nil:
		return fmt.Sprintf("quest %s: %s until %s", e.QuestID, e.Reason, e.AvailableAt.Format(time.RFC3339))
	default:
		return fmt.Sprintf("quest %s: %s", e.QuestID, e.Reason)
	}
}

func (e *EligibilityError) Is(target error) bool {
	return target == ErrNotEligible
}

// ReasonOf extracts the eligibility reason from err, if any.
func ReasonOf(err error) (EligibilityReason, bool) {
	var ee *EligibilityError
	if errors.As(err, &ee) {
		return ee.Reason, true
	}
	return "", false
}

func denied(id QuestID, reason EligibilityReason) *EligibilityError {
	return &EligibilityError{QuestID: id, Reason: reason}
}
