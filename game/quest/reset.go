package quest

import "time"

// ResetPolicy defines the shared daily boundary all daily quests reset on.
type ResetPolicy struct {
	Hour     int            // hour of day, 0-23
	Location *time.Location // nil means UTC
}

func (rp ResetPolicy) loc() *time.Location {
	if rp.Location == nil {
		return time.UTC
	}
	return rp.Location
}

// NextDailyReset returns the first daily boundary strictly after t.
func (rp ResetPolicy) NextDailyReset(t time.Time) time.Time {
	lt := t.In(rp.loc())
	b := time.Date(lt.Year(), lt.Month(), lt.Day(), rp.Hour, 0, 0, 0, rp.loc())
	if !b.After(lt) {
		b = time.Date(lt.Year(), lt.Month(), lt.Day()+1, rp.Hour, 0, 0, 0, rp.loc())
	}
	return b
}

// AvailableAt returns when a completed instance of t stops blocking a new
// acceptance. Daily quests wait for the calendar boundary, other repeatables
// use a rolling window from completion. ok is false for one-shot quests.
func (rp ResetPolicy) AvailableAt(t *Template, completedAt time.Time) (at time.Time, ok bool) {
	switch {
	case !t.Repeatable:
		return time.Time{}, false
	case t.Daily:
		return rp.NextDailyReset(completedAt), true
	default:
		return completedAt.Add(t.Cooldown), true
	}
}
