package booking

import "time"

// DefaultCancelCutoffHour is the property-local hour after which a
// same-day check-in can no longer be canceled.
const DefaultCancelCutoffHour = 15

// CanTransition reports whether the booking state machine admits the edge
// from one status to another. Transitions are one-directional: a canceled
// or refunded booking never re-enters hold or complete.
func CanTransition(from, to BookingStatus) bool {
	switch from {
	case StatusHold:
		return to == StatusComplete || to == StatusCanceled || to == StatusRefunded
	case StatusComplete:
		return to == StatusCanceled || to == StatusRefunded
	default:
		return false
	}
}

// CancelEligible evaluates the time-dependent cancellation predicate at
// the supplied instant: the booking must still be in hold or complete,
// and in the property's local zone the check-in day must lie in the
// future, or be today with the clock still before cutoffHour. Callers
// must re-evaluate at the moment of cancellation; the result is never
// cached.
func CancelEligible(bookingValue Booking, now time.Time, cutoffHour int) (bool, error) {
	if bookingValue.Status != StatusHold && bookingValue.Status != StatusComplete {
		return false, nil
	}
	location, err := bookingValue.Property.Location()
	if err != nil {
		return false, err
	}
	localNow := now.In(location)
	checkinDay := utcDate(bookingValue.CheckinDate)
	today := localDate(localNow, location)

	if checkinDay.After(today) {
		return true, nil
	}
	if checkinDay.Equal(today) {
		return localNow.Hour() < cutoffHour, nil
	}
	return false, nil
}

// DaysUntilCheckin counts whole calendar days between asOf and check-in
// in the property's local zone. Negative once check-in has passed.
func DaysUntilCheckin(bookingValue Booking, asOf time.Time) (int, error) {
	location, err := bookingValue.Property.Location()
	if err != nil {
		return 0, err
	}
	checkinDay := utcDate(bookingValue.CheckinDate)
	asOfDay := localDate(asOf, location)
	return int(checkinDay.Sub(asOfDay).Hours() / 24), nil
}

// localDate projects an instant onto its calendar date in the given zone,
// re-anchored at UTC midnight so day arithmetic is DST-proof.
func localDate(instant time.Time, location *time.Location) time.Time {
	local := instant.In(location)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

// utcDate truncates a date-only value (stored at UTC midnight) to its
// calendar date.
func utcDate(instant time.Time) time.Time {
	utc := instant.UTC()
	return time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
}
