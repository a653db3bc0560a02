package core

// QueueStatus is the lifecycle state of a queue item.
type QueueStatus string

const (
	StatusScheduled QueueStatus = "SCHEDULED"
	StatusDue       QueueStatus = "DUE"
	StatusSending   QueueStatus = "SENDING"
	StatusSent      QueueStatus = "SENT"
	StatusFailed    QueueStatus = "FAILED"
	StatusBlocked   QueueStatus = "BLOCKED"
	StatusCanceled  QueueStatus = "CANCELED"
)

// legalTransitions is the single source of truth for the state machine:
//
//	DUE/SCHEDULED -> SENDING -> SENT | SCHEDULED (retry) | FAILED
//	DUE/SCHEDULED/BLOCKED/FAILED -> CANCELED
//	anything but SENT/CANCELED -> SCHEDULED (reschedule revives BLOCKED/FAILED)
//
// SENT and CANCELED are terminal.
var legalTransitions = map[QueueStatus][]QueueStatus{
	StatusScheduled: {StatusSending, StatusScheduled, StatusCanceled},
	StatusDue:       {StatusSending, StatusScheduled, StatusCanceled},
	StatusSending:   {StatusSent, StatusScheduled, StatusFailed},
	StatusFailed:    {StatusScheduled, StatusCanceled},
	StatusBlocked:   {StatusScheduled, StatusCanceled},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to QueueStatus) bool {
	for _, s := range legalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a status admits no further automatic transitions.
func (s QueueStatus) Terminal() bool {
	return s == StatusSent || s == StatusCanceled
}

func (s QueueStatus) valid() bool {
	switch s {
	case StatusScheduled, StatusDue, StatusSending, StatusSent, StatusFailed, StatusBlocked, StatusCanceled:
		return true
	}
	return false
}

// ParseQueueStatus validates a status value from the outside world.
func ParseQueueStatus(raw string) (QueueStatus, error) {
	s := QueueStatus(raw)
	if !s.valid() {
		return "", validationf("unknown queue status %q", raw)
	}
	return s, nil
}
