package session

import "strings"

// Error codes sent by the server in "error" messages.
const (
	CodeJoinAlreadyStarted = "join_already_started"

	CodeReconnectNoSession       = "reconnect_no_session"
	CodeReconnectSeatUnavailable = "reconnect_seat_unavailable"
	CodeReconnectGameNotFound    = "reconnect_game_not_found"
	CodeReconnectGameMismatch    = "reconnect_game_mismatch"
	CodeReconnectAlreadyActive   = "reconnect_already_active"
	CodeReconnectSnapshotFailed  = "reconnect_snapshot_failed"
	CodeInvalidTicket            = "invalid_ticket"
	CodeReconnectRetryLater      = "reconnect_retry_later"
)

const joinScope = "join_"

var permanentResumeCodes = map[string]bool{
	CodeReconnectNoSession:       true,
	CodeReconnectSeatUnavailable: true,
	CodeReconnectGameNotFound:    true,
	CodeReconnectGameMismatch:    true,
	CodeReconnectAlreadyActive:   true,
	CodeReconnectSnapshotFailed:  true,
	CodeInvalidTicket:            true,
}

type Outcome uint8

const (
	// OutcomeIgnore leaves the session alone; the message is still surfaced.
	OutcomeIgnore Outcome = iota
	// OutcomeResumeInPlace switches to playing and resumes on the same channel.
	OutcomeResumeInPlace
	// OutcomeRetry schedules another resume attempt.
	OutcomeRetry
	// OutcomePermanent tears the session down.
	OutcomePermanent
)

func (o Outcome) String() string {
	switch o {
	case OutcomeResumeInPlace:
		return "resume_in_place"
	case OutcomeRetry:
		return "retry"
	case OutcomePermanent:
		return "permanent"
	default:
		return "ignore"
	}
}

func IsJoinScoped(code string) bool { return strings.HasPrefix(code, joinScope) }

// Classify decides what an error code means for a driver in state st.
// Join-scoped codes only count while joining.
func Classify(code string, st State) Outcome {
	if IsJoinScoped(code) {
		if st != StateJoining {
			return OutcomeIgnore
		}
		if code == CodeJoinAlreadyStarted {
			return OutcomeResumeInPlace
		}
		return OutcomePermanent
	}
	if code == CodeReconnectRetryLater {
		return OutcomeRetry
	}
	if permanentResumeCodes[code] {
		return OutcomePermanent
	}
	return OutcomeIgnore
}
