package property

import (
	"fmt"

	apperrors "propstack/pkg/errors"
)

type Operation string

const (
	OpSubmit         Operation = "submit"
	OpPublish        Operation = "publish"
	OpUnpublish      Operation = "unpublish"
	OpExpire         Operation = "expire"
	OpMarkSold       Operation = "markSold"
	OpMarkRented     Operation = "markRented"
	OpArchive        Operation = "archive"
	OpRestore        Operation = "restore"
	OpApprove        Operation = "approve"
	OpReject         Operation = "reject"
	OpRequestChanges Operation = "requestChanges"
)

// transitions encodes the lifecycle as data: current status -> operation ->
// next status. Any (status, operation) pair absent from the table is an
// illegal transition.
var transitions = buildTransitionTable()

func buildTransitionTable() map[Status]map[Operation]Status {
	table := map[Status]map[Operation]Status{
		StatusDraft: {
			OpSubmit: StatusSubmitted,
		},
		StatusSubmitted: {
			OpPublish:        StatusPublished,
			OpApprove:        StatusUnderReview,
			OpReject:         StatusRejected,
			OpRequestChanges: StatusDraft,
		},
		StatusUnderReview: {
			OpPublish: StatusPublished,
			OpReject:  StatusRejected,
		},
		StatusPublished: {
			OpUnpublish:  StatusDraft,
			OpExpire:     StatusExpired,
			OpMarkSold:   StatusArchived,
			OpMarkRented: StatusArchived,
		},
		StatusRejected: {
			OpSubmit: StatusSubmitted,
		},
		StatusExpired: {},
		StatusArchived: {
			OpRestore: StatusDraft,
		},
	}

	// archive is reachable from every status; ownership is the only guard.
	for _, status := range allStatuses {
		table[status][OpArchive] = StatusArchived
	}
	return table
}

// NextStatus resolves the target status for an operation, or an
// INVALID_STATE_TRANSITION error when the pair is not in the table.
func NextStatus(current Status, op Operation) (Status, error) {
	ops, ok := transitions[current]
	if !ok {
		return "", apperrors.ErrInvalidTransition.WithDetail("message",
			fmt.Sprintf("unknown status %q", current))
	}
	next, ok := ops[op]
	if !ok {
		return "", apperrors.ErrInvalidTransition.WithDetail("message",
			fmt.Sprintf("cannot %s a %s property", op, current))
	}
	return next, nil
}

// CanTransition reports whether the pair is legal without building an error.
func CanTransition(current Status, op Operation) bool {
	_, ok := transitions[current][op]
	return ok
}
