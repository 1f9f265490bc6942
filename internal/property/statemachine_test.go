package property

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "propstack/pkg/errors"
)

func TestNextStatus_LegalTransitions(t *testing.T) {
	tests := []struct {
		from Status
		op   Operation
		want Status
	}{
		{StatusDraft, OpSubmit, StatusSubmitted},
		{StatusRejected, OpSubmit, StatusSubmitted},
		{StatusSubmitted, OpPublish, StatusPublished},
		{StatusUnderReview, OpPublish, StatusPublished},
		{StatusSubmitted, OpApprove, StatusUnderReview},
		{StatusSubmitted, OpReject, StatusRejected},
		{StatusUnderReview, OpReject, StatusRejected},
		{StatusSubmitted, OpRequestChanges, StatusDraft},
		{StatusPublished, OpUnpublish, StatusDraft},
		{StatusPublished, OpExpire, StatusExpired},
		{StatusPublished, OpMarkSold, StatusArchived},
		{StatusPublished, OpMarkRented, StatusArchived},
		{StatusArchived, OpRestore, StatusDraft},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"_"+string(tt.op), func(t *testing.T) {
			got, err := NextStatus(tt.from, tt.op)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNextStatus_ArchiveFromAnyStatus(t *testing.T) {
	for _, from := range allStatuses {
		got, err := NextStatus(from, OpArchive)
		require.NoError(t, err, "archive from %s", from)
		assert.Equal(t, StatusArchived, got)
	}
}

func TestNextStatus_IllegalTransitions(t *testing.T) {
	tests := []struct {
		from Status
		op   Operation
	}{
		{StatusDraft, OpPublish},
		{StatusDraft, OpExpire},
		{StatusDraft, OpRestore},
		{StatusSubmitted, OpSubmit},
		{StatusSubmitted, OpMarkSold},
		{StatusUnderReview, OpSubmit},
		{StatusUnderReview, OpRequestChanges},
		{StatusPublished, OpSubmit},
		{StatusPublished, OpPublish},
		{StatusPublished, OpRestore},
		{StatusRejected, OpPublish},
		{StatusRejected, OpReject},
		{StatusExpired, OpSubmit},
		{StatusExpired, OpPublish},
		{StatusExpired, OpExpire},
		{StatusArchived, OpSubmit},
		{StatusArchived, OpPublish},
		{StatusArchived, OpMarkRented},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"_"+string(tt.op), func(t *testing.T) {
			_, err := NextStatus(tt.from, tt.op)
			require.Error(t, err)
			assert.True(t, apperrors.IsInvalidTransition(err))
		})
	}
}

func TestNextStatus_UnknownStatus(t *testing.T) {
	_, err := NextStatus(Status("BOGUS"), OpSubmit)
	require.Error(t, err)
	assert.True(t, apperrors.IsInvalidTransition(err))
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusDraft, OpSubmit))
	assert.True(t, CanTransition(StatusExpired, OpArchive))
	assert.False(t, CanTransition(StatusExpired, OpPublish))
	assert.False(t, CanTransition(StatusDraft, OpMarkSold))
}
