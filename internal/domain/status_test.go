package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatuses_CaseInsensitive(t *testing.T) {
	bs, err := ParseBookingStatus("APPROVED")
	require.NoError(t, err)
	assert.Equal(t, BookingApproved, bs)

	rs, err := ParseRoomStatus(" Under_Maintenance ")
	require.NoError(t, err)
	assert.Equal(t, RoomUnderMaintenance, rs)

	role, err := ParseRole("LANDLORD")
	require.NoError(t, err)
	assert.Equal(t, RoleLandlord, role)

	pt, err := ParsePaymentType("Security_Deposit")
	require.NoError(t, err)
	assert.Equal(t, PaymentTypeSecurityDeposit, pt)

	_, err = ParsePaymentStatus("settled")
	assert.Error(t, err)
}

func TestBookingStatus_StateMachine(t *testing.T) {
	assert.True(t, BookingPending.CanTransitionTo(BookingApproved))
	assert.True(t, BookingPending.CanTransitionTo(BookingRejected))
	assert.True(t, BookingPending.CanTransitionTo(BookingCancelled))
	assert.True(t, BookingApproved.CanTransitionTo(BookingCompleted))
	assert.True(t, BookingApproved.CanTransitionTo(BookingCancelled))
	assert.False(t, BookingApproved.CanTransitionTo(BookingPending))

	for _, s := range []BookingStatus{BookingRejected, BookingCancelled, BookingCompleted} {
		assert.True(t, s.IsTerminal(), s)
		assert.False(t, s.IsOpen(), s)
	}
	assert.True(t, BookingPending.IsOpen())
	assert.True(t, BookingApproved.IsOpen())
}

func TestTenancyStatus_StateMachine(t *testing.T) {
	assert.True(t, TenancyPending.CanTransitionTo(TenancyActive))
	assert.False(t, TenancyPending.CanTransitionTo(TenancyCompleted))
	assert.True(t, TenancyActive.CanTransitionTo(TenancyTerminated))
	assert.True(t, TenancyActive.CanTransitionTo(TenancyCompleted))
	assert.False(t, TenancyTerminated.CanTransitionTo(TenancyActive))
}

func TestStatusScan_NormalizesStoredValues(t *testing.T) {
	var bs BookingStatus
	require.NoError(t, bs.Scan([]byte("Pending")))
	assert.Equal(t, BookingPending, bs)

	var ps PaymentStatus
	require.NoError(t, ps.Scan("COMPLETED"))
	assert.Equal(t, PaymentCompleted, ps)

	var rs RoomStatus
	assert.Error(t, rs.Scan("gone"))
}

func TestPaymentMonth(t *testing.T) {
	assert.True(t, ValidPaymentMonth("2026-10"))
	assert.False(t, ValidPaymentMonth("2026-13"))
	assert.False(t, ValidPaymentMonth("26-01"))
}

func TestLifecycleError_IsMatchesKind(t *testing.T) {
	err := Conflict("room %s is taken", "r1")
	assert.True(t, errors.Is(err, ErrConflict))
	assert.False(t, errors.Is(err, ErrForbidden))
	assert.Equal(t, KindConflict, KindOf(err))
	assert.Equal(t, ErrorKind(""), KindOf(errors.New("boom")))
	assert.Equal(t, "room r1 is taken", err.Error())
}
