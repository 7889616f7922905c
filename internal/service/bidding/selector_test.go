package bidding

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ringflow/call-auction-backend/internal/domain/auction"
	"github.com/ringflow/call-auction-backend/internal/domain/values"
)

func bid(amount float64, elapsed time.Duration) *auction.BidResponse {
	r := auction.NewSuccessResponse(uuid.New(), uuid.New(),
		values.MustNewMoneyFromFloat(amount, values.USD),
		values.MustNewPhoneNumber("+18005550100"), 30, elapsed)
	r.MarkValid()
	return r
}

func TestSelector_HighestBidWins(t *testing.T) {
	low := bid(5, 50*time.Millisecond)
	high := bid(20, 300*time.Millisecond)
	mid := bid(10, 10*time.Millisecond)

	winner := NewSelector().SelectWinner([]*auction.BidResponse{low, high, mid})

	require.NotNil(t, winner)
	assert.Equal(t, high.ID, winner.ID)
	assert.True(t, high.IsWinningBid)
	assert.False(t, low.IsWinningBid)
	assert.False(t, mid.IsWinningBid)
}

func TestSelector_TieBrokenByResponseTime(t *testing.T) {
	slow := bid(10, 200*time.Millisecond)
	fast := bid(10, 150*time.Millisecond)

	winner := NewSelector().SelectWinner([]*auction.BidResponse{slow, fast})

	require.NotNil(t, winner)
	assert.Equal(t, fast.ID, winner.ID)
}

func TestSelector_FullTieBrokenByTargetID(t *testing.T) {
	a := bid(10, 100*time.Millisecond)
	b := bid(10, 100*time.Millisecond)

	want := a
	if b.TargetID.String() < a.TargetID.String() {
		want = b
	}

	// Order of the input slice must not matter.
	w1 := NewSelector().SelectWinner([]*auction.BidResponse{a, b})
	a.IsWinningBid, b.IsWinningBid = false, false
	w2 := NewSelector().SelectWinner([]*auction.BidResponse{b, a})

	assert.Equal(t, want.ID, w1.ID)
	assert.Equal(t, want.ID, w2.ID)
}

func TestSelector_EmptySetHasNoWinner(t *testing.T) {
	assert.Nil(t, NewSelector().SelectWinner(nil))
	assert.Nil(t, NewSelector().SelectWinner([]*auction.BidResponse{}))
}
