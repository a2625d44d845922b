package audit

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"refchain/core/events"
)

func setupSink(t *testing.T) *Sink {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sink, err := NewSink(db, nil)
	require.NoError(t, err)
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sink.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return sink
}

func distributed(hashByte, user byte) events.ReferralRewardDistributed {
	var hash [32]byte
	hash[31] = hashByte
	return events.ReferralRewardDistributed{
		RequestHash: hash,
		User:        common.BytesToAddress([]byte{user}),
		ValueType:   "USDC",
		TotalAmount: big.NewInt(1000),
		EventID:     fmt.Sprintf("evt-%d", hashByte),
		Signer:      common.BytesToAddress([]byte{0xee}),
		Recipients:  []common.Address{common.BytesToAddress([]byte{user}), common.BytesToAddress([]byte{0xee})},
		Amounts:     []*big.Int{big.NewInt(800), big.NewInt(200)},
		Dust:        big.NewInt(200),
	}
}

func TestSinkStoresDistributions(t *testing.T) {
	sink := setupSink(t)
	ctx := context.Background()

	sink.Emit(distributed(1, 0x01))
	sink.Emit(distributed(2, 0x02))

	all, err := sink.Distributions(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "evt-2", all[0].EventID)

	user1 := common.BytesToAddress([]byte{0x01}).Hex()
	mine, err := sink.Distributions(ctx, Filter{User: user1, ValueType: "usdc"})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	require.Equal(t, []Payout{
		{Recipient: "0x0000000000000000000000000000000000000001", Amount: "800"},
		{Recipient: "0x00000000000000000000000000000000000000ee", Amount: "200"},
	}, mine[0].Payouts)
	require.Equal(t, "0", mine[0].Redistributed)

	var hash [32]byte
	hash[31] = 1
	rec, ok, err := sink.Distribution(ctx, common.Hash(hash).Hex())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1000", rec.TotalAmount)

	_, ok, err = sink.Distribution(ctx, common.Hash{}.Hex())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSinkRejectsDuplicateRequestHash(t *testing.T) {
	sink := setupSink(t)
	require.NoError(t, sink.Record(context.Background(), distributed(7, 0x01)))
	require.Error(t, sink.Record(context.Background(), distributed(7, 0x01)))
}

func TestSinkStoresFlattenedEntriesAndSkipsTransfers(t *testing.T) {
	sink := setupSink(t)
	ctx := context.Background()

	sink.Emit(events.ReferralShareUpdated{Bps: 7500, Caller: common.BytesToAddress([]byte{0xad})})
	sink.Emit(events.ModulePauseChanged{Module: "referral", Paused: true})
	sink.Emit(events.Transfer{Asset: "USDC", Amount: big.NewInt(1)})

	all, err := sink.Entries(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, events.TypeModulePauseChanged, all[0].Type)
	require.Equal(t, "true", all[0].Attributes["paused"])

	shares, err := sink.Entries(ctx, events.TypeReferralShareUpdated, 10)
	require.NoError(t, err)
	require.Len(t, shares, 1)
	require.Equal(t, "7500", shares[0].Attributes["bps"])
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "dsn")
	require.Error(t, err)
	db, err := Open(DriverSQLite, fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	require.NotNil(t, db)
}
