package sourcing_test

import (
	"testing"

	"github.com/cuemby/nexus/pkg/agent"
	"github.com/cuemby/nexus/pkg/codec"
	"github.com/cuemby/nexus/pkg/eventstore"
	"github.com/cuemby/nexus/pkg/sourcing"
	"github.com/cuemby/nexus/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// BankState is the seed scenario 4 (§8) bank-account example: an
// event-sourced agent whose only state is an integer balance.
type BankState struct {
	Balance int
}

type Deposited struct{ Amount int }
type Withdrawn struct{ Amount int }

func transition(state *BankState, event any) *BankState {
	next := *state
	switch e := event.(type) {
	case *Deposited:
		next.Balance += e.Amount
	case *Withdrawn:
		next.Balance -= e.Amount
	}
	return &next
}

type bankAccount struct {
	*agent.Base[BankState, struct{}]
}

func newBankAccount(id string, reg *codec.Registry, store eventstore.EventStore) (*bankAccount, *sourcing.Sourced[BankState, struct{}]) {
	b := agent.New[BankState, struct{}](nil, id, "bankAccount", agent.Deps[BankState, struct{}]{
		Codec: reg,
	})
	b.State = &BankState{}
	acct := &bankAccount{Base: b}
	sourced := sourcing.New(b, sourcing.Deps[BankState]{
		Store:      store,
		Codec:      reg,
		Transition: transition,
	})
	return acct, sourced
}

func TestEventSourcedBankAccount_ConfirmAndReplay(t *testing.T) {
	reg := codec.New()
	reg.Register("bank.v1.deposited", Deposited{})
	reg.Register("bank.v1.withdrawn", Withdrawn{})
	store := eventstore.NewMemory()

	_, sourced := newBankAccount("acct-1", reg, store)

	require.NoError(t, sourced.RaiseEvent(Deposited{Amount: 1000}))
	require.NoError(t, sourced.ConfirmEvents())
	assert.Equal(t, 1, sourced.CurrentVersion())

	require.NoError(t, sourced.RaiseEvent(Withdrawn{Amount: 300}))
	require.NoError(t, sourced.ConfirmEvents())
	assert.Equal(t, 2, sourced.CurrentVersion())

	require.NoError(t, sourced.RaiseEvent(Deposited{Amount: 500}))
	require.NoError(t, sourced.ConfirmEvents())
	assert.Equal(t, 3, sourced.CurrentVersion())

	acct, freshSourced := newBankAccount("acct-1", reg, store)
	assert.Equal(t, 0, acct.State.Balance) // fresh instance, not yet replayed

	require.NoError(t, freshSourced.ReplayEvents())
	assert.Equal(t, 3, freshSourced.CurrentVersion())
	assert.Equal(t, 1200, acct.State.Balance)
}

func TestEventSourcedReplay_MatchesLiveApply(t *testing.T) {
	reg := codec.New()
	reg.Register("bank.v1.deposited", Deposited{})
	reg.Register("bank.v1.withdrawn", Withdrawn{})
	store := eventstore.NewMemory()

	liveAcct, liveSourced := newBankAccount("acct-2", reg, store)
	require.NoError(t, liveSourced.RaiseEvent(Deposited{Amount: 1000}))
	require.NoError(t, liveSourced.RaiseEvent(Withdrawn{Amount: 300}))
	require.NoError(t, liveSourced.ConfirmEvents())
	require.NoError(t, liveSourced.RaiseEvent(Deposited{Amount: 500}))
	require.NoError(t, liveSourced.ConfirmEvents())

	replayAcct, replaySourced := newBankAccount("acct-2", reg, store)
	require.NoError(t, replaySourced.ReplayEvents())

	assert.Equal(t, liveAcct.Base.State.Balance, replayAcct.Base.State.Balance)
	assert.Equal(t, liveSourced.CurrentVersion(), replaySourced.CurrentVersion())
}

// TestConfirmEvents_ConcurrencyConflictClearsStaging covers a second,
// stale-state Sourced instance for the same agent id: its confirm must fail
// with a concurrency conflict and must not mutate in-memory state.
func TestConfirmEvents_ConcurrencyConflictClearsStaging(t *testing.T) {
	reg := codec.New()
	reg.Register("bank.v1.deposited", Deposited{})
	store := eventstore.NewMemory()

	_, sourced := newBankAccount("acct-3", reg, store)
	require.NoError(t, sourced.RaiseEvent(Deposited{Amount: 10}))
	require.NoError(t, sourced.ConfirmEvents())

	// A second instance for the same agent, still at version 0, races
	// against the first which has already advanced to version 1.
	stalePlayer, staleSourced := newBankAccount("acct-3", reg, store)
	require.NoError(t, staleSourced.RaiseEvent(Deposited{Amount: 999}))
	err := staleSourced.ConfirmEvents()

	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrConcurrencyConflict)
	assert.Equal(t, 0, stalePlayer.Base.State.Balance, "failed confirm must not mutate state")
	assert.Equal(t, 0, staleSourced.CurrentVersion())

	// The conflict cleared the staging buffer, so a second confirm has
	// nothing to append and cannot conflict again.
	require.NoError(t, staleSourced.ConfirmEvents())
	assert.Equal(t, 0, staleSourced.CurrentVersion())
}

func TestCreateSnapshot_PreservesEventsAndEnablesFastReplay(t *testing.T) {
	reg := codec.New()
	reg.Register("bank.v1.deposited", Deposited{})
	store := eventstore.NewMemory()

	_, sourced := newBankAccount("acct-4", reg, store)
	for i := 0; i < 3; i++ {
		require.NoError(t, sourced.RaiseEvent(Deposited{Amount: 100}))
		require.NoError(t, sourced.ConfirmEvents())
	}
	require.NoError(t, sourced.CreateSnapshot())

	snap, err := store.GetLatestSnapshot("acct-4")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, 3, snap.Version)

	events, err := store.GetEvents("acct-4", 0, 0, 0)
	require.NoError(t, err)
	assert.Len(t, events, 3, "snapshotting must not truncate the event log")

	// A fresh instance replays from the snapshot (version 3, balance 300);
	// no events follow it, so nothing is left to apply.
	replayAcct, replaySourced := newBankAccount("acct-4", reg, store)
	require.NoError(t, replaySourced.ReplayEvents())
	assert.Equal(t, 3, replaySourced.CurrentVersion())
	assert.Equal(t, 300, replayAcct.Base.State.Balance)
}

func TestSnapshotPolicy_CountBased(t *testing.T) {
	p := sourcing.CountPolicy{N: 2}
	assert.False(t, p.ShouldSnapshot(1))
	assert.True(t, p.ShouldSnapshot(2))
	assert.False(t, p.ShouldSnapshot(3))
	assert.True(t, p.ShouldSnapshot(4))

	var none sourcing.SnapshotPolicy = sourcing.NoSnapshot{}
	assert.False(t, none.ShouldSnapshot(100))
}
