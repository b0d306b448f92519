package migration

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeadershipMutatorsAreImmutable(t *testing.T) {
	base := emptyLeadershipState()
	withLeader := base.WithNewLogMetaController("node-7", 3)

	assert.Equal(t, int64(-1), base.LegacyEpochZkVersion, "base must be unmodified by the mutator")
	assert.Equal(t, "", base.LogMetaControllerID)
	assert.Equal(t, "node-7", withLeader.LogMetaControllerID)
	assert.Equal(t, int64(3), withLeader.LogMetaControllerEpoch)

	withOffset := withLeader.WithReplayedOffsetEpoch(100, 2)
	assert.Equal(t, int64(0), withLeader.ReplayedOffset, "earlier value must be unmodified")
	assert.Equal(t, int64(100), withOffset.ReplayedOffset)
	assert.Equal(t, int64(2), withOffset.ReplayedEpoch)

	complete := withOffset.WithMigrationComplete()
	assert.False(t, withOffset.MigrationComplete)
	assert.True(t, complete.MigrationComplete)
}

func TestApplyLeadershipReturnsCurrentOnError(t *testing.T) {
	current := LeadershipState{LegacyEpochZkVersion: 5}
	failing := errors.New("legacystore unreachable")

	next, err := applyLeadership(zerolog.Nop(), "test", current, func(s LeadershipState) (LeadershipState, error) {
		return LeadershipState{}, failing
	})

	require.ErrorIs(t, err, failing)
	assert.Equal(t, current, next, "current must be returned unchanged on mutator error")
}

func TestApplyLeadershipReplacesOnSuccess(t *testing.T) {
	current := LeadershipState{LegacyEpochZkVersion: 5}

	next, err := applyLeadership(zerolog.Nop(), "test", current, func(s LeadershipState) (LeadershipState, error) {
		return s.WithNewLogMetaController("leader", 9), nil
	})

	require.NoError(t, err)
	assert.Equal(t, "leader", next.LogMetaControllerID)
	assert.Equal(t, int64(9), next.LogMetaControllerEpoch)
}
