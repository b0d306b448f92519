package migration

import "github.com/rs/zerolog"

// LeadershipState is the driver's last-known authority in LegacyStore. It is
// replaced atomically by calling applyLeadership with a mutator function; instances
// are never mutated in place.
type LeadershipState struct {
	LegacyControllerEpoch int64
	LegacyEpochZkVersion  int64
	LogMetaControllerID   string
	LogMetaControllerEpoch int64
	ReplayedOffset        int64
	ReplayedEpoch         int64
	MigrationComplete     bool
}

// emptyLeadershipState is the sentinel value installed before recovery runs.
func emptyLeadershipState() LeadershipState {
	return LeadershipState{LegacyEpochZkVersion: -1}
}

// WithNewLogMetaController returns a copy of s recording a new LogMeta
// leader id and controller epoch.
func (s LeadershipState) WithNewLogMetaController(id string, epoch int64) LeadershipState {
	next := s
	next.LogMetaControllerID = id
	next.LogMetaControllerEpoch = epoch
	return next
}

// WithReplayedOffsetEpoch returns a copy of s recording the offset/epoch at
// which bulk replay completed.
func (s LeadershipState) WithReplayedOffsetEpoch(offset, epoch int64) LeadershipState {
	next := s
	next.ReplayedOffset = offset
	next.ReplayedEpoch = epoch
	return next
}

// WithMigrationComplete returns a copy of s with the migration-complete flag
// set. The flag is monotone false->true; callers never clear it.
func (s LeadershipState) WithMigrationComplete() LeadershipState {
	next := s
	next.MigrationComplete = true
	return next
}

// LeadershipMutator computes the next LeadershipState from the current one.
// Implementations typically delegate to a MigrationClient call and return
// the state it hands back (carrying a refreshed legacyEpochZkVersion).
type LeadershipMutator func(LeadershipState) (LeadershipState, error)

// applyLeadership replaces current with mutator(current), logging the
// before/after transition. It is the single point through which LegacyStore
// writes happen: mutator typically delegates to the MigrationClient.
func applyLeadership(logger zerolog.Logger, name string, current LeadershipState, mutator LeadershipMutator) (LeadershipState, error) {
	next, err := mutator(current)
	if err != nil {
		return current, err
	}
	logger.Debug().
		Str("apply", name).
		Int64("before_zk_version", current.LegacyEpochZkVersion).
		Int64("after_zk_version", next.LegacyEpochZkVersion).
		Int64("before_controller_epoch", current.LegacyControllerEpoch).
		Int64("after_controller_epoch", next.LegacyControllerEpoch).
		Msg("leadership state replaced")
	return next, nil
}
