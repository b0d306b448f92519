// Package logmeta implements migration.RecordConsumer and the leadership
// observation migration.Driver depends on, backed by a hashicorp/raft
// replicated log standing in for LogMeta's controller quorum.
//
// Quorum wraps a raft.Raft the same way pkg/manager wraps it for cluster
// state: one raft.FSM (Image) materializes a migration.MetadataImage by
// applying committed log entries, and Bootstrap/Join follow the same
// transport/log-store/snapshot-store wiring. The one addition this domain
// needs beyond pkg/manager's shape is leadership observation: Quorum
// registers a raft.Observer so every leadership change is translated into a
// migration.LeaderAndEpoch and delivered to the driver's OnLeaderChange.
package logmeta
