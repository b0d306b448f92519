// Package legacystore implements migration.MigrationClient against a
// bbolt-backed store standing in for LegacyStore's hierarchical znode tree.
//
// Every entity (topic, config resource, quota entity, ACL pattern) lives in
// its own bucket keyed by a string derived from its identity, JSON-encoded.
// The controller-epoch/zk-version pair that migration.LeadershipState
// tracks is persisted in a dedicated single-key bucket so ClaimControllerLeadership
// can perform a compare-and-swap without a distributed lock: the whole
// update runs inside one bbolt write transaction, which bbolt serializes
// against every other writer.
package legacystore
