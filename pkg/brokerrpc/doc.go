// Package brokerrpc implements migration.Propagator: it tells live brokers
// about cluster metadata the driver has learned from LogMeta, using the
// same bare grpc.ClientConn dialing idiom the teacher's pkg/client uses for
// its CLI-to-manager RPCs, adapted to a fire-and-forget broker fan-out.
package brokerrpc
