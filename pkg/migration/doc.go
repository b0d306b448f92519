/*
Package migration implements the migration driver: the control-plane state
machine that moves cluster metadata from LegacyStore, a hierarchical znode
key-value service, into LogMeta, a replicated log-based metadata system, and
then keeps LegacyStore mirrored via dual-write once the migration completes.

A single Driver owns one worker goroutine. All mutation of driver fields
happens on that worker; everything else only enqueues events onto the
EventLoop. See eventloop.go, poll.go, replay.go and changehandler.go for the
event kinds and driver.go for how they are wired together.
*/
package migration
