// Package progress carries drain-run milestones from the loop to pluggable
// sinks. The loop emits Events through a Hub, which buffers them on a
// background goroutine and fans batches out to sinks such as the structured
// log, Prometheus collectors, the run log, and the status snapshot.
package progress
