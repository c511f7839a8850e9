// Package offlinequeue persists operations that could not reach the version
// control engine or the lock service, and replays them once connectivity
// returns.
//
// Each project owns one [Queue] stored as queue.json in its state
// directory. Writes go to a temporary file that is renamed into place while
// an flock(2) lock is held, so the CLI can read the queue while the daemon
// writes it.
//
// Replay is strictly first-in first-out: an entry waiting for its next
// attempt blocks everything behind it. Entries are dropped, with a warning
// and a queue.dropped event, when they outlive the configured TTL, exhaust
// their attempts or fail with a terminal error.
//
// Usage:
//
//	q, err := offlinequeue.Open(offlinequeue.Options{Dir: dir, ProjectID: id})
//	if err != nil {
//	    return err
//	}
//	_, _ = q.Enqueue(offlinequeue.KindCommit, offlinequeue.CommitPayload{Message: msg}, cause)
//
//	res, err := q.Replay(ctx, func(ctx context.Context, e offlinequeue.Entry) error {
//	    return replayOne(ctx, e)
//	})
package offlinequeue
