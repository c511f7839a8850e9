// Package event provides a synchronous pub-sub bus for reporting what the
// daemon's components did.
//
// Commit lanes, the offline queue, the lock heartbeater and the power hook
// publish events; the daemon's status view and the logs subscribe. Publishers
// never depend on subscribers.
//
// # Main Types
//
//   - [Event]: Interface implemented by all events (EventType, Timestamp)
//   - [Bus]: Synchronous dispatcher, safe for concurrent use
//   - [Handler]: func(Event)
//
// # Event Categories
//
// Commit lane: [StateChangedEvent], [CommitCreatedEvent],
// [CommitSkippedEvent], [CommitFailedEvent].
//
// Offline queue: [QueueEvent] with types queue.enqueued, queue.replayed and
// queue.dropped.
//
// Draft, lock and history: [DraftAdvisoryEvent], [LockLostEvent],
// [LockConflictEvent], [DivergenceEvent].
//
// Process: [ConnectivityChangedEvent], [PowerTriggeredEvent].
//
// # Panic Safety
//
// A handler that panics is recovered and logged; the remaining handlers still
// receive the event.
package event
