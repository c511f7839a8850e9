// Package logging provides the structured logger handed to every auxin
// component at construction time.
//
// There is no package-level logger. The daemon builds one [Logger] from
// configuration and passes it (or a child of it) into the lock client, the
// file change monitor, each project's commit lane and the offline queue.
//
// # Handlers
//
//   - Console: human-readable output via tint, colored only when stderr is a
//     terminal (go-isatty) and NO_COLOR is unset.
//   - File: JSON lines written through a lumberjack rotating writer.
//
// When both are enabled a fan-out handler sends every record to each.
//
// # Basic Usage
//
//	logger, err := logging.New(logging.Options{
//	    Level:   logging.LevelInfo,
//	    File:    "/var/log/auxin/daemon.log",
//	    Console: true,
//	})
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	logger.Info("lock acquired", "lock_id", rec.LockID)
//
// # Context Propagation
//
// Child loggers carry persistent attributes:
//
//	lane := logger.WithProject("studio/song").WithComponent("orchestrator")
//	lane.Warn("commit skipped", "reason", "lock not owned")
//
// Output (file handler):
//
//	{"time":"...","level":"WARN","msg":"commit skipped","project_id":"studio/song","component":"orchestrator","reason":"lock not owned"}
//
// # Testing
//
// Use [NopLogger] to discard output, or [NewWithWriter] to capture JSON
// records in a buffer.
package logging
