// Package logging provides structured logging for buffet workers.
//
// This package wraps Go's log/slog to write JSON lines that can be read back
// after a run. Workers on different hosts usually share one log directory,
// so each process writes its own file and [AggregateLogs] merges them.
//
// # Features
//
//   - JSON-formatted structured logging via slog
//   - Configurable log levels (DEBUG, INFO, WARN, ERROR)
//   - Child loggers carrying worker and task ids
//   - Size-based rotation with optional gzip compression of backups
//   - Aggregation, filtering and export to JSON, text or CSV
//
// # Basic Usage
//
//	logger, err := logging.NewLogger("/shared/run/logs", "INFO")
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	wlog := logger.WithWorker("node3-4242-1a2b3c4d")
//	wlog.WithTask("lr=0.1,depth=2").Info("task picked", "attempt", 1)
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"task picked","worker_id":"node3-4242-1a2b3c4d","task_id":"lr=0.1,depth=2","attempt":1}
//
// # Reading Logs Back
//
//	entries, err := logging.AggregateLogs("/shared/run/logs")
//	failed := logging.FilterLogs(entries, logging.LogFilter{Level: "WARN", WorkerID: "node3-4242-1a2b3c4d"})
//	err = logging.WriteLogEntries(os.Stdout, failed, "text")
package logging
