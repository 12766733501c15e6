// Package shutdown coordinates graceful, phased process shutdown.
//
// Components register lifetime notifications and named waiters at
// configuration time. A single call to Coordinator.Initiate then runs the
// sequence PREPARE_SHUTDOWN → drain waiters → SHUTDOWN → AFTER_SHUTDOWN,
// bounded by a total timeout. Exceeding the timeout never blocks exit; it
// only downgrades the result to unclean.
package shutdown
