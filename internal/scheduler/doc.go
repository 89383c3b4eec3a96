// Package scheduler owns the live set of recurring triggers.
//
// # Triggers
//
// Every stored schedule maps to at most one cron entry. Reconfigure rebuilds the
// whole set from the repository: a schedule whose pattern is rejected is logged
// and skipped, the rest are still registered. When the repository is empty the
// controller stays idle; no fallback trigger is installed.
//
// # Concurrency
//
// Reconfigure, Start and Stop are serialized. The repository read and the swap
// of the trigger set happen in one critical section, so rapid add/delete calls
// from the admin surface never interleave.
//
// Firings run on their own context with the configured run timeout. Stopping or
// replacing the trigger set cancels future firings only; a run already in
// progress finishes. Two schedules that fire at the same instant run
// concurrently.
package scheduler
