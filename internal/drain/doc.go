// Package drain runs the scrape: it fetches pending work items, renders and
// extracts each one under the retry policy, commits the outcome, reports
// progress, and paces itself between items and between batches.
//
// A run moves Idle → Fetching → Draining → Completed. Fetching nothing
// completes the run without launching the rendering engine. Failing to fetch
// or to launch the engine ends the run with an error; per-item failures never
// do. Cancellation is honored between items and inside every wait; the item in
// flight at that moment is not committed and stays pending for the next run.
package drain
