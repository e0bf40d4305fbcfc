// Package instruction serves agent instructions through one of two
// strategies chosen at startup: CachedSource (load once, reload on Refresh
// or a cron schedule) or PerCallSource (load on every request).
package instruction
