// ABOUTME: Doc for the reaper package
// ABOUTME: Periodic retention sweep over aged conversation records

// Package reaper removes aged conversation records on a fixed interval.
// A sweep runs once at startup and then on every tick until the context
// is cancelled. Which statuses a sweep considers, and the retention
// window for closed records, come from configuration.
package reaper
