// Package progress carries crawl run milestones from the archive drivers and
// the asset downloader to pluggable sinks. Events are batched on a background
// goroutine so emitters never block on logging or metrics.
package progress
