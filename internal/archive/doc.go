// Package archive drives a crawl run: it pages through the catalog search,
// sweeps the sequential id space for records search cannot reach, and
// persists every record with its detail payload. All progress is recorded
// in the checkpoint so an interrupted run resumes where it stopped.
package archive
