// Package cmd defines the archiver CLI.
//
// Architecture overview:
//   - crawl: loads the checkpoint, pages through the catalog search newest
//     first, then sweeps ids the search cannot reach and fetches their detail
//     payloads. Both phases run sequentially and persist progress as they go,
//     so an interrupted run resumes where it stopped.
//   - assets: downloads each stored record's thumbnail into a local directory
//     or a gs://bucket/prefix target using a bounded worker pool.
//   - Configuration: Viper merges defaults, an optional config file,
//     ARCHIVER_* environment variables and explicitly set flags.
//   - Observability: zap logs (debug with --verbose, errors only otherwise),
//     progress events batched to log and Prometheus sinks, and an optional
//     /metrics endpoint (metrics.addr).
//
// Run locally: go run . crawl --database archive.db --assets thumbs
package cmd
