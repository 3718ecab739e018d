// Package store defines the entities and repository interfaces for archived
// catalog records and crawl checkpoints. Implementations live in
// internal/storage; this package must not import database drivers.
package store
