// Package catalog keeps the items the core may forget.
//
// The eviction scheduler reads candidates from a Catalog; the admin API
// writes to it as items are ingested or accessed. Memory is the
// in-process implementation. It charges size changes to the item's
// budget scope so the tracker sees ingestion as it happens.
package catalog
