// Package catalog is the logical view of the core catalog database: the
// Settings key/value table, album roots, tags and images.
//
// Methods run on the calling goroutine's backend connection and so share
// its retry rules and logical transactions. Callers are expected to hold
// database access (see package coredb) for as long as they use a DB.
package catalog
