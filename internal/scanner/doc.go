// Package scanner keeps the Images table in step with the files below each
// album root. Directory reads happen with the catalog access released, so a
// slow network mount does not hold up other users of the database.
package scanner
