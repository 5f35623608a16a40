// Package schema creates and migrates the catalog schema.
//
// The schema version is kept under DBVersion in the Settings table. Each
// step runs in its own transaction and records its version when it
// commits, so an interrupted update resumes at the failed step. Engine
// specific DDL lives in the embedded sql/<engine>/ scripts.
//
// A catalog written by a newer program (a higher DBVersion) is never
// touched: the update fails and asks the host to abort.
package schema
