// Package dblock provides the recursive, owner-checked lock that serializes
// structural access to the catalog database.
//
// A goroutine may take the lock several times; each Lock is paired with one
// Unlock. ReleaseAll and Restore let the owner give up every level for a
// while (for example around a long filesystem walk) and take the lock back
// at the same depth afterwards.
package dblock
