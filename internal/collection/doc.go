// Package collection keeps the album roots of the open catalog in memory
// and maps file system paths onto them.
package collection
