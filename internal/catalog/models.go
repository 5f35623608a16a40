package catalog

import "time"

// AlbumRoot is a directory tree whose images are tracked by the catalog.
type AlbumRoot struct {
	ID           int64  `json:"id"`
	Label        string `json:"label"`
	SpecificPath string `json:"specificPath"`
	Status       int    `json:"status"`
}

// Album root status values.
const (
	AlbumRootAvailable = 0
	AlbumRootHidden    = 1
)

type Tag struct {
	ID       int64  `json:"id"`
	ParentID int64  `json:"parentId,omitempty"`
	Name     string `json:"name"`
}

// Image is one file below an album root. RelativePath uses forward slashes
// and starts at the root, e.g. "2024/holiday/img_0001.jpg".
type Image struct {
	ID           int64     `json:"id"`
	AlbumRootID  int64     `json:"albumRootId"`
	RelativePath string    `json:"relativePath"`
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	ModTime      time.Time `json:"modTime"`
	Hash         string    `json:"-"`
}
