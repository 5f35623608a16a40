// Package watch lets processes sharing a catalog tell each other about
// configuration changes. Messages are small YAML files dropped into a
// directory that every process watches with fsnotify.
package watch
