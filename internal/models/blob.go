package models

import "time"

// ContainerInfo identifies a single container (bucket) in the storage account
type ContainerInfo struct {
	Name string
}

// BlobInfo represents per-object metadata fetched during a scan.
// Records are transient: they are aggregated per container and never
// persisted individually.
type BlobInfo struct {
	Key          string
	Size         int64 // in bytes
	LastModified time.Time
}
