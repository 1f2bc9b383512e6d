package domain

import "time"

// SnapshotRecord - catalog entry for one published pool map version
type SnapshotRecord struct {
	Pool        string    `json:"pool" dynamodbav:"pool"`       // Partition Key
	Version     uint32    `json:"version" dynamodbav:"version"` // Sort Key
	Location    string    `json:"location" dynamodbav:"location"`
	Checksum    string    `json:"checksum" dynamodbav:"checksum"` // blake3 of the encoded buffer
	Domains     int       `json:"domains" dynamodbav:"domains"`
	Targets     int       `json:"targets" dynamodbav:"targets"`
	StoredBytes int64     `json:"stored_bytes" dynamodbav:"stored_bytes"`
	CreatedAt   time.Time `json:"created_at" dynamodbav:"created_at"`
}
