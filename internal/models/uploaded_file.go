package models

import "time"

type FileKind string

const (
	FilePhoto FileKind = "photo"
	FileAudio FileKind = "audio"
	FileText  FileKind = "text"
)

// UploadedFile references one encrypted artifact on disk. The plaintext is
// discarded the moment encryption succeeds; StoredPath always points at
// ciphertext.
type UploadedFile struct {
	ID           int64     `json:"id"`
	SessionID    string    `json:"session_id"`
	Kind         FileKind  `json:"kind"`
	OriginalName string    `json:"original_name"`
	Size         int64     `json:"size"`
	StoredPath   string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}
