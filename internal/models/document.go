package models

import "time"

// FileRecord is the Firestore document written for every processed source file.
// It mirrors the terminal state reported to the observer.
type FileRecord struct {
	SessionID        string    `firestore:"sessionId,omitempty"`
	OriginalFilename string    `firestore:"originalFilename,omitempty"`
	SourcePath       string    `firestore:"sourcePath,omitempty"`
	Status           string    `firestore:"status,omitempty"`
	JSONStatus       string    `firestore:"jsonStatus,omitempty"`
	PDFStatus        string    `firestore:"pdfStatus,omitempty"`
	ErrorCode        string    `firestore:"errorCode,omitempty"`
	ErrorDetails     string    `firestore:"errorDetails,omitempty"`
	PageCount        int       `firestore:"pageCount,omitempty"`
	PartCount        int       `firestore:"partCount,omitempty"`
	JobHandle        string    `firestore:"jobHandle,omitempty"`
	Outputs          []string  `firestore:"outputs,omitempty"`
	CreatedAt        time.Time `firestore:"createdAt,omitempty"`
}

// UploadRecord marks a bucket upload as seen, keyed by content hash.
type UploadRecord struct {
	FileHash  string    `firestore:"fileHash"`
	Bucket    string    `firestore:"bucket"`
	Object    string    `firestore:"object"`
	SessionID string    `firestore:"sessionId,omitempty"`
	State     string    `firestore:"state,omitempty"`
	CreatedAt time.Time `firestore:"createdAt"`
}
