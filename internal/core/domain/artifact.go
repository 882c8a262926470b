package domain

import (
	"fmt"
	"time"
)

type ArtifactID string

type ArtifactType string

const (
	ArtifactReportPDF ArtifactType = "report_pdf"
	ArtifactSlidesPDF ArtifactType = "slides_pdf"
)

// Artifact is a rendered document stored for a job.
type Artifact struct {
	ID         ArtifactID   `json:"id"`
	JobID      JobID        `json:"job_id"`
	Type       ArtifactType `json:"type"`
	StorageURI string       `json:"storage_uri"`
	SizeBytes  int64        `json:"size_bytes"`
	CreatedAt  time.Time    `json:"created_at"`
}

// NewArtifact records a rendered document reference for a job.
func NewArtifact(jobID JobID, ref ArtifactRef) Artifact {
	return Artifact{
		ID:         ArtifactID(newV7()),
		JobID:      jobID,
		Type:       ref.Type,
		StorageURI: StorageURI(ref.Bucket, ref.Key),
		SizeBytes:  ref.SizeBytes,
		CreatedAt:  time.Now().UTC(),
	}
}

func StorageURI(bucket, key string) string {
	return fmt.Sprintf("s3://%s/%s", bucket, key)
}

// Object names used by the report worker and the download endpoint.
func ReportObjectKey(jobID JobID) string { return fmt.Sprintf("%s_report.pdf", jobID) }
func SlidesObjectKey(jobID JobID) string { return fmt.Sprintf("%s_slides.pdf", jobID) }
