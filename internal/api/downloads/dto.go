package downloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/Iris/internal/download"
)

// Dto is the job record projection used by endpoints that return downloads
// (e.g., list, get).
type Dto struct {
	Id          uuid.UUID `json:"task_id"`
	SourceURL   string    `json:"url"`
	Status      string    `json:"status"`
	Progress    float64   `json:"progress"`
	Filename    string    `json:"filename,omitempty"`
	DownloadURL string    `json:"download_url,omitempty"`
	StorageType string    `json:"storage_type,omitempty"`
	FileSize    int64     `json:"file_size,omitempty"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func NewDto(job download.Job) *Dto {
	return &Dto{
		Id:          job.ID,
		SourceURL:   job.SourceURL,
		Status:      job.Status.String(),
		Progress:    job.Progress,
		Filename:    job.ResultName,
		DownloadURL: job.AccessURL,
		StorageType: string(job.StorageKind),
		FileSize:    job.ByteSize,
		Error:       job.ErrorMessage,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
	}
}
