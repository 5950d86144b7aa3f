package api

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/hbomb79/Iris/internal/download"
	"github.com/hbomb79/Iris/internal/event"
	"github.com/hbomb79/Iris/internal/extractor"
	"github.com/hbomb79/Iris/internal/http/websocket"
	"github.com/stretchr/testify/assert"
)

type stubDownloadService struct {
	jobs map[uuid.UUID]download.Job
}

func (service *stubDownloadService) Submit(string, extractor.Options, string) (uuid.UUID, error) {
	return uuid.New(), nil
}

func (service *stubDownloadService) Job(id uuid.UUID) (download.Job, error) {
	job, ok := service.jobs[id]
	if !ok {
		return download.Job{}, download.ErrJobNotFound
	}

	return job, nil
}

func (service *stubDownloadService) AllJobs() []download.Job { return nil }

func (service *stubDownloadService) CancelJob(uuid.UUID) error { return nil }

func (service *stubDownloadService) Probe(context.Context, string) (*extractor.MediaInfo, error) {
	return nil, nil
}

func Test_DownloadStatusCommand(t *testing.T) {
	known := download.Job{ID: uuid.New(), SourceURL: "https://example.com/a.mp4", Status: download.Downloading, Progress: 55}
	service := &stubDownloadService{jobs: map[uuid.UUID]download.Job{known.ID: known}}
	gateway := NewRestGateway(&RestConfig{}, service, nil, nil, event.New())

	command := func(body map[string]interface{}) *websocket.SocketMessage {
		return &websocket.SocketMessage{Title: "DOWNLOAD_STATUS", Body: body, Type: websocket.Command}
	}

	tests := []struct {
		summary string
		body    map[string]interface{}
		wantErr bool
	}{
		{"known task replies without error", map[string]interface{}{"task_id": known.ID.String()}, false},
		{"missing task_id argument", map[string]interface{}{}, true},
		{"malformed task_id", map[string]interface{}{"task_id": "not-a-uuid"}, true},
		{"unknown task", map[string]interface{}{"task_id": uuid.NewString()}, true},
	}

	for _, test := range tests {
		t.Run(test.summary, func(t *testing.T) {
			err := gateway.downloadStatusCommand(gateway.socket, command(test.body))
			if test.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
