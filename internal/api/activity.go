package api

import (
	"github.com/google/uuid"
	"github.com/hbomb79/Iris/internal/api/downloads"
	"github.com/hbomb79/Iris/internal/http/websocket"
)

const (
	TITLE_DOWNLOAD_UPDATE   = "DOWNLOAD_UPDATE"
	TITLE_DOWNLOAD_PROGRESS = "DOWNLOAD_PROGRESS_UPDATE"
	TITLE_DOWNLOAD_COMPLETE = "DOWNLOAD_COMPLETE"
)

type (
	DownloadUpdate struct {
		TaskId   uuid.UUID      `json:"task_id"`
		Download *downloads.Dto `json:"download"`
	}

	// broadcaster pushes download activity to every connected socket
	// client so consumers need not poll the status endpoint.
	broadcaster struct {
		socketHub       *websocket.SocketHub
		downloadService downloads.Service
	}
)

func newBroadcaster(socketHub *websocket.SocketHub, downloadService downloads.Service) *broadcaster {
	return &broadcaster{socketHub, downloadService}
}

func (hub *broadcaster) BroadcastDownloadUpdate(id uuid.UUID) error {
	return hub.broadcastJob(TITLE_DOWNLOAD_UPDATE, id)
}

func (hub *broadcaster) BroadcastDownloadProgressUpdate(id uuid.UUID) error {
	return hub.broadcastJob(TITLE_DOWNLOAD_PROGRESS, id)
}

func (hub *broadcaster) BroadcastDownloadComplete(id uuid.UUID) error {
	return hub.broadcastJob(TITLE_DOWNLOAD_COMPLETE, id)
}

func (hub *broadcaster) broadcastJob(title string, id uuid.UUID) error {
	job, err := hub.downloadService.Job(id)
	if err != nil {
		return err
	}

	hub.socketHub.Send(&websocket.SocketMessage{
		Title: title,
		Body:  map[string]interface{}{"arguments": DownloadUpdate{TaskId: id, Download: downloads.NewDto(job)}},
		Type:  websocket.Update,
	})

	return nil
}
