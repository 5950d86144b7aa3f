// Package api contains the REST gateway: a thin wrapper around the Echo
// HTTP router whose sole responsibility is to expose the routes Iris
// serves, and to bridge download activity events on to the websocket hub.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/hbomb79/Iris/internal/api/artifacts"
	"github.com/hbomb79/Iris/internal/api/downloads"
	"github.com/hbomb79/Iris/internal/event"
	"github.com/hbomb79/Iris/internal/extractor"
	"github.com/hbomb79/Iris/internal/http/websocket"
	"github.com/hbomb79/Iris/pkg/logger"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

var log = logger.Get("API")

type (
	RestConfig struct {
		HostAddr string `yaml:"host_address" env:"API_HOST_ADDR" env-default:"0.0.0.0:8080"`
	}

	controller interface {
		SetRoutes(*echo.Group)
	}

	// DownloadService is the union of the orchestrator operations the
	// gateway needs: the downloads CRUD surface plus the synchronous
	// metadata probe.
	DownloadService interface {
		downloads.Service
		Probe(ctx context.Context, sourceURL string) (*extractor.MediaInfo, error)
	}

	// RestGateway is a thin-wrapper around the Echo HTTP router. Its sole
	// responsibility is to create the routes Iris exposes and to manage
	// ongoing web socket connections and events.
	RestGateway struct {
		*broadcaster
		config              *RestConfig
		ec                  *echo.Echo
		socket              *websocket.SocketHub
		downloadService     DownloadService
		downloadsController controller
		artifactsController controller
		eventChannel        event.HandlerChannel
	}
)

// NewRestGateway constructs the Echo router and populates it with all the
// routes defined by the various controllers. The artifact store and signer
// may be nil when no object store is configured.
func NewRestGateway(
	config *RestConfig,
	downloadService DownloadService,
	artifactStore artifacts.Store,
	signer downloads.URLSigner,
	eventBus event.EventCoordinator,
) *RestGateway {
	ec := echo.New()
	ec.OnAddRouteHandler = func(host string, route echo.Route, handler echo.HandlerFunc, middleware []echo.MiddlewareFunc) {
		log.Emit(logger.DEBUG, "Registered new route %s %s\n", route.Method, route.Path)
	}
	ec.HidePort = true
	ec.HideBanner = true

	validate := validator.New()
	socket := websocket.NewSocketHub()
	gateway := &RestGateway{
		broadcaster:         newBroadcaster(socket, downloadService),
		config:              config,
		ec:                  ec,
		socket:              socket,
		downloadService:     downloadService,
		downloadsController: downloads.New(validate, downloadService, signer),
		artifactsController: artifacts.New(artifactStore),
		eventChannel:        make(event.HandlerChannel, 100),
	}

	eventBus.RegisterHandlerChannel(gateway.eventChannel,
		event.DOWNLOAD_UPDATE, event.DOWNLOAD_PROGRESS, event.DOWNLOAD_COMPLETE)

	socket.BindCommand("DOWNLOAD_STATUS", gateway.downloadStatusCommand)
	socket.WithConnectionCallback(func() map[string]interface{} {
		jobs := downloadService.AllJobs()
		dtos := make([]*downloads.Dto, len(jobs))
		for k, v := range jobs {
			dtos[k] = downloads.NewDto(v)
		}

		return map[string]interface{}{"downloads": dtos}
	})

	ec.Use(middleware.Logger())
	ec.Use(middleware.Recover())
	ec.Use(middleware.CORS())
	ec.Pre(middleware.AddTrailingSlash())

	ec.GET("/api/iris/v1/activity/ws/", func(ec echo.Context) error {
		gateway.socket.UpgradeToSocket(ec.Response(), ec.Request())
		return nil
	})

	ec.GET("/api/iris/v1/media-info/", gateway.mediaInfo)
	ec.GET("/api/iris/v1/health/", func(ec echo.Context) error {
		return ec.JSON(http.StatusOK, map[string]string{"status": "healthy"})
	})

	downloadsGroup := ec.Group("/api/iris/v1/downloads")
	gateway.downloadsController.SetRoutes(downloadsGroup)

	artifactsGroup := ec.Group("/api/iris/v1/artifacts")
	gateway.artifactsController.SetRoutes(artifactsGroup)

	return gateway
}

func (gateway *RestGateway) Run(parentCtx context.Context) error {
	ctx, ctxCancel := context.WithCancelCause(parentCtx)
	wg := &sync.WaitGroup{}

	// Start echo router
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := gateway.ec.Start(gateway.config.HostAddr); err != nil {
			ctxCancel(err)
		}
	}()

	// Start thread to listen for context cancellation
	go func(ec *echo.Echo) {
		<-ctx.Done()
		ec.Close()
	}(gateway.ec)

	// Start websocket
	wg.Add(1)
	go func() {
		defer wg.Done()
		gateway.socket.Start(ctx)
	}()

	// Bridge download events on to the socket hub
	wg.Add(1)
	go func() {
		defer wg.Done()
		gateway.handleEvents(ctx)
	}()

	wg.Wait()

	// Return cancellation cause if any, otherwise nil as parent context
	// cancellation is not an error case we should report.
	if cause := context.Cause(ctx); cause != ctx.Err() {
		return cause
	}

	return nil
}

// mediaInfo serves the synchronous metadata probe. No job record is
// created by this endpoint.
func (gateway *RestGateway) mediaInfo(ec echo.Context) error {
	sourceURL := ec.QueryParam("url")
	if sourceURL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query parameter 'url' is required")
	}

	info, err := gateway.downloadService.Probe(ec.Request().Context(), sourceURL)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}

	return ec.JSON(http.StatusOK, info)
}

// downloadStatusCommand serves the DOWNLOAD_STATUS socket command: a client
// asks after a single task and receives its current projection as a reply,
// without waiting for the next broadcast.
func (gateway *RestGateway) downloadStatusCommand(hub *websocket.SocketHub, message *websocket.SocketMessage) error {
	if err := message.ValidateArguments(map[string]string{"task_id": "string"}); err != nil {
		return err
	}

	id, err := uuid.Parse(fmt.Sprintf("%v", message.Body["task_id"]))
	if err != nil {
		return fmt.Errorf("task_id is not a valid UUID")
	}

	job, err := gateway.downloadService.Job(id)
	if err != nil {
		return fmt.Errorf("no download task with ID %s", id)
	}

	hub.Send(message.FormReply(
		"COMMAND_SUCCESS",
		map[string]interface{}{"download": downloads.NewDto(job)},
		websocket.Response,
	))
	return nil
}

func (gateway *RestGateway) handleEvents(ctx context.Context) {
	for {
		select {
		case message := <-gateway.eventChannel:
			id, ok := message.Payload.(uuid.UUID)
			if !ok {
				log.Emit(logger.ERROR, "Event %s carried an illegal payload (%T)\n", message.Event, message.Payload)
				continue
			}

			var err error
			switch message.Event {
			case event.DOWNLOAD_UPDATE:
				err = gateway.BroadcastDownloadUpdate(id)
			case event.DOWNLOAD_PROGRESS:
				err = gateway.BroadcastDownloadProgressUpdate(id)
			case event.DOWNLOAD_COMPLETE:
				err = gateway.BroadcastDownloadComplete(id)
			}

			if err != nil {
				log.Emit(logger.WARNING, "Failed to broadcast %s for job %s: %v\n", message.Event, id, err)
			}
		case <-ctx.Done():
			return
		}
	}
}
