package downloads

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/hbomb79/Iris/internal/download"
	"github.com/hbomb79/Iris/internal/extractor"
	"github.com/hbomb79/Iris/internal/storage"
	"github.com/labstack/echo/v4"
)

type (
	SubmitRequest struct {
		URL       string `json:"url" validate:"required"`
		Quality   string `json:"quality"`
		Format    string `json:"format"`
		AudioOnly bool   `json:"audio_only"`
	}

	SubmitResponse struct {
		TaskId uuid.UUID `json:"task_id"`
		Status string    `json:"status"`
	}

	Service interface {
		Submit(sourceURL string, opts extractor.Options, requesterAddr string) (uuid.UUID, error)
		Job(uuid.UUID) (download.Job, error)
		AllJobs() []download.Job
		CancelJob(uuid.UUID) error
	}

	// URLSigner re-signs an access URL for an object-store artefact; a
	// jobs original presigned URL may have expired by the time the file
	// endpoint is hit.
	URLSigner interface {
		PresignGet(ctx context.Context, key string) (string, error)
	}

	// Controller defines the routes for the downloads surface and holds
	// the service reference used to serve them.
	Controller struct {
		validate *validator.Validate
		service  Service
		signer   URLSigner
	}
)

// New constructs the downloads controller. The signer may be nil when no
// object store is configured.
func New(validate *validator.Validate, service Service, signer URLSigner) *Controller {
	return &Controller{validate: validate, service: service, signer: signer}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.POST("/", controller.create)
	eg.GET("/", controller.list)
	eg.GET("/:id/", controller.get)
	eg.DELETE("/:id/", controller.cancel)
	eg.GET("/:id/file/", controller.file)
}

// create accepts a new download submission, returning 202 with the task ID
// on success. The fetch itself happens in the background; this endpoint
// never waits on it.
func (controller *Controller) create(ec echo.Context) error {
	var request SubmitRequest
	if err := ec.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("JSON body illegal: %v", err))
	}
	if err := controller.validate.Struct(request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	opts := extractor.Options{
		Quality:   request.Quality,
		Format:    request.Format,
		AudioOnly: request.AudioOnly,
	}

	id, err := controller.service.Submit(request.URL, opts, ec.RealIP())
	if err != nil {
		var validationErr *download.ValidationError
		if errors.As(err, &validationErr) {
			return echo.NewHTTPError(http.StatusBadRequest, validationErr.Error())
		}

		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return ec.JSON(http.StatusAccepted, SubmitResponse{TaskId: id, Status: download.Starting.String()})
}

// list returns all the known jobs - represented as DTOs - in submission order.
func (controller *Controller) list(ec echo.Context) error {
	jobs := controller.service.AllJobs()
	dtos := make([]*Dto, len(jobs))
	for k, v := range jobs {
		dtos[k] = NewDto(v)
	}

	return ec.JSON(http.StatusOK, dtos)
}

// get uses the 'id' path param from the context and retrieves the job from
// the underlying store.
func (controller *Controller) get(ec echo.Context) error {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Task ID is not a valid UUID")
	}

	job, err := controller.service.Job(id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound)
	}

	return ec.JSON(http.StatusOK, NewDto(job))
}

// cancel requests best-effort cancellation of the job.
func (controller *Controller) cancel(ec echo.Context) error {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Task ID is not a valid UUID")
	}

	if err := controller.service.CancelJob(id); err != nil {
		if errors.Is(err, download.ErrJobNotFound) {
			return echo.NewHTTPError(http.StatusNotFound)
		}

		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}

	return ec.NoContent(http.StatusOK)
}

// file hands the completed artefact to the client: object-store artefacts
// redirect to a presigned URL, local artefacts are streamed directly.
func (controller *Controller) file(ec echo.Context) error {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Task ID is not a valid UUID")
	}

	job, err := controller.service.Job(id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound)
	}
	if job.Status != download.Completed {
		return echo.NewHTTPError(http.StatusConflict, fmt.Sprintf("download is not complete (status %s)", job.Status))
	}

	switch job.StorageKind {
	case storage.KindObjectStore:
		accessURL := job.AccessURL
		if controller.signer != nil {
			if fresh, err := controller.signer.PresignGet(ec.Request().Context(), job.ResultLocation); err == nil {
				accessURL = fresh
			}
		}

		return ec.Redirect(http.StatusTemporaryRedirect, accessURL)
	case storage.KindLocal:
		return ec.Attachment(job.ResultLocation, job.ResultName)
	}

	return echo.NewHTTPError(http.StatusInternalServerError, "job has no stored artefact")
}
