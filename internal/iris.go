package internal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/Iris/internal/api"
	"github.com/hbomb79/Iris/internal/api/artifacts"
	apidownloads "github.com/hbomb79/Iris/internal/api/downloads"
	"github.com/hbomb79/Iris/internal/database"
	"github.com/hbomb79/Iris/internal/download"
	"github.com/hbomb79/Iris/internal/event"
	"github.com/hbomb79/Iris/internal/extractor"
	"github.com/hbomb79/Iris/internal/storage"
	"github.com/hbomb79/Iris/pkg/logger"
)

var log = logger.Get("Core")

type (
	RunnableService interface {
		Run(context.Context) error
	}

	DownloadService interface {
		RunnableService
		Submit(sourceURL string, opts extractor.Options, requesterAddr string) (uuid.UUID, error)
		Job(uuid.UUID) (download.Job, error)
		AllJobs() []download.Job
		CancelJob(uuid.UUID) error
		Probe(ctx context.Context, sourceURL string) (*extractor.MediaInfo, error)
	}
)

// irisImpl represents the top-level object for the server, and is
// responsible for initialising stores, services, the database connection
// and event handling.
type irisImpl struct {
	eventBus event.EventCoordinator
	config   IrisConfig
	db       database.Manager

	jobStore    *download.Store
	objectStore *storage.ObjectStore

	downloadService DownloadService
	restGateway     RunnableService
}

func New(config IrisConfig) *irisImpl {
	log.Emit(logger.DEBUG, "Bootstrapping Iris services using config: %#v\n", config)
	iris := &irisImpl{
		eventBus: event.New(),
		config:   config,
		db:       database.New(),
	}

	var mirror download.Mirror
	if config.Database.Enabled {
		mirror = download.NewPersistentStore(iris.db)
	}
	iris.jobStore = download.NewStore(mirror)

	selector := extractor.NewSelector(
		extractor.NewYtdlpExtractor(),
		extractor.NewYoutubeDLExtractor(),
		extractor.NewDirectExtractor(),
	)

	var artifactStore artifacts.Store
	var signer apidownloads.URLSigner
	if config.ObjectStore.Enabled {
		backend, err := storage.NewMinioBackend(config.ObjectStore)
		if err != nil {
			panic(fmt.Sprintf("failed to construct object store backend due to error: %s", err.Error()))
		}

		iris.objectStore = storage.NewObjectStore(backend, time.Duration(config.ObjectStore.PresignExpiry)*time.Second)
		artifactStore = iris.objectStore
		signer = iris.objectStore
	}

	local, err := storage.NewLocalStore(config.Storage.DownloadDir)
	if err != nil {
		panic(fmt.Sprintf("failed to construct local storage due to error: %s", err.Error()))
	}

	resolver := storage.NewResolver(iris.objectStore, local, config.Storage.LocalFallback)
	iris.downloadService = download.New(config.Download, selector, resolver, iris.eventBus, iris.jobStore)
	iris.restGateway = api.NewRestGateway(&config.API, iris.downloadService, artifactStore, signer, iris.eventBus)

	return iris
}

// Run will start all of Iris by bringing up all required services and
// connections (database, object store bucket, service instances).
//
// This function will not return until Iris is stopped. To stop Iris, the
// provided context must be cancelled. Errors from which Iris cannot
// recover will also cause Iris to stop.
func (iris *irisImpl) Run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	crashHandler := func(label string, err error) {
		log.Emit(logger.FATAL, "Service crash (%s)! %s\n", label, err.Error())
		cancel()
	}

	if iris.config.Database.Enabled {
		log.Emit(logger.NEW, "Connecting to database...\n")
		if err := iris.db.Connect(iris.config.Database); err != nil {
			return err
		}
	}

	if iris.objectStore != nil {
		log.Emit(logger.NEW, "Ensuring object store bucket...\n")
		if err := iris.objectStore.Connect(ctx); err != nil {
			if !iris.config.Storage.LocalFallback {
				return err
			}

			log.Emit(logger.WARNING, "Object store unavailable (%s); continuing with local storage fallback\n", err.Error())
		}
	}

	wg := &sync.WaitGroup{}
	iris.spawnAsyncService(ctx, wg, iris.downloadService, "download-service", crashHandler)
	iris.spawnAsyncService(ctx, wg, iris.restGateway, "rest-gateway", crashHandler)
	log.Emit(logger.SUCCESS, "Iris services spawned!\n")

	wg.Wait()
	return nil
}

// spawnAsyncService will run the provided function/service as it's own
// go-routine, ensuring that the Iris service waitgroup is updated correctly
func (iris *irisImpl) spawnAsyncService(context context.Context, wg *sync.WaitGroup, service RunnableService, serviceLabel string, crashHandler func(string, error)) {
	log.Emit(logger.NEW, "Spawning %s\n", serviceLabel)
	wg.Add(1)

	go func(wg *sync.WaitGroup, label string, crash func(string, error)) {
		defer func() {
			if r := recover(); r != nil {
				crash(label, fmt.Errorf("panic %v", r))
			}
		}()

		defer wg.Done()
		if err := service.Run(context); err != nil {
			crash(label, err)
		}
	}(wg, serviceLabel, crashHandler)
}
