package extractor

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/hbomb79/Iris/pkg/logger"
)

const directBackendName = "direct"

// directExtractor is the universal last-resort adapter: it treats the
// source URL itself as the media URL and fetches it with a plain HTTP GET.
// It refuses HTML responses so that platform landing pages are never
// stored as "media".
type directExtractor struct {
	client *http.Client
	log    logger.Logger
}

func NewDirectExtractor() *directExtractor {
	return &directExtractor{
		client: &http.Client{Timeout: 30 * time.Second},
		log:    logger.Get("Direct"),
	}
}

func (ex *directExtractor) Name() string { return directBackendName }

func (ex *directExtractor) Attempt(ctx context.Context, sourceURL string, _ Options) ([]MediaDescriptor, error) {
	contentType, size, filename, err := ex.inspect(ctx, sourceURL)
	if err != nil {
		return nil, err
	}

	kind := MediaKindVideo
	if strings.HasPrefix(contentType, "audio/") {
		kind = MediaKindAudio
	}

	ext := strings.TrimPrefix(path.Ext(filename), ".")
	if ext == "" {
		ext = "bin"
	}

	return []MediaDescriptor{{
		URL:       sourceURL,
		Quality:   "best",
		Extension: ext,
		Kind:      kind,
		Size:      size,
		Filename:  filename,
		Open:      ex.openFunc(sourceURL),
	}}, nil
}

func (ex *directExtractor) Probe(ctx context.Context, sourceURL string) (*MediaInfo, error) {
	_, size, filename, err := ex.inspect(ctx, sourceURL)
	if err != nil {
		return nil, err
	}

	return &MediaInfo{
		SourceURL: sourceURL,
		Title:     filename,
		Backend:   directBackendName,
		Formats: []FormatInfo{{
			ID:        "direct",
			Quality:   "best",
			Extension: strings.TrimPrefix(path.Ext(filename), "."),
			Filesize:  size,
		}},
	}, nil
}

// inspect fetches the URL headers (closing the body immediately, no media
// bytes are consumed) and validates that the response looks like media.
func (ex *directExtractor) inspect(ctx context.Context, sourceURL string) (contentType string, size int64, filename string, failure error) {
	response, err := ex.get(ctx, sourceURL)
	if err != nil {
		return "", 0, "", err
	}
	defer response.Body.Close()

	contentType = strings.ToLower(response.Header.Get("Content-Type"))
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		contentType = mediaType
	}

	if contentType == "text/html" || contentType == "application/xhtml+xml" {
		return "", 0, "", NewFailure(FailureExtraction, directBackendName,
			fmt.Sprintf("URL %s returned an HTML document, not media", sourceURL), nil)
	}

	return contentType, sizeOrUnknown(response.ContentLength), ex.filenameFor(sourceURL, response), nil
}

func (ex *directExtractor) get(ctx context.Context, sourceURL string) (*http.Response, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, NewFailure(FailureUnsupported, directBackendName, "URL is not fetchable over HTTP", err)
	}

	response, err := ex.client.Do(request)
	if err != nil {
		return nil, classifyError(directBackendName, err)
	}

	switch {
	case response.StatusCode == http.StatusOK || response.StatusCode == http.StatusPartialContent:
		return response, nil
	case response.StatusCode == http.StatusUnauthorized,
		response.StatusCode == http.StatusForbidden,
		response.StatusCode == http.StatusTooManyRequests:
		response.Body.Close()
		return nil, NewFailure(FailureBlocked, directBackendName,
			fmt.Sprintf("server refused request with status %d", response.StatusCode), nil)
	default:
		response.Body.Close()
		return nil, NewFailure(FailureExtraction, directBackendName,
			fmt.Sprintf("unexpected status %d from %s", response.StatusCode, sourceURL), nil)
	}
}

// filenameFor derives the stored filename, preferring the servers
// Content-Disposition over the URL path.
func (ex *directExtractor) filenameFor(sourceURL string, response *http.Response) string {
	if disposition := response.Header.Get("Content-Disposition"); disposition != "" {
		if _, params, err := mime.ParseMediaType(disposition); err == nil {
			if name := sanitizeFilename(params["filename"]); name != "" {
				return name
			}
		}
	}

	if parsed, err := url.Parse(sourceURL); err == nil {
		if name := sanitizeFilename(path.Base(parsed.Path)); name != "" && name != "/" && name != "." {
			return name
		}
	}

	return "download.bin"
}

func (ex *directExtractor) openFunc(sourceURL string) func(context.Context, ProgressFn) (io.ReadCloser, error) {
	return func(ctx context.Context, onProgress ProgressFn) (io.ReadCloser, error) {
		response, err := ex.get(ctx, sourceURL)
		if err != nil {
			return nil, err
		}
		defer response.Body.Close()

		// The body is spooled to scratch storage rather than handed over
		// live: the storage hand-off needs a seekable stream it can rewind
		// when an object store upload fails part-way through.
		dir, err := os.MkdirTemp("", "iris-direct-*")
		if err != nil {
			return nil, NewFailure(FailureExtraction, directBackendName, "unable to create scratch dir", err)
		}

		file, err := os.Create(filepath.Join(dir, "media"))
		if err != nil {
			os.RemoveAll(dir)
			return nil, NewFailure(FailureExtraction, directBackendName, "unable to create scratch file", err)
		}

		ex.log.Emit(logger.DEBUG, "Spooling %s to scratch storage (%d bytes)\n", sourceURL, response.ContentLength)
		progress := &progressReader{body: response.Body, total: response.ContentLength, onProgress: onProgress}
		if _, err := io.Copy(file, progress); err != nil {
			file.Close()
			os.RemoveAll(dir)
			if ctx.Err() != nil {
				return nil, classifyError(directBackendName, ctx.Err())
			}

			return nil, classifyError(directBackendName, err)
		}

		if _, err := file.Seek(0, io.SeekStart); err != nil {
			file.Close()
			os.RemoveAll(dir)
			return nil, NewFailure(FailureExtraction, directBackendName, "unable to rewind scratch file", err)
		}

		return &tempFileReader{File: file, dir: dir}, nil
	}
}

// progressReader reports percentage progress as the HTTP body is consumed.
// When the total size is unknown no intermediate progress is reported.
type progressReader struct {
	body       io.ReadCloser
	total      int64
	read       int64
	onProgress ProgressFn
}

func (reader *progressReader) Read(buffer []byte) (int, error) {
	n, err := reader.body.Read(buffer)
	reader.read += int64(n)

	if reader.onProgress != nil && reader.total > 0 {
		reader.onProgress(float64(reader.read) / float64(reader.total) * 100)
	}

	return n, err
}

func (reader *progressReader) Close() error { return reader.body.Close() }
