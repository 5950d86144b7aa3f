package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hbomb79/Iris/pkg/logger"
	"github.com/lrstanley/go-ytdlp"
)

const ytdlpBackendName = "yt-dlp"

// ytdlpExtractor is the primary backend adapter, wrapping the yt-dlp tool
// via go-ytdlp. It handles every platform yt-dlp itself supports.
type ytdlpExtractor struct {
	log logger.Logger
}

func NewYtdlpExtractor() *ytdlpExtractor {
	return &ytdlpExtractor{log: logger.Get("YtDlp")}
}

func (ex *ytdlpExtractor) Name() string { return ytdlpBackendName }

// ytdlpInfo mirrors the subset of yt-dlp's --dump-json output that Iris
// consumes. Fields absent from the output simply zero out.
type ytdlpInfo struct {
	Title    string        `json:"title"`
	Uploader string        `json:"uploader"`
	Duration float64       `json:"duration"`
	Ext      string        `json:"ext"`
	URL      string        `json:"url"`
	Filesize int64         `json:"filesize"`
	Formats  []ytdlpFormat `json:"formats"`
}

type ytdlpFormat struct {
	FormatID   string `json:"format_id"`
	Ext        string `json:"ext"`
	Height     int    `json:"height"`
	FormatNote string `json:"format_note"`
	Filesize   int64  `json:"filesize"`
	Vcodec     string `json:"vcodec"`
	Acodec     string `json:"acodec"`
	URL        string `json:"url"`
}

func (ex *ytdlpExtractor) Attempt(ctx context.Context, sourceURL string, opts Options) ([]MediaDescriptor, error) {
	info, err := ex.dumpInfo(ctx, sourceURL)
	if err != nil {
		return nil, err
	}

	descriptors := ex.buildDescriptors(sourceURL, info, opts)
	if len(descriptors) == 0 {
		return nil, NewFailure(FailureExtraction, ytdlpBackendName,
			fmt.Sprintf("no usable formats for URL %s with the requested options", sourceURL), nil)
	}

	return descriptors, nil
}

func (ex *ytdlpExtractor) Probe(ctx context.Context, sourceURL string) (*MediaInfo, error) {
	info, err := ex.dumpInfo(ctx, sourceURL)
	if err != nil {
		return nil, err
	}

	formats := make([]FormatInfo, 0, len(info.Formats))
	for _, format := range info.Formats {
		formats = append(formats, FormatInfo{
			ID:        format.FormatID,
			Quality:   format.qualityLabel(),
			Extension: format.Ext,
			Filesize:  format.Filesize,
		})
	}

	return &MediaInfo{
		SourceURL: sourceURL,
		Title:     info.Title,
		Uploader:  info.Uploader,
		Duration:  info.Duration,
		Backend:   ytdlpBackendName,
		Formats:   formats,
	}, nil
}

// dumpInfo runs yt-dlp in metadata-only mode and decodes its JSON output.
// No media bytes are transferred.
func (ex *ytdlpExtractor) dumpInfo(ctx context.Context, sourceURL string) (*ytdlpInfo, error) {
	result, err := ytdlp.New().
		NoWarnings().
		NoPlaylist().
		SkipDownload().
		DumpJSON().
		Run(ctx, sourceURL)
	if err != nil {
		return nil, classifyError(ytdlpBackendName, err)
	}

	info := &ytdlpInfo{}
	if err := json.NewDecoder(strings.NewReader(result.Stdout)).Decode(info); err != nil {
		return nil, NewFailure(FailureExtraction, ytdlpBackendName, "malformed metadata output", err)
	}

	return info, nil
}

// buildDescriptors flattens the formats yt-dlp reports in to descriptors
// matching the requested options, ordered best-first. When the info carries
// no format table (common for direct media URLs), a single descriptor is
// built from the top-level fields.
func (ex *ytdlpExtractor) buildDescriptors(sourceURL string, info *ytdlpInfo, opts Options) []MediaDescriptor {
	baseName := sanitizeFilename(info.Title)
	if baseName == "" {
		baseName = "media"
	}

	if len(info.Formats) == 0 {
		ext := info.Ext
		if ext == "" {
			ext = "mp4"
		}

		return []MediaDescriptor{{
			URL:       info.URL,
			Quality:   "best",
			Extension: ext,
			Kind:      MediaKindVideo,
			Size:      sizeOrUnknown(info.Filesize),
			Filename:  baseName + "." + ext,
			Open:      ex.openFunc(sourceURL, "", ext, opts),
		}}
	}

	eligible := make([]ytdlpFormat, 0, len(info.Formats))
	for _, format := range info.Formats {
		if format.FormatID == "" {
			continue
		}

		audioOnly := format.Vcodec == "none" || format.Vcodec == ""
		if opts.AudioOnly && !audioOnly {
			continue
		}
		if !opts.AudioOnly && audioOnly {
			continue
		}
		if opts.Format != "" && !strings.EqualFold(format.Ext, opts.Format) && !opts.AudioOnly {
			continue
		}

		eligible = append(eligible, format)
	}

	// Format preference was too narrow; fall back to everything of the
	// right kind so the fallback chain has something to offer.
	if len(eligible) == 0 {
		for _, format := range info.Formats {
			if format.FormatID == "" {
				continue
			}
			if opts.AudioOnly != (format.Vcodec == "none" || format.Vcodec == "") {
				continue
			}

			eligible = append(eligible, format)
		}
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].Height != eligible[j].Height {
			return eligible[i].Height > eligible[j].Height
		}

		return eligible[i].Filesize > eligible[j].Filesize
	})

	descriptors := make([]MediaDescriptor, 0, len(eligible))
	for _, format := range eligible {
		kind := MediaKindVideo
		if format.Vcodec == "none" || format.Vcodec == "" {
			kind = MediaKindAudio
		}

		ext := format.Ext
		if ext == "" {
			ext = "mp4"
		}

		descriptors = append(descriptors, MediaDescriptor{
			URL:       format.URL,
			Quality:   format.qualityLabel(),
			Extension: ext,
			Kind:      kind,
			Size:      sizeOrUnknown(format.Filesize),
			Filename:  baseName + "." + ext,
			Open:      ex.openFunc(sourceURL, format.FormatID, ext, opts),
		})
	}

	return descriptors
}

// openFunc builds the stream thunk for a descriptor. The media is fetched
// by yt-dlp in to a temporary directory; the returned reader streams the
// produced file and tears the directory down on close.
func (ex *ytdlpExtractor) openFunc(sourceURL string, formatID string, ext string, opts Options) func(context.Context, ProgressFn) (io.ReadCloser, error) {
	return func(ctx context.Context, onProgress ProgressFn) (io.ReadCloser, error) {
		dir, err := os.MkdirTemp("", "iris-ytdlp-*")
		if err != nil {
			return nil, NewFailure(FailureExtraction, ytdlpBackendName, "unable to create scratch dir", err)
		}

		dl := ytdlp.New().
			NoWarnings().
			NoPlaylist().
			Output(filepath.Join(dir, "media.%(ext)s"))

		if formatID != "" {
			dl = dl.Format(formatID)
		}
		if opts.AudioOnly {
			dl = dl.ExtractAudio()
			if opts.Format != "" {
				dl = dl.AudioFormat(opts.Format)
			}
		}
		if onProgress != nil {
			dl = dl.ProgressFunc(500*time.Millisecond, func(update ytdlp.ProgressUpdate) {
				onProgress(update.Percent())
			})
		}

		if _, err := dl.Run(ctx, sourceURL); err != nil {
			os.RemoveAll(dir)
			return nil, classifyError(ytdlpBackendName, err)
		}

		file, err := openProducedFile(dir)
		if err != nil {
			os.RemoveAll(dir)
			return nil, NewFailure(FailureExtraction, ytdlpBackendName, "yt-dlp produced no output file", err)
		}

		ex.log.Emit(logger.DEBUG, "yt-dlp produced %s for URL %s\n", file.Name(), sourceURL)
		return &tempFileReader{File: file, dir: dir}, nil
	}
}

func (format ytdlpFormat) qualityLabel() string {
	if format.Height > 0 {
		return fmt.Sprintf("%dp", format.Height)
	}
	if format.FormatNote != "" {
		return strings.ToLower(format.FormatNote)
	}

	return "best"
}

// openProducedFile opens the first regular file inside the scratch
// directory. Postprocessing can change the output extension, so we cannot
// predict the exact name ahead of time.
func openProducedFile(dir string) (*os.File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		if entry.Type().IsRegular() {
			return os.Open(filepath.Join(dir, entry.Name()))
		}
	}

	return nil, fmt.Errorf("no regular file in %s", dir)
}

// tempFileReader streams a file from a scratch directory that is deleted
// once the stream is closed.
type tempFileReader struct {
	*os.File
	dir string
}

func (reader *tempFileReader) Close() error {
	err := reader.File.Close()
	os.RemoveAll(reader.dir)

	return err
}

func sizeOrUnknown(size int64) int64 {
	if size <= 0 {
		return -1
	}

	return size
}

// sanitizeFilename strips characters that are unsafe in object keys and
// file paths from a media title.
func sanitizeFilename(name string) string {
	replacer := strings.NewReplacer(
		"/", "_", "\\", "_", ":", "_", "*", "_",
		"?", "_", "\"", "_", "<", "_", ">", "_", "|", "_",
	)

	return strings.TrimSpace(replacer.Replace(name))
}
