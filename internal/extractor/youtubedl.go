package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/hbomb79/Iris/pkg/logger"
)

const youtubeDLBackendName = "youtube-dl"

// youtubeDLExtractor is the legacy secondary adapter. It shells out to the
// youtube-dl binary directly, and is kept in the chain because it still
// occasionally succeeds where yt-dlp is being blocked.
type youtubeDLExtractor struct {
	binary string
	log    logger.Logger
}

func NewYoutubeDLExtractor() *youtubeDLExtractor {
	return &youtubeDLExtractor{binary: "youtube-dl", log: logger.Get("YoutubeDL")}
}

func (ex *youtubeDLExtractor) Name() string { return youtubeDLBackendName }

func (ex *youtubeDLExtractor) Attempt(ctx context.Context, sourceURL string, opts Options) ([]MediaDescriptor, error) {
	info, err := ex.dumpInfo(ctx, sourceURL)
	if err != nil {
		return nil, err
	}

	baseName := sanitizeFilename(info.Title)
	if baseName == "" {
		baseName = "media"
	}

	ext := info.Ext
	if ext == "" {
		ext = "mp4"
	}

	kind := MediaKindVideo
	if opts.AudioOnly {
		kind = MediaKindAudio
	}

	// youtube-dl is left to apply its own format selection at download
	// time; a single best-effort descriptor is offered.
	return []MediaDescriptor{{
		URL:       info.URL,
		Quality:   "best",
		Extension: ext,
		Kind:      kind,
		Size:      sizeOrUnknown(info.Filesize),
		Filename:  baseName + "." + ext,
		Open:      ex.openFunc(sourceURL, opts),
	}}, nil
}

func (ex *youtubeDLExtractor) Probe(ctx context.Context, sourceURL string) (*MediaInfo, error) {
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
		Backend:   youtubeDLBackendName,
		Formats:   formats,
	}, nil
}

// dumpInfo shells out for metadata only. The youtube-dl JSON schema is
// compatible with the subset of fields ytdlpInfo declares.
func (ex *youtubeDLExtractor) dumpInfo(ctx context.Context, sourceURL string) (*ytdlpInfo, error) {
	if _, err := exec.LookPath(ex.binary); err != nil {
		return nil, NewFailure(FailureUnsupported, youtubeDLBackendName, "youtube-dl binary not installed", err)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, ex.binary, "--dump-json", "--no-playlist", "--no-warnings", sourceURL)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, classifyError(youtubeDLBackendName, ctx.Err())
		}

		return nil, classifyError(youtubeDLBackendName, fmt.Errorf("%s: %w", stderr.String(), err))
	}

	info := &ytdlpInfo{}
	if err := json.NewDecoder(&stdout).Decode(info); err != nil {
		return nil, NewFailure(FailureExtraction, youtubeDLBackendName, "malformed metadata output", err)
	}

	return info, nil
}

func (ex *youtubeDLExtractor) openFunc(sourceURL string, opts Options) func(context.Context, ProgressFn) (io.ReadCloser, error) {
	return func(ctx context.Context, onProgress ProgressFn) (io.ReadCloser, error) {
		dir, err := os.MkdirTemp("", "iris-youtubedl-*")
		if err != nil {
			return nil, NewFailure(FailureExtraction, youtubeDLBackendName, "unable to create scratch dir", err)
		}

		args := []string{"--no-playlist", "--no-warnings", "-o", filepath.Join(dir, "media.%(ext)s")}
		if opts.AudioOnly {
			args = append(args, "-x")
			if opts.Format != "" {
				args = append(args, "--audio-format", opts.Format)
			}
		} else if filter := formatFilter(opts.Quality); filter != "best" {
			args = append(args, "-f", filter)
		}
		args = append(args, sourceURL)

		var stderr bytes.Buffer
		cmd := exec.CommandContext(ctx, ex.binary, args...)
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			os.RemoveAll(dir)
			if ctx.Err() != nil {
				return nil, classifyError(youtubeDLBackendName, ctx.Err())
			}

			return nil, classifyError(youtubeDLBackendName, fmt.Errorf("%s: %w", stderr.String(), err))
		}

		file, err := openProducedFile(dir)
		if err != nil {
			os.RemoveAll(dir)
			return nil, NewFailure(FailureExtraction, youtubeDLBackendName, "youtube-dl produced no output file", err)
		}

		ex.log.Emit(logger.DEBUG, "youtube-dl produced %s for URL %s\n", file.Name(), sourceURL)
		return &tempFileReader{File: file, dir: dir}, nil
	}
}

// formatFilter builds the youtube-dl format expression for a quality label.
// "best" and "worst" are youtube-dl's own selectors and pass through as-is;
// a "720p" style label becomes a height-capped filter.
func formatFilter(quality string) string {
	switch quality {
	case "", "best":
		return "best"
	case "worst":
		return "worst"
	default:
		return "best[height<=?" + trimQualitySuffix(quality) + "]/best"
	}
}

// trimQualitySuffix turns a "720p" style label in to the bare height that
// youtube-dl format filters expect.
func trimQualitySuffix(quality string) string {
	if len(quality) > 1 && quality[len(quality)-1] == 'p' {
		return quality[:len(quality)-1]
	}

	return quality
}
