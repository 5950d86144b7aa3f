package extractor

import (
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
	"github.com/hbomb79/Iris/pkg/logger"
)

type Platform string

const (
	PlatformYouTube     Platform = "youtube"
	PlatformVimeo       Platform = "vimeo"
	PlatformDailymotion Platform = "dailymotion"
	PlatformTikTok      Platform = "tiktok"
	PlatformTwitter     Platform = "twitter"
	PlatformReddit      Platform = "reddit"
	PlatformTwitch      Platform = "twitch"
	PlatformInstagram   Platform = "instagram"
	PlatformFacebook    Platform = "facebook"
	PlatformDirectFile  Platform = "direct-file"
	PlatformGeneric     Platform = "generic"
)

// hostPlatforms maps a hostname fragment to the platform it indicates. The
// fragments are matched against the lowercased host of the source URL.
var hostPlatforms = []struct {
	fragment string
	platform Platform
}{
	{"youtube.com", PlatformYouTube},
	{"youtu.be", PlatformYouTube},
	{"vimeo.com", PlatformVimeo},
	{"dailymotion.com", PlatformDailymotion},
	{"tiktok.com", PlatformTikTok},
	{"twitter.com", PlatformTwitter},
	{"x.com", PlatformTwitter},
	{"reddit.com", PlatformReddit},
	{"twitch.tv", PlatformTwitch},
	{"instagram.com", PlatformInstagram},
	{"facebook.com", PlatformFacebook},
	{"fb.watch", PlatformFacebook},
}

// directExtensions are the file extensions which indicate the URL points
// straight at a media file rather than a platform page.
var directExtensions = map[string]struct{}{
	".mp4": {}, ".webm": {}, ".mkv": {}, ".avi": {}, ".mov": {}, ".flv": {},
	".m4a": {}, ".mp3": {}, ".wav": {}, ".ogg": {}, ".opus": {},
}

// Classify inspects the source URL and decides which platform it belongs to.
// URLs that cannot be parsed, or that name no recognized platform and no media
// file extension, classify as generic.
func Classify(sourceURL string) Platform {
	parsed, err := url.Parse(sourceURL)
	if err != nil || parsed.Host == "" {
		return PlatformGeneric
	}

	host := strings.ToLower(parsed.Hostname())
	for _, entry := range hostPlatforms {
		if host == entry.fragment || strings.HasSuffix(host, "."+entry.fragment) {
			return entry.platform
		}
	}

	if _, ok := directExtensions[strings.ToLower(path.Ext(parsed.Path))]; ok {
		return PlatformDirectFile
	}

	return PlatformGeneric
}

// Selector owns the registered adapters and produces the ordered candidate
// list for a source URL. The ordering is deterministic: the same URL always
// yields the same chain.
type Selector struct {
	primary   Extractor
	secondary Extractor
	direct    Extractor

	log logger.Logger
}

func NewSelector(primary Extractor, secondary Extractor, direct Extractor) *Selector {
	return &Selector{
		primary:   primary,
		secondary: secondary,
		direct:    direct,
		log:       logger.Get("Selector"),
	}
}

// Candidates returns the adapters to try for the given URL, most-preferred
// first. The direct adapter is always present: it leads for URLs that already
// point at a media file, and trails everywhere else as the last resort.
func (selector *Selector) Candidates(sourceURL string) []Extractor {
	platform := Classify(sourceURL)
	selector.log.Emit(logger.DEBUG, "Classified URL %s as platform %s\n", sourceURL, platform)

	switch platform {
	case PlatformYouTube:
		return []Extractor{selector.primary, selector.secondary, selector.direct}
	case PlatformDirectFile:
		return []Extractor{selector.direct, selector.primary}
	default:
		return []Extractor{selector.primary, selector.direct}
	}
}

// ChooseDescriptor picks the descriptor that best satisfies the requested
// quality from a non-empty candidate list. Adapters return descriptors
// best-first, so:
//   - no preference (or "best") takes the first descriptor,
//   - "worst" takes the last,
//   - an exact label match takes the first such match,
//   - otherwise the label with the highest string similarity to the request
//     wins, falling back to the adapters declared best on a tie.
func ChooseDescriptor(descriptors []MediaDescriptor, requestedQuality string) MediaDescriptor {
	requested := strings.ToLower(strings.TrimSpace(requestedQuality))
	switch requested {
	case "", "best":
		return descriptors[0]
	case "worst":
		return descriptors[len(descriptors)-1]
	}

	for _, descriptor := range descriptors {
		if strings.EqualFold(descriptor.Quality, requested) {
			return descriptor
		}
	}

	metric := metrics.NewJaroWinkler()
	similarity := make([]float64, len(descriptors))
	for i, descriptor := range descriptors {
		similarity[i] = strutil.Similarity(strings.ToLower(descriptor.Quality), requested, metric)
	}

	indices := make([]int, len(descriptors))
	for i := range indices {
		indices[i] = i
	}

	sort.SliceStable(indices, func(i, j int) bool { return similarity[indices[i]] > similarity[indices[j]] })
	return descriptors[indices[0]]
}
