package extractor_test

import (
	"context"
	"testing"

	"github.com/hbomb79/Iris/internal/extractor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubExtractor struct{ name string }

func (stub *stubExtractor) Name() string { return stub.name }
func (stub *stubExtractor) Attempt(context.Context, string, extractor.Options) ([]extractor.MediaDescriptor, error) {
	return nil, nil
}
func (stub *stubExtractor) Probe(context.Context, string) (*extractor.MediaInfo, error) {
	return nil, nil
}

func Test_Classify_KnownPlatforms(t *testing.T) {
	tests := []struct {
		summary  string
		url      string
		expected extractor.Platform
	}{
		{"youtube watch URL", "https://www.youtube.com/watch?v=abc123", extractor.PlatformYouTube},
		{"youtube short link", "https://youtu.be/abc123", extractor.PlatformYouTube},
		{"vimeo", "https://vimeo.com/123456", extractor.PlatformVimeo},
		{"dailymotion", "https://www.dailymotion.com/video/xyz", extractor.PlatformDailymotion},
		{"tiktok", "https://www.tiktok.com/@user/video/1", extractor.PlatformTikTok},
		{"twitter", "https://twitter.com/user/status/1", extractor.PlatformTwitter},
		{"x.com maps to twitter", "https://x.com/user/status/1", extractor.PlatformTwitter},
		{"reddit", "https://www.reddit.com/r/videos/comments/a/b/", extractor.PlatformReddit},
		{"twitch", "https://www.twitch.tv/videos/1", extractor.PlatformTwitch},
		{"instagram", "https://www.instagram.com/p/abc/", extractor.PlatformInstagram},
		{"facebook", "https://www.facebook.com/watch/?v=1", extractor.PlatformFacebook},
		{"direct mp4 file", "https://cdn.example.com/media/clip.mp4", extractor.PlatformDirectFile},
		{"direct mp3 file", "https://cdn.example.com/audio/song.mp3", extractor.PlatformDirectFile},
		{"unknown host, no extension", "https://example.com/some/page", extractor.PlatformGeneric},
		{"host fragment not matched mid-domain", "https://notyoutube.community.org/v/1", extractor.PlatformGeneric},
		{"unparseable URL", "::not a url::", extractor.PlatformGeneric},
	}

	for _, test := range tests {
		t.Run(test.summary, func(t *testing.T) {
			assert.Equal(t, test.expected, extractor.Classify(test.url))
		})
	}
}

func Test_Candidates_OrderIsDeterministic(t *testing.T) {
	primary := &stubExtractor{name: "yt-dlp"}
	secondary := &stubExtractor{name: "youtube-dl"}
	direct := &stubExtractor{name: "direct"}
	selector := extractor.NewSelector(primary, secondary, direct)

	tests := []struct {
		summary  string
		url      string
		expected []string
	}{
		{"youtube tries all three", "https://youtube.com/watch?v=a", []string{"yt-dlp", "youtube-dl", "direct"}},
		{"known platform skips legacy adapter", "https://vimeo.com/1", []string{"yt-dlp", "direct"}},
		{"generic URL skips legacy adapter", "https://example.com/page", []string{"yt-dlp", "direct"}},
		{"direct file leads with direct adapter", "https://cdn.example.com/a.mp4", []string{"direct", "yt-dlp"}},
	}

	for _, test := range tests {
		t.Run(test.summary, func(t *testing.T) {
			candidates := selector.Candidates(test.url)
			require.Len(t, candidates, len(test.expected))
			for i, expected := range test.expected {
				assert.Equal(t, expected, candidates[i].Name())
			}

			// Same URL must always yield the same chain.
			again := selector.Candidates(test.url)
			require.Len(t, again, len(candidates))
			for i := range candidates {
				assert.Equal(t, candidates[i].Name(), again[i].Name())
			}
		})
	}
}

func Test_ChooseDescriptor_QualitySelection(t *testing.T) {
	descriptors := []extractor.MediaDescriptor{
		{Quality: "1080p", Extension: "mp4"},
		{Quality: "720p", Extension: "mp4"},
		{Quality: "720p", Extension: "webm"},
		{Quality: "480p", Extension: "mp4"},
	}

	tests := []struct {
		summary           string
		requested         string
		expectedQuality   string
		expectedExtension string
	}{
		{"no preference takes declared best", "", "1080p", "mp4"},
		{"best takes declared best", "best", "1080p", "mp4"},
		{"worst takes the tail", "worst", "480p", "mp4"},
		{"exact match wins", "480p", "480p", "mp4"},
		{"first of several exact matches wins", "720p", "720p", "mp4"},
		{"case insensitive exact match", "1080P", "1080p", "mp4"},
		{"no exact match falls back to most similar label", "721p", "720p", "mp4"},
	}

	for _, test := range tests {
		t.Run(test.summary, func(t *testing.T) {
			chosen := extractor.ChooseDescriptor(descriptors, test.requested)
			assert.Equal(t, test.expectedQuality, chosen.Quality)
			assert.Equal(t, test.expectedExtension, chosen.Extension)
		})
	}
}

func Test_FailureKind_Specificity(t *testing.T) {
	assert.True(t, extractor.FailureExtraction.MoreSpecificThan(extractor.FailureBlocked))
	assert.True(t, extractor.FailureBlocked.MoreSpecificThan(extractor.FailureNetwork))
	assert.True(t, extractor.FailureNetwork.MoreSpecificThan(extractor.FailureTimeout))
	assert.True(t, extractor.FailureTimeout.MoreSpecificThan(extractor.FailureUnsupported))
	assert.False(t, extractor.FailureUnsupported.MoreSpecificThan(extractor.FailureExtraction))
}
