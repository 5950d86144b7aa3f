package download_test

import (
	"strings"
	"testing"

	"github.com/hbomb79/Iris/internal/download"
	"github.com/stretchr/testify/assert"
)

func Test_JobStatus_TransitionTable(t *testing.T) {
	tests := []struct {
		summary string
		from    download.JobStatus
		to      download.JobStatus
		allowed bool
	}{
		{"starting can begin downloading", download.Starting, download.Downloading, true},
		{"starting can fail", download.Starting, download.Failed, true},
		{"starting cannot complete directly", download.Starting, download.Completed, false},
		{"downloading can complete", download.Downloading, download.Completed, true},
		{"downloading can fail", download.Downloading, download.Failed, true},
		{"downloading cannot restart", download.Downloading, download.Starting, false},
		{"completed is frozen", download.Completed, download.Failed, false},
		{"failed is frozen", download.Failed, download.Downloading, false},
		{"failed cannot refail", download.Failed, download.Failed, false},
	}

	for _, test := range tests {
		t.Run(test.summary, func(t *testing.T) {
			assert.Equal(t, test.allowed, test.from.CanTransition(test.to))
		})
	}
}

func Test_JobStatus_Terminal(t *testing.T) {
	assert.False(t, download.Starting.Terminal())
	assert.False(t, download.Downloading.Terminal())
	assert.True(t, download.Completed.Terminal())
	assert.True(t, download.Failed.Terminal())
}

func Test_JobStatus_JSONRepresentation(t *testing.T) {
	encoded, err := download.Downloading.MarshalJSON()
	assert.NoError(t, err)
	assert.Equal(t, `"downloading"`, string(encoded))
}

func Test_JobStatus_String(t *testing.T) {
	assert.Equal(t, "starting", download.Starting.String())
	assert.Equal(t, "downloading", download.Downloading.String())
	assert.Equal(t, "completed", download.Completed.String())
	assert.Equal(t, "failed", download.Failed.String())
	assert.Equal(t, "unknown", download.JobStatus(99).String())
}

func Test_ValidationError_Message(t *testing.T) {
	err := &download.ValidationError{Field: "url", Reason: "must not be empty"}
	assert.Equal(t, "invalid url: must not be empty", err.Error())
	assert.True(t, strings.Contains(err.Error(), "url"))
}
