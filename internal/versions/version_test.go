package versions

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetVersionInfoWithValues(t *testing.T) {
	t.Parallel()

	noVCS := func() map[string]string { return nil }
	vcs := func() map[string]string {
		return map[string]string{
			"vcs.revision": "0123456789abcdef",
			"vcs.time":     "2025-01-15T10:30:00Z",
		}
	}

	tests := []struct {
		name          string
		version       string
		commit        string
		buildDate     string
		vcs           func() map[string]string
		wantVersion   string
		wantCommit    string
		wantBuildDate string
	}{
		{
			name:          "release build keeps ldflags values",
			version:       "v1.2.3",
			commit:        "abc123",
			buildDate:     "2025-01-15T10:30:00Z",
			vcs:           vcs,
			wantVersion:   "v1.2.3",
			wantCommit:    "abc123",
			wantBuildDate: "2025-01-15 10:30:00 UTC",
		},
		{
			name:          "dev build falls back to vcs info",
			version:       "dev",
			commit:        unknownStr,
			buildDate:     unknownStr,
			vcs:           vcs,
			wantVersion:   "build-01234567",
			wantCommit:    "0123456789abcdef",
			wantBuildDate: "2025-01-15 10:30:00 UTC",
		},
		{
			name:          "dev build without vcs info",
			version:       "dev",
			commit:        unknownStr,
			buildDate:     unknownStr,
			vcs:           noVCS,
			wantVersion:   "build-unknown",
			wantCommit:    unknownStr,
			wantBuildDate: unknownStr,
		},
		{
			name:          "non timestamp build date is kept",
			version:       "v0.1.0",
			commit:        "abc",
			buildDate:     "yesterday",
			vcs:           noVCS,
			wantVersion:   "v0.1.0",
			wantCommit:    "abc",
			wantBuildDate: "yesterday",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			info := getVersionInfoWithValues(tt.version, tt.commit, tt.buildDate, tt.vcs)
			assert.Equal(t, tt.wantVersion, info.Version)
			assert.Equal(t, tt.wantCommit, info.Commit)
			assert.Equal(t, tt.wantBuildDate, info.BuildDate)
			assert.Equal(t, runtime.Version(), info.GoVersion)
			assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)
		})
	}
}
