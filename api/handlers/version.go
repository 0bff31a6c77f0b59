package handlers

import "net/http"

type versionResponse struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	GitCommit string `json:"git_commit"`
}

// VersionHandler serves GET /version with build metadata baked in at
// link time via -ldflags (see cmd/arbstr).
func VersionHandler(version, buildTime, gitCommit string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, nil, http.StatusOK, versionResponse{
			Version:   version,
			BuildTime: buildTime,
			GitCommit: gitCommit,
		})
	}
}
