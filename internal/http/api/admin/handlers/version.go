package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/PolicyRouter/internal/buildinfo"
)

// VersionHandler reports build metadata.
type VersionHandler struct{}

// NewVersionHandler constructs a VersionHandler.
func NewVersionHandler() *VersionHandler {
	return &VersionHandler{}
}

// VersionResponse is the response for the version endpoint.
type VersionResponse struct {
	CurrentVersion string `json:"current_version"`
	Commit         string `json:"commit,omitempty"`
	BuildDate      string `json:"build_date,omitempty"`
}

// GetVersion returns the running build.
func (h *VersionHandler) GetVersion(c *gin.Context) {
	c.JSON(http.StatusOK, VersionResponse{
		CurrentVersion: buildinfo.Version,
		Commit:         buildinfo.Commit,
		BuildDate:      buildinfo.BuildDate,
	})
}
