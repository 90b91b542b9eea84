package api

import (
	"encoding/json"
	"net/http"

	"relaygate/internal/models"
	"relaygate/internal/web/middleware"
	webModels "relaygate/internal/web/models"

	"github.com/gin-gonic/gin"
)

// DeviceStateReader exposes the latest telemetry snapshots
type DeviceStateReader interface {
	DeviceState(key string) (models.DeviceRecord, bool)
}

// RegisterDeviceRoutes serves GET /devices/state?key=<topic>. Device keys are
// topics and contain slashes, so the key is a query parameter.
func RegisterDeviceRoutes(r *gin.Engine, middleware *middleware.MiddlewareManager, devices DeviceStateReader) {
	group := r.Group("/devices")
	group.Use(middleware.RequireToken())
	{
		group.GET("/state", func(c *gin.Context) {
			key := c.Query("key")
			if key == "" {
				c.JSON(http.StatusBadRequest, webModels.ErrorResponse{Error: "key is required"})
				return
			}
			record, ok := devices.DeviceState(key)
			if !ok {
				c.JSON(http.StatusNotFound, webModels.ErrorResponse{Error: "no state for device " + key})
				return
			}
			state, err := json.Marshal(record)
			if err != nil {
				c.JSON(http.StatusInternalServerError, webModels.ErrorResponse{Error: "Failed to encode state"})
				return
			}
			c.JSON(http.StatusOK, webModels.DeviceStateResponse{Key: key, State: state})
		})
	}
}
