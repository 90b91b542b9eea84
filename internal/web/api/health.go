package api

import (
	"net/http"

	webModels "relaygate/internal/web/models"

	"github.com/gin-gonic/gin"
)

func RegisterHealthRoutes(r *gin.Engine, rules RuleService, connected func() bool) {
	r.GET("/health", func(c *gin.Context) {
		resp := webModels.HealthResponse{Status: "ok"}
		if connected != nil {
			resp.MQTTConnected = connected()
		}
		if rules != nil {
			resp.Rules = rules.RuleCount()
		}
		if !resp.MQTTConnected {
			resp.Status = "degraded"
		}
		c.JSON(http.StatusOK, resp)
	})
}
