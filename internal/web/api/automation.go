package api

import (
	"context"
	"errors"
	"net/http"

	"relaygate/internal/models"
	"relaygate/internal/web/middleware"
	webModels "relaygate/internal/web/models"

	"github.com/gin-gonic/gin"
)

// RuleService is the rule CRUD surface of the engine
type RuleService interface {
	GetRules() []models.Rule
	RuleCount() int
	GetRule(id string) (models.Rule, error)
	AddRule(ctx context.Context, rule models.Rule) models.Result
	SetRule(ctx context.Context, rule models.Rule) models.Result
	DeleteRule(ctx context.Context, id string) models.Result
}

func RegisterAutomationRoutes(r *gin.Engine, middleware *middleware.MiddlewareManager, rules RuleService) {
	automations := r.Group("/automations")
	automations.Use(middleware.RequireToken())
	{
		automations.GET("/rules", func(c *gin.Context) {
			c.JSON(http.StatusOK, rules.GetRules())
		})

		automations.GET("/rules/:id", func(c *gin.Context) {
			rule, err := rules.GetRule(c.Param("id"))
			if err != nil {
				c.JSON(statusFor(err), webModels.ErrorResponse{Error: err.Error()})
				return
			}
			c.JSON(http.StatusOK, rule)
		})

		automations.POST("/rules", func(c *gin.Context) {
			var rule models.Rule
			if err := c.ShouldBindJSON(&rule); err != nil {
				c.JSON(http.StatusBadRequest, webModels.ErrorResponse{Error: "Invalid request: " + err.Error()})
				return
			}
			respond(c, rules.AddRule(c.Request.Context(), rule), http.StatusCreated)
		})

		automations.PUT("/rules/:id", func(c *gin.Context) {
			var rule models.Rule
			if err := c.ShouldBindJSON(&rule); err != nil {
				c.JSON(http.StatusBadRequest, webModels.ErrorResponse{Error: "Invalid request: " + err.Error()})
				return
			}
			rule.ID = c.Param("id")
			respond(c, rules.SetRule(c.Request.Context(), rule), http.StatusOK)
		})

		automations.DELETE("/rules/:id", func(c *gin.Context) {
			respond(c, rules.DeleteRule(c.Request.Context(), c.Param("id")), http.StatusOK)
		})
	}
}

func respond(c *gin.Context, res models.Result, okStatus int) {
	if !res.Success {
		c.JSON(statusFor(res.Err), res)
		return
	}
	c.JSON(okStatus, res)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrRuleNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidRule):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
