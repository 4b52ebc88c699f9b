package router

import (
	"net/http"
	"os"

	apispec "duo-chat/backend/api"
	"duo-chat/backend/pkg/validator"

	"github.com/gin-gonic/gin"
)

// AddOpenAPIValidation validates /api/v1 requests against the OpenAPI
// document. schemaPath overrides the embedded document when set. Call it
// before SetupRoutes so the middleware precedes the handlers.
func (r *Router) AddOpenAPIValidation(schemaPath string) {
	schema := apispec.OpenAPI
	if schemaPath != "" {
		data, err := os.ReadFile(schemaPath)
		if err != nil {
			r.Logger.Warn("OpenAPI schema file not readable, using embedded schema", "path", schemaPath, "error", err.Error())
		} else {
			schema = data
		}
	}

	v, err := validator.NewOpenAPIValidator(schema)
	if err != nil {
		r.Logger.Error("Failed to initialize OpenAPI validator", "error", err.Error())
		return
	}

	r.Engine.Use(v.Middleware())
	r.Logger.Info("OpenAPI validation enabled", "paths", v.Document().Paths.Len())

	r.Engine.GET("/api/openapi.yaml", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/yaml", schema)
	})
}
