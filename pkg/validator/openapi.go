package validator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"duo-chat/backend/pkg/errors"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
	"github.com/gin-gonic/gin"
)

// OpenAPIValidator validates requests against an OpenAPI 3 document
type OpenAPIValidator struct {
	doc    *openapi3.T
	router routers.Router
	mutex  sync.RWMutex
}

// NewOpenAPIValidator parses and validates an OpenAPI document
func NewOpenAPIValidator(data []byte) (*OpenAPIValidator, error) {
	v := &OpenAPIValidator{}
	if err := v.Load(data); err != nil {
		return nil, err
	}
	return v, nil
}

// NewOpenAPIValidatorFromFile reads the document from disk
func NewOpenAPIValidatorFromFile(path string) (*OpenAPIValidator, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load OpenAPI schema from %s: %w", path, err)
	}
	v := &OpenAPIValidator{}
	if err := v.install(loader.Context, doc); err != nil {
		return nil, err
	}
	return v, nil
}

// Load replaces the current document
func (v *OpenAPIValidator) Load(data []byte) error {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(data)
	if err != nil {
		return fmt.Errorf("failed to parse OpenAPI schema: %w", err)
	}
	return v.install(loader.Context, doc)
}

func (v *OpenAPIValidator) install(ctx context.Context, doc *openapi3.T) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := doc.Validate(ctx); err != nil {
		return fmt.Errorf("invalid OpenAPI schema: %w", err)
	}
	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return fmt.Errorf("error creating OpenAPI router: %w", err)
	}

	v.mutex.Lock()
	defer v.mutex.Unlock()
	v.doc = doc
	v.router = router
	return nil
}

// Document returns the loaded document
func (v *OpenAPIValidator) Document() *openapi3.T {
	v.mutex.RLock()
	defer v.mutex.RUnlock()
	return v.doc
}

// Middleware rejects requests that do not match a documented operation's
// parameters or JSON body. Undocumented routes pass through.
func (v *OpenAPIValidator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		v.mutex.RLock()
		router := v.router
		v.mutex.RUnlock()

		route, pathParams, err := router.FindRoute(c.Request)
		if err != nil {
			c.Next()
			return
		}

		input := &openapi3filter.RequestValidationInput{
			Request:    c.Request,
			PathParams: pathParams,
			Route:      route,
			Options: &openapi3filter.Options{
				AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
				MultiError:         false,
				// uploads are checked by the handlers
				ExcludeRequestBody: strings.HasPrefix(c.ContentType(), "multipart/"),
			},
		}

		if err := openapi3filter.ValidateRequest(c.Request.Context(), input); err != nil {
			_ = c.Error(errors.NewBadRequestError(errors.CodeInvalidArgument, "Request does not match the API schema").
				WithDetails(err.Error()))
			c.Abort()
			return
		}

		c.Next()
	}
}
