// Package api carries the published HTTP contract.
package api

import _ "embed"

// OpenAPI is the OpenAPI 3 document served at /api/openapi.yaml and used for
// request validation
//
//go:embed openapi.yaml
var OpenAPI []byte
