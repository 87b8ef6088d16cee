// Package api carries the SimuVerse HTTP contract as an embedded document.
package api

import _ "embed"

// OpenAPISpec is served at GET /openapi.yaml.
//
//go:embed openapi.yaml
var OpenAPISpec []byte
