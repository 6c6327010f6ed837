//go:build !swagger

package httpapi

import "github.com/go-chi/chi/v5"

// MountSwagger leaves /swagger/ unrouted. Build with -tags swagger to serve
// the API docs generated from the router (swagger.go).
func MountSwagger(chi.Router) {}
