//go:build swagger

package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/swaggo/swag"
)

// routeDoc renders a minimal OpenAPI 2.0 document from the mounted routes.
type routeDoc struct {
	mu     sync.Mutex
	routes chi.Routes
}

var (
	apiDoc       = &routeDoc{}
	registerOnce sync.Once
)

func (d *routeDoc) ReadDoc() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.routes == nil {
		return "{}"
	}
	paths := map[string]map[string]any{}
	_ = chi.Walk(d.routes, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		if strings.HasPrefix(route, "/swagger") {
			return nil
		}
		route = strings.TrimSuffix(route, "/")
		if route == "" {
			route = "/"
		}
		if paths[route] == nil {
			paths[route] = map[string]any{}
		}
		paths[route][strings.ToLower(method)] = map[string]any{
			"tags":      []string{routeTag(route)},
			"responses": map[string]any{"200": map[string]string{"description": "OK"}},
		}
		return nil
	})
	b, _ := json.Marshal(map[string]any{
		"swagger":  "2.0",
		"info":     map[string]string{"title": "silly media API", "version": "1.0"},
		"basePath": "/",
		"schemes":  []string{"http"},
		"paths":    paths,
	})
	return string(b)
}

func routeTag(route string) string {
	parts := strings.SplitN(strings.TrimPrefix(route, "/"), "/", 2)
	return parts[0]
}

// MountSwagger serves the Swagger UI under /swagger/.
func MountSwagger(r chi.Router) {
	apiDoc.mu.Lock()
	apiDoc.routes = r
	apiDoc.mu.Unlock()
	registerOnce.Do(func() { swag.Register(swag.Name, apiDoc) })
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
}
