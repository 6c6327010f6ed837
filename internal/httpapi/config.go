package httpapi

const (
	defaultMaxBodyBytes   int64 = 20 << 20
	defaultMaxUploadBytes int64 = 50 << 20
)

// maxBodyBytes controls the maximum allowed request body size for JSON endpoints.
var maxBodyBytes = defaultMaxBodyBytes

// SetMaxBodyBytes allows configuring the maximum request body size.
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
		return
	}
	maxBodyBytes = n
}

// maxUploadBytes bounds multipart uploads (reference audio, images).
var maxUploadBytes = defaultMaxUploadBytes

// SetMaxUploadBytes configures the multipart upload limit.
func SetMaxUploadBytes(n int64) {
	if n <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
		return
	}
	maxUploadBytes = n
}

// CORS configuration (opt-in). If disabled, no CORS middleware is added.
var (
	corsEnabled        bool
	corsAllowedOrigins []string
	corsAllowedMethods []string
	corsAllowedHeaders []string
)

// SetCORSOptions configures CORS behavior for the HTTP server.
func SetCORSOptions(enabled bool, origins, methods, headers []string) {
	corsEnabled = enabled
	corsAllowedOrigins = append([]string(nil), origins...)
	corsAllowedMethods = append([]string(nil), methods...)
	corsAllowedHeaders = append([]string(nil), headers...)
}
