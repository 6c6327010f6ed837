package httpapi

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"image"
	"io"
	"math/rand/v2"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"
)

// multipartMemory is how much of a multipart body is kept in memory before
// spilling parts to temporary files.
const multipartMemory = 8 << 20

// decodeJSON enforces a JSON content type and the body limit.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		return unsupportedMediaType("Content-Type must be application/json")
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		// an oversized body is reported the same way to avoid leaking limits
		return badRequest("invalid JSON body")
	}
	return nil
}

// parseMultipart enforces a multipart content type and the upload limit.
func parseMultipart(w http.ResponseWriter, r *http.Request) error {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mt != "multipart/form-data" {
		return unsupportedMediaType("Content-Type must be multipart/form-data")
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return badRequest("invalid multipart body: %v", err)
	}
	return nil
}

type upload struct {
	Name string
	Data []byte
}

// formFiles reads every file posted under field.
func formFiles(r *http.Request, field string) ([]upload, error) {
	if r.MultipartForm == nil {
		return nil, nil
	}
	var out []upload
	for _, fh := range r.MultipartForm.File[field] {
		data, err := readPart(fh)
		if err != nil {
			return nil, badRequest("read %s: %v", field, err)
		}
		out = append(out, upload{Name: fh.Filename, Data: data})
	}
	return out, nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// formString returns the trimmed form value or def when absent.
func formString(r *http.Request, key, def string) string {
	if v := strings.TrimSpace(r.FormValue(key)); v != "" {
		return v
	}
	return def
}

func formInt(r *http.Request, key string, def int) (int, error) {
	v := strings.TrimSpace(r.FormValue(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, badRequest("%s must be an integer", key)
	}
	return n, nil
}

func formFloat(r *http.Request, key string, def float64) (float64, error) {
	v := strings.TrimSpace(r.FormValue(key))
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, badRequest("%s must be a number", key)
	}
	return f, nil
}

func formBool(r *http.Request, key string, def bool) (bool, error) {
	v := strings.TrimSpace(r.FormValue(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, badRequest("%s must be a boolean", key)
	}
	return b, nil
}

func formSeed(r *http.Request) (*int64, error) {
	v := strings.TrimSpace(r.FormValue("seed"))
	if v == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil, badRequest("seed must be an integer")
	}
	return &n, nil
}

// decodeBase64 accepts raw base64 or a data: URL.
func decodeBase64(field, s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, ";base64,"); strings.HasPrefix(s, "data:") && i >= 0 {
		s = s[i+len(";base64,"):]
	}
	if s == "" {
		return nil, badRequest("%s is required", field)
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, badRequest("invalid base64 %s", field)
	}
	return b, nil
}

// checkImage rejects payloads that are not a decodable image.
func checkImage(field string, data []byte) error {
	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		return badRequest("invalid %s: not a supported image", field)
	}
	return nil
}

// checkText validates a rune-length range; lo 0 allows empty.
func checkText(field, s string, lo, hi int) error {
	n := utf8.RuneCountInString(s)
	if n < lo || n > hi {
		if lo > 0 && n == 0 {
			return badRequest("%s is required", field)
		}
		return badRequest("%s must be %d to %d characters", field, lo, hi)
	}
	return nil
}

func checkRange[T int | int64 | float64](field string, v, lo, hi T) error {
	if v < lo || v > hi {
		return badRequest("%s must be between %v and %v", field, lo, hi)
	}
	return nil
}

// pickSeed resolves an optional seed; nil and -1 draw a random one.
func pickSeed(seed *int64) (int64, error) {
	if seed == nil || *seed == -1 {
		return rand.Int64N(1 << 32), nil
	}
	if *seed < -1 {
		return 0, badRequest("seed must be >= -1")
	}
	return *seed, nil
}

func orInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func orFloat(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

func derefFloat(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

// writeJSON writes v with status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeBlob writes binary media with its content type.
func writeBlob(w http.ResponseWriter, contentType string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// pageParams reads limit/offset query parameters.
func pageParams(r *http.Request, defLimit int) (int, int, error) {
	limit, offset := defLimit, 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			return 0, 0, badRequest("limit must be between 1 and 500")
		}
		limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, 0, badRequest("offset must be >= 0")
		}
		offset = n
	}
	return limit, offset, nil
}
