package httpapi

import (
	"bytes"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// zlog is an optional structured logger. If unset, falls back to log.Printf.
var zlog *zerolog.Logger

// SetLogger installs a structured logger used by the HTTP layer.
func SetLogger(l zerolog.Logger) { zlog = &l }

// loggingLineWriter logs complete SSE/NDJSON lines as they are streamed.
type loggingLineWriter struct {
	prefix string
	buf    []byte
}

func (lw *loggingLineWriter) Write(p []byte) (int, error) {
	lw.buf = append(lw.buf, p...)
	for {
		idx := bytes.IndexByte(lw.buf, '\n')
		if idx < 0 {
			break
		}
		line := string(lw.buf[:idx])
		if len(line) > 0 {
			if zlog != nil {
				zlog.Debug().Str("stream", lw.prefix).Msg(line)
			} else {
				log.Printf("%s> %s", lw.prefix, line)
			}
		}
		lw.buf = lw.buf[idx+1:]
	}
	return len(p), nil
}

// LogLevel controls per-request logging behavior.
type LogLevel int

const (
	LevelOff LogLevel = iota
	LevelError
	LevelInfo
	LevelDebug
)

func parseLevel(s string) LogLevel {
	switch s {
	case "off", "":
		return LevelOff
	case "error":
		return LevelError
	case "info":
		return LevelInfo
	case "debug":
		return LevelDebug
	default:
		return LevelInfo
	}
}

// global default, read once
var defaultLogLevel = parseLevel(os.Getenv("SILLY_MEDIA_HTTP_LOG_LEVEL"))

// SetDefaultLogLevel overrides the level used when a request carries no
// ?log= or X-Log-Level override.
func SetDefaultLogLevel(s string) { defaultLogLevel = parseLevel(s) }

func requestLogLevel(r *http.Request) LogLevel {
	if v := r.URL.Query().Get("log"); v != "" {
		if v == "1" {
			return LevelDebug
		}
		return parseLevel(v)
	}
	if v := r.Header.Get("X-Log-Level"); v != "" {
		return parseLevel(v)
	}
	return defaultLogLevel
}

// requestLogger logs one line per request at the request's log level.
// LevelError only reports 5xx responses.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lvl := requestLogLevel(r)
		if lvl == LevelOff {
			next.ServeHTTP(w, r)
			return
		}
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sr, r)
		if lvl < LevelInfo && sr.status < http.StatusInternalServerError {
			return
		}
		dur := time.Since(start)
		rid := middleware.GetReqID(r.Context())
		if zlog == nil {
			log.Printf("%s %s status=%d dur=%s request_id=%s", r.Method, r.URL.Path, sr.status, dur, rid)
			return
		}
		ev := zlog.Info()
		if sr.status >= http.StatusInternalServerError {
			ev = zlog.Error()
		}
		if rid != "" {
			ev = ev.Str("request_id", rid)
		}
		ev.Str("method", r.Method).Str("path", r.URL.Path).Int("status", sr.status).Dur("dur", dur).Msg("request")
	})
}

// logFailure records the cause of an error response when the request asks
// for at least error-level logging.
func logFailure(r *http.Request, status int, err error) {
	if requestLogLevel(r) < LevelError {
		return
	}
	if status < http.StatusInternalServerError && requestLogLevel(r) < LevelInfo {
		return
	}
	rid := middleware.GetReqID(r.Context())
	if zlog == nil {
		log.Printf("%s %s failed status=%d request_id=%s err=%v", r.Method, r.URL.Path, status, rid, err)
		return
	}
	ev := zlog.Warn()
	if status >= http.StatusInternalServerError {
		ev = zlog.Error()
	}
	if rid != "" {
		ev = ev.Str("request_id", rid)
	}
	ev.Str("path", r.URL.Path).Int("status", status).Err(err).Msg("request failed")
}
