// internal/middleware/timing.go
//
// Server-Timing header and the shared JSON error writer.
package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// ServerTiming adds `Server-Timing: edge;dur=<ms>` measured from entry to
// the moment the response header is written.
func ServerTiming(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tw := &timingWriter{ResponseWriter: w, start: time.Now()}
		next.ServeHTTP(tw, r)
	})
}

type timingWriter struct {
	http.ResponseWriter
	start       time.Time
	wroteHeader bool
}

func (tw *timingWriter) WriteHeader(code int) {
	if !tw.wroteHeader {
		tw.wroteHeader = true
		ms := float64(time.Since(tw.start).Microseconds()) / 1000
		tw.Header().Add("Server-Timing", "edge;dur="+strconv.FormatFloat(ms, 'f', 2, 64))
	}
	tw.ResponseWriter.WriteHeader(code)
}

func (tw *timingWriter) Write(b []byte) (int, error) {
	if !tw.wroteHeader {
		tw.WriteHeader(http.StatusOK)
	}
	return tw.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach Flush and friends.
func (tw *timingWriter) Unwrap() http.ResponseWriter { return tw.ResponseWriter }

// writeJSONError writes `{"error":…,"message":…}` with status.
func writeJSONError(w http.ResponseWriter, status int, title, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": title, "message": msg})
}
