package logger

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// Requests logs one API line per request once the handler returns.
func (l *Logger) Requests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		l.LogAPI(r.Method, r.URL.Path, strconv.Itoa(status), time.Since(start).Round(time.Microsecond).String())
	})
}
