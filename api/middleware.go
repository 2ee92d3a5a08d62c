package api

import (
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	raven "github.com/getsentry/raven-go"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/petitions-gov-je/signatures-backend/stats"
	"github.com/petitions-gov-je/signatures-backend/util"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

func middleware(h http.Handler) http.Handler {
	cors := handlers.CORS(
		handlers.AllowedOrigins(util.SplitList(os.Getenv("ALLOWED_ORIGINS"))),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
		handlers.AllowCredentials(),
	)
	return handlers.LoggingHandler(os.Stdout,
		recoveryHandler(cors(h)),
	)
}

func trustForwardHeader() bool {
	trust, _ := strconv.ParseBool(os.Getenv("TRUST_FORWARD_HEADER"))
	return trust
}

func throttleHandler(period time.Duration, limit int64, f http.Handler) http.Handler {
	if flag.Lookup("test.v") != nil {
		// Don't throttle tests
		return f
	}
	rateLimitStore := memory.NewStore()
	rate := limiter.Rate{
		Period: period,
		Limit:  limit,
	}
	rateLimiter := stdlib.NewMiddleware(limiter.New(rateLimitStore, rate,
		limiter.WithTrustForwardHeader(trustForwardHeader())))
	return rateLimiter.Handler(f)
}

// clientIP is the address a request came from. Behind a proxy,
// TRUST_FORWARD_HEADER makes it the last X-Forwarded-For entry, the one our
// proxy appended. Earlier entries are whatever the client sent.
func clientIP(r *http.Request) string {
	if trustForwardHeader() {
		if forwarded := r.Header.Get("X-Forwarded-For"); len(forwarded) > 0 {
			entries := strings.Split(forwarded, ",")
			if last := strings.TrimSpace(entries[len(entries)-1]); len(last) > 0 {
				return last
			}
		}
		if realIP := r.Header.Get("X-Real-IP"); len(realIP) > 0 {
			return strings.TrimSpace(realIP)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func recoveryHandler(f http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		defer func() {
			if rval := recover(); rval != nil {
				err, ok := rval.(error)
				if !ok {
					err = fmt.Errorf("%v", rval)
				}
				packet := raven.NewPacket(err.Error(), raven.NewException(err, raven.GetOrNewStacktrace(err, 2, 3, nil)), raven.NewHttp(r))
				raven.Capture(packet, nil)
				w.WriteHeader(http.StatusInternalServerError)
			}
		}()

		f.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// metricsMiddleware times requests by route template, so that ids don't
// explode the label space.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		route := "unknown"
		if current := mux.CurrentRoute(r); current != nil {
			if template, err := current.GetPathTemplate(); err == nil {
				route = template
			}
		}
		stats.HTTPRequestDuration.WithLabelValues(route, r.Method, strconv.Itoa(recorder.status)).
			Observe(time.Since(start).Seconds())
	})
}
