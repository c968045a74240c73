package handlers

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"bitespeed/internal/metrics"
	"bitespeed/internal/ratelimit"
	bserr "bitespeed/pkg/errors"
)

// RouterDeps are the collaborators the HTTP surface is assembled from.
// Limiter, Metrics and Gatherer may be nil.
type RouterDeps struct {
	Service    Identifier
	Store      Pinger
	Limiter    ratelimit.Limiter
	Metrics    *metrics.Metrics
	Gatherer   prometheus.Gatherer
	Logger     logrus.FieldLogger
	Production bool
	TrustProxy bool
	Version    string
}

// NewRouter builds the full HTTP handler: routes plus middleware.
func NewRouter(deps RouterDeps) http.Handler {
	errs := NewErrorWriter(deps.Logger, deps.Production)
	identifyHandler := NewIdentifyHandler(deps.Service, errs, deps.Logger)
	healthHandler := NewHealthHandler(deps.Store, deps.Version)

	router := mux.NewRouter()
	router.HandleFunc("/identify", identifyHandler.Handle).Methods(http.MethodPost)
	router.HandleFunc("/", healthHandler.Info).Methods(http.MethodGet)
	router.HandleFunc("/health", healthHandler.Health).Methods(http.MethodGet)
	if deps.Gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		errs.Write(w, r, bserr.New(bserr.CodeServerRouteNotFound,
			fmt.Sprintf("Route %s %s not found", r.Method, r.URL.Path)))
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		errs.Write(w, r, bserr.New(bserr.CodeServerMethodNotAllowed,
			fmt.Sprintf("Method %s not allowed on %s", r.Method, r.URL.Path)))
	})

	// outermost first
	chain := []mux.MiddlewareFunc{
		RequestID,
		ClientMetadata(deps.TrustProxy),
		SecurityHeaders,
		AccessLog(deps.Logger, deps.Metrics, router),
		Recoverer(errs),
	}
	if deps.Limiter != nil {
		chain = append(chain, RateLimit(deps.Limiter, errs, deps.Logger, "/metrics"))
	}

	var h http.Handler = router
	for i := len(chain) - 1; i >= 0; i-- {
		h = chain[i](h)
	}
	return h
}
