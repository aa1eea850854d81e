package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/phuslu/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"nuha.dev/rflocate/internal/aggregator"
	"nuha.dev/rflocate/internal/collector"
	"nuha.dev/rflocate/internal/conn"
	"nuha.dev/rflocate/internal/events"
	"nuha.dev/rflocate/internal/handoff"
	"nuha.dev/rflocate/internal/rfid"
	"nuha.dev/rflocate/internal/store"
	"nuha.dev/rflocate/internal/util"
	"nuha.dev/rflocate/internal/webstream"
)

type ApiConfig struct {
	ListenAddr  string `mapstructure:"listen_addr" validate:"required"`
	MaxBodySize int64  `mapstructure:"max_body_size" validate:"gte=1024"`
}

// Deps holds what the handlers read from. Everything but Ingester may be nil;
// the matching route then answers 503 or leaves its section empty.
type Deps struct {
	Ingester   *collector.Ingester
	Sightings  store.SightingStore
	Queue      *handoff.Queue
	Bus        *events.Bus
	Collector  *collector.Server
	Aggregator *aggregator.Aggregator
	Stream     *webstream.WebstreamServer
	Gatherer   prometheus.Gatherer
}

const (
	rejects_key = "api.rejects"
	rejects_len = 32
)

type Api struct {
	r      chi.Router
	s      *http.Server
	config ApiConfig
	deps   Deps
	log    log.Logger

	mu      sync.Mutex
	rejects []collector.RejectedEmitter
}

type Stats struct {
	Handoff  handoff.Stats               `json:"handoff"`
	Events   map[string]uint64           `json:"events"`
	Sessions []conn.Info                 `json:"sessions"`
	Cycle    aggregator.CycleSummary     `json:"last_cycle"`
	Stream   webstream.Stats             `json:"stream"`
	Rejects  []collector.RejectedEmitter `json:"recent_rejects"`
}

type errorBody struct {
	Error string `json:"error"`
}

func NewApi(deps Deps, config *ApiConfig) *Api {
	api := &Api{config: *config, deps: deps}
	api.log = log.DefaultLogger
	api.log.Context = log.NewContext(nil).Str("module", "api").Value()
	if api.config.MaxBodySize <= 0 {
		api.config.MaxBodySize = 1 << 20
	}
	deps.Bus.Subscribe(rejects_key, "^"+regexp.QuoteMeta(events.OBSERVATION_REJECTED)+"$", api.on_reject)

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(middleware.Recoverer)
	r.Post("/scan/{device}", api.scan)
	r.Get("/emitters/{type}/{id}", api.sighting)
	r.Delete("/emitters/{type}/{id}", api.drop)
	r.Get("/stats", api.stats)
	if deps.Stream != nil {
		r.Handle("/stream", deps.Stream)
	}
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}
	api.r = r

	api.s = &http.Server{
		Addr:           config.ListenAddr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	return api
}

func (api *Api) Handler() http.Handler {
	return api.r
}

// Run blocks until the server stops. A clean Shutdown returns nil.
func (api *Api) Run() error {
	api.log.Info().Str("addr", api.config.ListenAddr).Msg("starting api")
	err := api.s.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (api *Api) Shutdown(timeout time.Duration) error {
	api.deps.Bus.Unsubscribe(rejects_key)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return api.s.Shutdown(ctx)
}

func (api *Api) scan(w http.ResponseWriter, r *http.Request) {
	device := chi.URLParam(r, "device")
	login := collector.LoginMessage{DeviceId: device}
	if err := api.deps.Ingester.Validate(&login); err != nil {
		util.JsonWriteStatus(w, http.StatusBadRequest, errorBody{"invalid device id"})
		return
	}
	var report collector.ScanReport
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, api.config.MaxBodySize))
	if err := dec.Decode(&report); err != nil {
		util.JsonWriteStatus(w, http.StatusBadRequest, errorBody{"malformed scan report"})
		return
	}
	res, err := api.deps.Ingester.Ingest(r.Context(), device, &report)
	if err != nil {
		var verr validator.ValidationErrors
		if errors.As(err, &verr) {
			util.JsonWriteStatus(w, http.StatusUnprocessableEntity, errorBody{verr.Error()})
			return
		}
		panic(err)
	}
	util.JsonWrite(w, res)
}

// emitter resolves the {type}/{id} route parameters, answering the request
// itself when it returns false.
func (api *Api) emitter(w http.ResponseWriter, r *http.Request) (rfid.Identification, bool) {
	if api.deps.Sightings == nil {
		util.JsonWriteStatus(w, http.StatusServiceUnavailable, errorBody{"no sighting store configured"})
		return rfid.Identification{}, false
	}
	t, err := rfid.ParseEmitterType(chi.URLParam(r, "type"))
	if err != nil {
		util.JsonWriteStatus(w, http.StatusBadRequest, errorBody{err.Error()})
		return rfid.Identification{}, false
	}
	id, err := rfid.New(chi.URLParam(r, "id"), t)
	if err != nil {
		util.JsonWriteStatus(w, http.StatusBadRequest, errorBody{err.Error()})
		return rfid.Identification{}, false
	}
	return id, true
}

func (api *Api) store_error(w http.ResponseWriter, id rfid.Identification, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		util.JsonWriteStatus(w, http.StatusNotFound, errorBody{err.Error()})
	case errors.Is(err, store.ErrUnavailable):
		util.JsonWriteStatus(w, http.StatusServiceUnavailable, errorBody{err.Error()})
	default:
		api.log.Error().Err(err).Str("rfid", id.String()).Msg("sighting store failed")
		util.JsonWriteStatus(w, http.StatusInternalServerError, errorBody{"sighting store failed"})
	}
}

func (api *Api) sighting(w http.ResponseWriter, r *http.Request) {
	id, ok := api.emitter(w, r)
	if !ok {
		return
	}
	s, err := api.deps.Sightings.GetSighting(r.Context(), id)
	if err != nil {
		api.store_error(w, id, err)
		return
	}
	util.JsonWrite(w, s)
}

func (api *Api) drop(w http.ResponseWriter, r *http.Request) {
	id, ok := api.emitter(w, r)
	if !ok {
		return
	}
	if err := api.deps.Sightings.Drop(r.Context(), id); err != nil {
		api.store_error(w, id, err)
		return
	}
	api.log.Info().Str("rfid", id.String()).Msg("sighting dropped")
	w.WriteHeader(http.StatusNoContent)
}

func (api *Api) on_reject(ctx context.Context, topic string, data interface{}) {
	rej, ok := data.(collector.RejectedEmitter)
	if !ok {
		return
	}
	api.mu.Lock()
	if len(api.rejects) == rejects_len {
		copy(api.rejects, api.rejects[1:])
		api.rejects = api.rejects[:rejects_len-1]
	}
	api.rejects = append(api.rejects, rej)
	api.mu.Unlock()
}

func (api *Api) stats(w http.ResponseWriter, r *http.Request) {
	res := Stats{Events: api.deps.Bus.Counts(), Sessions: []conn.Info{}}
	if api.deps.Queue != nil {
		res.Handoff = api.deps.Queue.Stats()
	}
	if api.deps.Collector != nil {
		res.Sessions = api.deps.Collector.Sessions()
	}
	if api.deps.Aggregator != nil {
		res.Cycle = api.deps.Aggregator.Last()
	}
	if api.deps.Stream != nil {
		res.Stream = api.deps.Stream.Stats()
	}
	api.mu.Lock()
	res.Rejects = append([]collector.RejectedEmitter{}, api.rejects...)
	api.mu.Unlock()
	util.JsonWrite(w, res)
}
