package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/blood-connect/internal/config"
	"github.com/example/blood-connect/internal/directory"
	"github.com/example/blood-connect/internal/dispatch"
	"github.com/example/blood-connect/internal/geo"
	"github.com/example/blood-connect/internal/ingest"
	"github.com/example/blood-connect/internal/matcher"
	"github.com/example/blood-connect/internal/models"
	"github.com/example/blood-connect/internal/notify"
	"github.com/example/blood-connect/internal/observability"
	"github.com/example/blood-connect/internal/storage"
)

type Server struct {
	Directory     directory.DonorStore
	Index         geo.DonorIndex
	Requests      storage.RequestStore
	Notifications storage.NotificationStore
	Matcher       *matcher.Service
	Fanout        *notify.Fanout
	Registry      *dispatch.Registry
	Kafka         *ingest.KafkaProducer

	logger *slog.Logger
	mux    *mux.Router
}

// New wires a Server from config: Redis-backed geo index and Postgres stores
// when configured, in-memory fallbacks otherwise.
func New(cfg config.ServerConfig, logger *slog.Logger) *Server {
	var index geo.DonorIndex
	if cfg.RedisAddr != "" {
		index = geo.NewRedisGeo(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
	} else {
		index = geo.NewIndex()
	}

	var donors directory.DonorStore
	var requests storage.RequestStore
	var notifications storage.NotificationStore
	if cfg.PGDSN != "" {
		if ds, err := directory.NewPostgresStore(cfg.PGDSN); err == nil {
			donors = ds
		} else {
			logger.Error("donor store unavailable, using memory", "error", err)
		}
		if ps, err := storage.NewPostgresStore(cfg.PGDSN); err == nil {
			requests = ps
			notifications = ps
		} else {
			logger.Error("request store unavailable, using memory", "error", err)
		}
	}
	if donors == nil {
		donors = directory.NewMemoryStore()
	}
	if requests == nil {
		requests = storage.NewMemoryRequestStore()
	}
	if notifications == nil {
		notifications = storage.NewMemoryNotificationStore()
	}

	var kp *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		kp = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	}

	registry := dispatch.NewRegistry(cfg.DispatchTimeout)

	var email notify.EmailSender
	if cfg.EmailEndpoint != "" {
		email = notify.NewHTTPEmailSender(cfg.EmailEndpoint, cfg.EmailAPIKey, cfg.EmailFrom)
	} else {
		email = notify.LogSender{Logger: logger}
	}

	s := &Server{
		Directory:     donors,
		Index:         index,
		Requests:      requests,
		Notifications: notifications,
		Matcher:       &matcher.Service{Index: index, RadiusMeters: cfg.MatchRadiusMeters, Logger: logger},
		Fanout: &notify.Fanout{
			Email:         email,
			Pusher:        registry,
			Notifications: notifications,
			Logger:        logger,
			Concurrency:   cfg.FanoutConcurrency,
			Timeout:       cfg.DispatchTimeout,
		},
		Registry: registry,
		Kafka:    kp,
		logger:   logger,
		mux:      mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

// NewWith assembles a Server from explicit collaborators. Tests use it.
func NewWith(donors directory.DonorStore, index geo.DonorIndex, requests storage.RequestStore,
	notifications storage.NotificationStore, m *matcher.Service, f *notify.Fanout,
	registry *dispatch.Registry, logger *slog.Logger) *Server {
	s := &Server{
		Directory:     donors,
		Index:         index,
		Requests:      requests,
		Notifications: notifications,
		Matcher:       m,
		Fanout:        f,
		Registry:      registry,
		logger:        logger,
		mux:           mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/requests", s.handleCreateRequest).Methods("POST")
	s.mux.HandleFunc("/api/v1/requests", s.handleListRequests).Methods("GET")
	s.mux.HandleFunc("/api/v1/requests/{id}/status", s.handleUpdateRequestStatus).Methods("PATCH")
	s.mux.HandleFunc("/api/v1/donors", s.handleUpsertDonor).Methods("POST")
	s.mux.HandleFunc("/api/v1/donors/{id}/availability", s.handleSetAvailability).Methods("PATCH")
	s.mux.HandleFunc("/api/v1/donors/{id}/location", s.handleSetLocation).Methods("PATCH")
	s.mux.HandleFunc("/api/v1/notifications", s.handleListNotifications).Methods("GET")
	s.mux.HandleFunc("/api/v1/notifications/{id}/read", s.handleMarkNotificationRead).Methods("PATCH")
	s.mux.HandleFunc("/api/v1/notifications/{id}", s.handleDeleteNotification).Methods("DELETE")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{user_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// callerID extracts the authenticated identity placed on the request by the
// auth layer in front of this service.
func callerID(r *http.Request) string { return r.Header.Get("X-User-ID") }

// geoPointBody decodes coordinates as pointers so a partial pair is
// distinguishable from a complete one.
type geoPointBody struct {
	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`
}

// target returns a complete coordinate pair, or nil. A body carrying only one
// coordinate is treated the same as no location at all: matching is skipped,
// never guessed against a zero coordinate.
func (g *geoPointBody) target() *models.GeoTarget {
	if g == nil || g.Lat == nil || g.Lon == nil {
		return nil
	}
	return &models.GeoTarget{Lat: *g.Lat, Lon: *g.Lon}
}

type createRequestBody struct {
	PatientName   string            `json:"patient_name"`
	BloodGroup    models.BloodGroup `json:"blood_group"`
	Units         int               `json:"units"`
	HospitalName  string            `json:"hospital_name"`
	LocationLabel string            `json:"location_label"`
	Location      *geoPointBody     `json:"location,omitempty"`
	Urgency       models.Urgency    `json:"urgency"`
	ContactNumber string            `json:"contact_number"`
	Note          string            `json:"note"`
}

// handleCreateRequest persists the request, runs matching, hands the matched
// set to the fan-out and responds. Only the persistence step can fail the
// operation; the response never waits for notifications.
func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	caller := callerID(r)
	if caller == "" {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}
	var body createRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !body.BloodGroup.Valid() {
		http.Error(w, "invalid blood group", http.StatusBadRequest)
		return
	}
	if body.Units <= 0 {
		body.Units = 1
	}
	if body.Urgency == "" {
		body.Urgency = models.UrgencyMedium
	}

	req := &models.Request{
		ID:            uuid.NewString(),
		RequesterID:   caller,
		PatientName:   body.PatientName,
		BloodGroup:    body.BloodGroup,
		Units:         body.Units,
		HospitalName:  body.HospitalName,
		LocationLabel: body.LocationLabel,
		Location:      body.Location.target(),
		Urgency:       body.Urgency,
		ContactNumber: body.ContactNumber,
		Note:          body.Note,
		Status:        models.StatusActive,
		CreatedAt:     time.Now(),
	}

	if err := s.Requests.SaveRequest(r.Context(), req); err != nil {
		s.logger.Error("request insert failed", "error", err)
		http.Error(w, "could not save request", http.StatusInternalServerError)
		return
	}
	observability.RequestsCreated.Inc()

	result := s.Matcher.Match(r.Context(), req)
	s.Fanout.Dispatch(result, req)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"request":       req,
		"matched_count": len(result.Donors),
	})
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := s.Requests.ListActive(r.Context())
	if err != nil {
		http.Error(w, "could not list requests", http.StatusInternalServerError)
		return
	}
	writeJSON(w, reqs)
}

func (s *Server) handleUpdateRequestStatus(w http.ResponseWriter, r *http.Request) {
	caller := callerID(r)
	if caller == "" {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}
	id := mux.Vars(r)["id"]
	var body struct {
		Status models.RequestStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req, err := s.Requests.GetRequest(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "request not found", http.StatusNotFound)
			return
		}
		http.Error(w, "could not load request", http.StatusInternalServerError)
		return
	}
	// only the requester may close out their own request
	if req.RequesterID != caller {
		http.Error(w, "not the requester", http.StatusForbidden)
		return
	}
	if err := s.Requests.UpdateStatus(r.Context(), id, body.Status); err != nil {
		switch {
		case errors.Is(err, storage.ErrInvalidTransition):
			http.Error(w, err.Error(), http.StatusConflict)
		case errors.Is(err, storage.ErrNotFound):
			http.Error(w, "request not found", http.StatusNotFound)
		default:
			http.Error(w, "could not update status", http.StatusInternalServerError)
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpsertDonor(w http.ResponseWriter, r *http.Request) {
	var d models.Donor
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if d.ID == "" {
		d.ID = callerID(r)
	}
	if d.ID == "" {
		http.Error(w, "missing donor id", http.StatusBadRequest)
		return
	}
	if !d.BloodGroup.Valid() {
		http.Error(w, "invalid blood group", http.StatusBadRequest)
		return
	}
	if err := s.Directory.Upsert(r.Context(), &d); err != nil {
		http.Error(w, "could not save donor", http.StatusInternalServerError)
		return
	}
	if err := s.Index.Upsert(r.Context(), d); err != nil {
		// directory write succeeded; the index catches up via the consumer
		s.logger.Warn("geo index upsert failed", "donor_id", d.ID, "error", err)
	}
	if s.Kafka != nil {
		if err := s.Kafka.PublishDonor(d); err != nil {
			s.logger.Warn("donor publish failed", "donor_id", d.ID, "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetAvailability(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body struct {
		Available bool `json:"available"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.Directory.SetAvailability(r.Context(), id, body.Available); err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			http.Error(w, "donor not found", http.StatusNotFound)
			return
		}
		http.Error(w, "could not update availability", http.StatusInternalServerError)
		return
	}
	if d, err := s.Directory.Get(r.Context(), id); err == nil {
		if err := s.Index.Upsert(r.Context(), *d); err != nil {
			s.logger.Warn("geo index upsert failed", "donor_id", id, "error", err)
		}
		if s.Kafka != nil {
			_ = s.Kafka.PublishDonor(*d)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetLocation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body geoPointBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	loc := body.target()
	if loc == nil {
		http.Error(w, "both lat and lon are required", http.StatusBadRequest)
		return
	}
	if err := s.Directory.SetLocation(r.Context(), id, *loc); err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			http.Error(w, "donor not found", http.StatusNotFound)
			return
		}
		http.Error(w, "could not update location", http.StatusInternalServerError)
		return
	}
	if d, err := s.Directory.Get(r.Context(), id); err == nil {
		if err := s.Index.Upsert(r.Context(), *d); err != nil {
			s.logger.Warn("geo index upsert failed", "donor_id", id, "error", err)
		}
		if s.Kafka != nil {
			_ = s.Kafka.PublishDonor(*d)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	caller := callerID(r)
	if caller == "" {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}
	ns, err := s.Notifications.ListByRecipient(r.Context(), caller)
	if err != nil {
		http.Error(w, "could not list notifications", http.StatusInternalServerError)
		return
	}
	writeJSON(w, ns)
}

func (s *Server) handleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	caller := callerID(r)
	if caller == "" {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}
	if err := s.Notifications.MarkRead(r.Context(), mux.Vars(r)["id"], caller); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "notification not found", http.StatusNotFound)
			return
		}
		http.Error(w, "could not mark read", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteNotification(w http.ResponseWriter, r *http.Request) {
	caller := callerID(r)
	if caller == "" {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}
	if err := s.Notifications.Delete(r.Context(), mux.Vars(r)["id"], caller); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "notification not found", http.StatusNotFound)
			return
		}
		http.Error(w, "could not delete notification", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

var upgrader = websocket.Upgrader{}

// handleWS registers the connecting user in the presence registry and keeps
// the entry until the socket closes.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["user_id"]
	if id == "" {
		http.Error(w, "missing user id", http.StatusBadRequest)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.Registry.Add(id, conn)
	go func() {
		defer func() {
			s.Registry.Remove(id, conn)
			_ = conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
