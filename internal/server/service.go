package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/ThiagoRGoveia/driver-trips/internal/logging"
	"github.com/ThiagoRGoveia/driver-trips/internal/metrics"
	"github.com/ThiagoRGoveia/driver-trips/internal/models"
	"github.com/ThiagoRGoveia/driver-trips/internal/storage"
	"github.com/ThiagoRGoveia/driver-trips/internal/trips"
)

const uploadFormField = "file"

type ServiceConfig struct {
	// MaxUploadBytes caps the multipart body of /upload. Zero disables the cap.
	MaxUploadBytes int64
	// SummaryResponse makes /trips answer with a summary instead of a bare array.
	SummaryResponse bool
	// Location is the zone filter dates are interpreted in. Defaults to time.Local.
	Location *time.Location
}

type TripService struct {
	Store  storage.Store
	config ServiceConfig
}

func NewTripService(store storage.Store, cfg ServiceConfig) *TripService {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &TripService{Store: store, config: cfg}
}

func (h *TripService) UploadFile(w http.ResponseWriter, r *http.Request) {
	if h.config.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxUploadBytes)
	}

	file, header, err := r.FormFile(uploadFormField)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			metrics.Uploads.WithLabelValues("too_large").Inc()
			respondMessage(w, http.StatusRequestEntityTooLarge, "File too large.")
			return
		}
		metrics.Uploads.WithLabelValues("missing").Inc()
		respondMessage(w, http.StatusBadRequest, "No file uploaded.")
		return
	}
	defer file.Close()

	stored, err := h.Store.SaveUpload(r.Context(), header.Filename, file)
	if err != nil {
		metrics.Uploads.WithLabelValues("error").Inc()
		h.respondStoreError(w, r, err)
		return
	}

	metrics.Uploads.WithLabelValues("ok").Inc()
	respondJSON(w, http.StatusOK, uploadResponse{
		Message: "File uploaded successfully!",
		File:    stored,
	})
}

// GetTrips answers with the matching rows, or with a summary of them when the
// service is configured for summary responses.
func (h *TripService) GetTrips(w http.ResponseWriter, r *http.Request) {
	rows, ok := h.queryTrips(w, r)
	if !ok {
		return
	}

	if h.config.SummaryResponse {
		respondJSON(w, http.StatusOK, trips.Summarize(rows))
		return
	}
	respondJSON(w, http.StatusOK, rows)
}

func (h *TripService) GetTripsSummary(w http.ResponseWriter, r *http.Request) {
	rows, ok := h.queryTrips(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, trips.Summarize(rows))
}

func (h *TripService) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, healthResponse{Status: "ok", Backend: h.Store.Kind()})
}

func (h *TripService) queryTrips(w http.ResponseWriter, r *http.Request) ([]models.Trip, bool) {
	filter, err := parseFilter(r.URL.Query(), h.config.Location)
	if err != nil {
		logging.Ctx(r.Context()).Debug().Err(err).Msg("rejected trip filter")
		respondMessage(w, http.StatusBadRequest, filterErrorMessage(err))
		return nil, false
	}

	rows, err := h.Store.QueryTrips(r.Context(), filter)
	if err != nil {
		h.respondStoreError(w, r, err)
		return nil, false
	}
	if rows == nil {
		rows = []models.Trip{}
	}
	return rows, true
}

// respondStoreError maps store failures to a status and a fixed message. Details
// only go to the log.
func (h *TripService) respondStoreError(w http.ResponseWriter, r *http.Request, err error) {
	log := logging.Ctx(r.Context())

	switch {
	case errors.Is(err, models.ErrMissingFile):
		respondMessage(w, http.StatusBadRequest, "No file uploaded.")
	case errors.Is(err, models.ErrInvalidFilter):
		respondMessage(w, http.StatusBadRequest, filterErrorMessage(err))
	case errors.Is(err, models.ErrNoDataAvailable):
		respondMessage(w, http.StatusNotFound, "No trip data available.")
	case errors.Is(err, models.ErrCSVParse):
		log.Error().Err(err).Msg("CSV parsing error")
		respondMessage(w, http.StatusInternalServerError, "Error processing CSV file")
	case errors.Is(err, models.ErrUpstreamDegraded):
		log.Warn().Err(err).Msg("trip store unavailable")
		respondMessage(w, http.StatusServiceUnavailable, "Trip store temporarily unavailable.")
	case errors.Is(err, models.ErrIngestion):
		log.Error().Err(err).Msg("upload ingestion failed")
		respondMessage(w, http.StatusInternalServerError, "Error ingesting file")
	case errors.Is(err, models.ErrUpstreamQuery):
		log.Error().Err(err).Msg("trip query failed")
		respondMessage(w, http.StatusInternalServerError, "Error retrieving trips")
	default:
		log.Error().Err(err).Msg("request failed")
		respondMessage(w, http.StatusInternalServerError, "Internal server error")
	}
}
