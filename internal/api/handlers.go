// Package api provides the HTTP surface of the telemetry backend:
// ingest, device catalog management, read-side views and the live
// measurement stream.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/siddharth-mourya/powerlytic-be/internal/domain"
	"github.com/siddharth-mourya/powerlytic-be/internal/metrics"
	"github.com/siddharth-mourya/powerlytic-be/internal/registry"
	"github.com/siddharth-mourya/powerlytic-be/internal/service"
	"github.com/siddharth-mourya/powerlytic-be/internal/store"
	"github.com/siddharth-mourya/powerlytic-be/internal/views"
)

// measurementSink is the store surface the ingest handler needs.
type measurementSink interface {
	InsertBatch(ctx context.Context, records []domain.Measurement) error
}

// deviceCatalog is the registry surface the device handlers need.
type deviceCatalog interface {
	List() []*domain.Device
	Get(id string) (*domain.Device, error)
	Add(device *domain.Device) error
	Delete(id string) error
	UpdatePort(deviceID, portKey string, update registry.PortUpdate) (*domain.Device, error)
	Save() error
}

// batchBroadcaster publishes stored batches to live-stream clients.
type batchBroadcaster interface {
	BroadcastBatch(deviceID string, records []domain.Measurement)
}

// Handlers bundles the HTTP handlers and their collaborators.
type Handlers struct {
	transformer *service.Transformer
	sink        measurementSink
	views       *views.Builder
	catalog     deviceCatalog
	stream      batchBroadcaster
	logger      zerolog.Logger
	metrics     *metrics.Registry
}

// NewHandlers creates the handler set. stream may be nil when the live
// stream is not wired.
func NewHandlers(
	transformer *service.Transformer,
	sink measurementSink,
	builder *views.Builder,
	catalog deviceCatalog,
	stream batchBroadcaster,
	logger zerolog.Logger,
	m *metrics.Registry,
) *Handlers {
	return &Handlers{
		transformer: transformer,
		sink:        sink,
		views:       builder,
		catalog:     catalog,
		stream:      stream,
		logger:      logger.With().Str("component", "api").Logger(),
		metrics:     m,
	}
}

// ingestResponse is the body of a successful ingest.
type ingestResponse struct {
	Stored  int            `json:"stored"`
	Skipped int            `json:"skipped"`
	Skips   []service.Skip `json:"skips,omitempty"`
}

// HandleIngest accepts one telemetry payload, transforms it and stores
// the resulting records.
func (h *Handlers) HandleIngest(w http.ResponseWriter, r *http.Request) {
	var payload domain.Payload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.metrics.RecordPayload("rejected", 0, 0)
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid payload: %v", err))
		return
	}

	result, err := h.transformer.Transform(r.Context(), &payload)
	if err != nil {
		h.writeTransformError(w, err)
		return
	}

	if err := h.sink.InsertBatch(r.Context(), result.Records); err != nil {
		h.logger.Error().Err(err).Str("device_id", result.Device.ID).Msg("Failed to store batch")
		if errors.Is(err, domain.ErrStoreUnavailable) {
			h.writeError(w, http.StatusServiceUnavailable, "measurement store unavailable")
			return
		}
		h.writeError(w, http.StatusInternalServerError, "failed to store measurements")
		return
	}

	if h.stream != nil {
		h.stream.BroadcastBatch(result.Device.ID, result.Records)
	}

	h.writeJSON(w, http.StatusAccepted, ingestResponse{
		Stored:  len(result.Records),
		Skipped: len(result.Skips),
		Skips:   result.Skips,
	})
}

// writeTransformError maps transformer errors onto HTTP statuses. A
// device the catalog does not know is 404; a device without an owning
// organization is configuration the caller cannot fix by retrying, 422.
func (h *Handlers) writeTransformError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrDeviceNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrOrganizationMissing):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrEmptyPayload), errors.Is(err, domain.ErrDeviceIdentifierRequired):
		h.writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error().Err(err).Msg("Transform failed")
		h.writeError(w, http.StatusInternalServerError, "transform failed")
	}
}

// HandleListDevices returns the device catalog.
func (h *Handlers) HandleListDevices(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.catalog.List())
}

// HandleGetDevice returns one device.
func (h *Handlers) HandleGetDevice(w http.ResponseWriter, r *http.Request) {
	device, err := h.catalog.Get(chi.URLParam(r, "id"))
	if err != nil {
		h.writeCatalogError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, device)
}

// HandleCreateDevice registers a new device and persists the catalog.
func (h *Handlers) HandleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var device domain.Device
	if err := json.NewDecoder(r.Body).Decode(&device); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.catalog.Add(&device); err != nil {
		h.writeCatalogError(w, err)
		return
	}
	if err := h.catalog.Save(); err != nil {
		h.logger.Error().Err(err).Str("device_id", device.ID).Msg("Failed to persist catalog")
		h.writeError(w, http.StatusInternalServerError, "failed to persist device")
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]string{"status": "created", "id": device.ID})
}

// HandleDeleteDevice removes a device from the catalog.
func (h *Handlers) HandleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.catalog.Delete(id); err != nil {
		h.writeCatalogError(w, err)
		return
	}
	if err := h.catalog.Save(); err != nil {
		h.logger.Error().Err(err).Str("device_id", id).Msg("Failed to persist catalog")
		h.writeError(w, http.StatusInternalServerError, "failed to persist deletion")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}

// HandleUpdatePort applies the mutable attributes of a port.
func (h *Handlers) HandleUpdatePort(w http.ResponseWriter, r *http.Request) {
	var update registry.PortUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	device, err := h.catalog.UpdatePort(chi.URLParam(r, "id"), chi.URLParam(r, "portKey"), update)
	if err != nil {
		h.writeCatalogError(w, err)
		return
	}
	if err := h.catalog.Save(); err != nil {
		h.logger.Error().Err(err).Str("device_id", device.ID).Msg("Failed to persist catalog")
		h.writeError(w, http.StatusInternalServerError, "failed to persist update")
		return
	}
	h.writeJSON(w, http.StatusOK, device)
}

// HandleSnapshot serves the per-port latest-value tree.
func (h *Handlers) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.views.Snapshot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeViewError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

// HandleTable serves the flat latest-values table.
func (h *Handlers) HandleTable(w http.ResponseWriter, r *http.Request) {
	rows, err := h.views.Table(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeViewError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rows)
}

// HandleSeries serves the {t, v} samples of one channel window.
// Query params: portKey, readId, start, end (RFC 3339), limit,
// aggregate=true to include summary statistics.
func (h *Handlers) HandleSeries(w http.ResponseWriter, r *http.Request) {
	q := views.SeriesQuery{
		DeviceID:      chi.URLParam(r, "id"),
		PortKey:       r.URL.Query().Get("portKey"),
		ReadID:        r.URL.Query().Get("readId"),
		WithAggregate: r.URL.Query().Get("aggregate") == "true",
	}

	var err error
	if q.Start, q.End, err = parseWindow(r); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if q.Limit, err = strconv.Atoi(raw); err != nil || q.Limit < 0 {
			h.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
	}

	series, err := h.views.Series(r.Context(), q)
	if err != nil {
		h.writeViewError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, series)
}

// HandleStatus serves the per-channel health summary.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.views.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeViewError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, status)
}

// HandleExport streams the matching records as a CSV download.
func (h *Handlers) HandleExport(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")
	q := store.RangeQuery{
		DeviceID: deviceID,
		PortKey:  r.URL.Query().Get("portKey"),
		ReadID:   r.URL.Query().Get("readId"),
	}

	var err error
	if q.Start, q.End, err = parseWindow(r); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", deviceID+"-measurements.csv"))
	if err := h.views.ExportCSV(r.Context(), w, q); err != nil {
		// Headers may already be written; log and abandon the response
		h.logger.Error().Err(err).Str("device_id", deviceID).Msg("CSV export failed")
	}
}

// parseWindow reads the optional start/end query params.
func parseWindow(r *http.Request) (start, end time.Time, err error) {
	if raw := r.URL.Query().Get("start"); raw != "" {
		if start, err = time.Parse(time.RFC3339, raw); err != nil {
			return start, end, fmt.Errorf("invalid start: %v", err)
		}
	}
	if raw := r.URL.Query().Get("end"); raw != "" {
		if end, err = time.Parse(time.RFC3339, raw); err != nil {
			return start, end, fmt.Errorf("invalid end: %v", err)
		}
	}
	return start, end, nil
}

func (h *Handlers) writeCatalogError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrDeviceNotFound), errors.Is(err, domain.ErrPortNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrDeviceExists):
		h.writeError(w, http.StatusConflict, err.Error())
	default:
		h.writeError(w, http.StatusBadRequest, err.Error())
	}
}

func (h *Handlers) writeViewError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrDeviceNotFound) {
		h.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	h.logger.Error().Err(err).Msg("View build failed")
	h.writeError(w, http.StatusInternalServerError, "failed to build view")
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
