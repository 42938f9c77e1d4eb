package remote

import (
	"encoding/json"
	"io"
	"math"
	"net/http"
	"strings"

	"codeberg.org/mutker/sensorpipe/internal/buffer"
	"codeberg.org/mutker/sensorpipe/internal/errors"
	"codeberg.org/mutker/sensorpipe/internal/logger"
)

// maxBodyBytes bounds POST /buffer payloads.
const maxBodyBytes = 1 << 20

// Status is the pipeline summary served at /status.
type Status struct {
	RunID       string   `json:"run_id,omitempty"`
	State       string   `json:"state"`
	Measuring   bool     `json:"measuring"`
	BeforeStart bool     `json:"before_start"`
	RemainingMS int64    `json:"remaining_ms"`
	Activity    float64  `json:"activity"`
	Buffers     []string `json:"buffers"`
}

// StatusFunc reports the current pipeline status.
type StatusFunc func() Status

type handler struct {
	bridge   *Bridge
	registry *buffer.Registry
	status   StatusFunc
	log      logger.Logger
}

// NewHandler returns the remote control HTTP API:
//
//	GET  /control?cmd=start|stop
//	POST /defocus
//	GET  /buffer/{name}
//	POST /buffer/{name}
//	GET  /status
func NewHandler(bridge *Bridge, registry *buffer.Registry, status StatusFunc) http.Handler {
	h := &handler{
		bridge:   bridge,
		registry: registry,
		status:   status,
		log:      logger.Component("remote"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/control", h.handleControl)
	mux.HandleFunc("/defocus", h.handleDefocus)
	mux.HandleFunc("/buffer/", h.handleBuffer)
	mux.HandleFunc("/status", h.handleStatus)
	return mux
}

func (h *handler) handleControl(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	switch cmd := r.URL.Query().Get("cmd"); cmd {
	case "start":
		h.bridge.RequestStart()
	case "stop":
		h.bridge.RequestStop()
	case "":
		badRequest(w, "missing cmd")
		return
	default:
		h.log.Warn().Str("cmd", cmd).Msg("Rejected unknown remote command")
		badRequest(w, "unknown cmd")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"result": true})
}

func (h *handler) handleDefocus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	h.bridge.RequestDefocus()
	writeJSON(w, http.StatusOK, map[string]bool{"result": true})
}

func (h *handler) handleBuffer(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/buffer/")
	if name == "" || strings.Contains(name, "/") {
		badRequest(w, "invalid buffer name")
		return
	}

	switch r.Method {
	case http.MethodGet:
		b, ok := h.registry.Get(name)
		if !ok {
			writeError(w, http.StatusNotFound, "unknown buffer")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"name":     name,
			"capacity": b.Cap(),
			"values":   jsonValues(b.Snapshot()),
		})

	case http.MethodPost:
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
		if err != nil {
			badRequest(w, "unreadable body")
			return
		}
		if len(body) > maxBodyBytes {
			writeError(w, http.StatusRequestEntityTooLarge, "body too large")
			return
		}

		var values []float64
		if err := json.Unmarshal(body, &values); err != nil {
			badRequest(w, "body must be a JSON array of numbers")
			return
		}

		if err := h.registry.Write(name, values); err != nil {
			if errors.HasCode(err, buffer.ErrUnknownBuffer) {
				writeError(w, http.StatusNotFound, "unknown buffer")
				return
			}
			h.log.Error().Err(err).Str("buffer", name).Msg("Remote buffer write failed")
			writeError(w, http.StatusInternalServerError, "write failed")
			return
		}

		h.bridge.MarkInputPending()
		h.log.Debug().Str("buffer", name).Msg("Remote buffer write")
		writeJSON(w, http.StatusOK, map[string]bool{"result": true})

	default:
		methodNotAllowed(w)
	}
}

func (h *handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	st := Status{Buffers: h.registry.Names()}
	if h.status != nil {
		names := st.Buffers
		st = h.status()
		st.Buffers = names
	}
	writeJSON(w, http.StatusOK, st)
}

// jsonValues replaces non-finite samples with nil, which JSON encodes as null.
func jsonValues(vs []float64) []*float64 {
	out := make([]*float64, len(vs))
	for i := range vs {
		if !math.IsNaN(vs[i]) && !math.IsInf(vs[i], 0) {
			out[i] = &vs[i]
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Warn().Err(err).Msg("Failed to encode JSON response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusBadRequest, msg)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
