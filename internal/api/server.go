package api

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/banshee-data/packcam/internal/capture"
	"github.com/banshee-data/packcam/internal/httputil"
	"github.com/banshee-data/packcam/internal/order"
	"github.com/banshee-data/packcam/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Capture is the orchestrator surface the API needs.
type Capture interface {
	State() capture.State
	Busy() bool
	Current() *capture.Session
	Stats() *capture.Stats
	RetakeSlot(slot int) error
	RetakeAll() error
}

// Evidence is the read side of the evidence store.
type Evidence interface {
	Orders() ([]string, error)
	SlotImages(id order.ID) (map[int]string, error)
	ReadImage(path string) ([]byte, error)
}

// Status holds optional providers for the status payload. Nil funcs report
// zero values.
type Status struct {
	UpstreamConnected func() bool
	Subscribers       func() int
	Cameras           func() int
}

type Server struct {
	capture  Capture
	evidence Evidence
	status   Status
}

func NewServer(c Capture, ev Evidence, status Status) *Server {
	return &Server{
		capture:  c,
		evidence: ev,
		status:   status,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/retake", s.retakeSlot)
	mux.HandleFunc("/api/retake-all", s.retakeAll)
	mux.HandleFunc("/api/orders", s.listOrders)
	mux.HandleFunc("/api/orders/{id}", s.showOrder)
	mux.HandleFunc("/api/orders/{id}/images/{slot}", s.showImage)
	mux.HandleFunc("/api/stats", s.showStats)
	mux.HandleFunc("/debug/capture-chart", s.showCaptureChart)
	return mux
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	State             capture.State    `json:"state"`
	Busy              bool             `json:"busy"`
	Session           *capture.Session `json:"session,omitempty"`
	UpstreamConnected bool             `json:"upstream_connected"`
	Subscribers       int              `json:"subscribers"`
	Cameras           int              `json:"cameras"`
	Version           string           `json:"version"`
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	resp := StatusResponse{
		State:   s.capture.State(),
		Busy:    s.capture.Busy(),
		Session: s.capture.Current(),
		Version: version.Version,
	}
	if s.status.UpstreamConnected != nil {
		resp.UpstreamConnected = s.status.UpstreamConnected()
	}
	if s.status.Subscribers != nil {
		resp.Subscribers = s.status.Subscribers()
	}
	if s.status.Cameras != nil {
		resp.Cameras = s.status.Cameras()
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) retakeSlot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w, http.MethodPost)
		return
	}
	slot, err := strconv.Atoi(r.FormValue("slot"))
	if err != nil || slot < 1 {
		httputil.BadRequest(w, "slot must be a positive integer")
		return
	}
	s.writeRetakeResult(w, s.capture.RetakeSlot(slot))
}

func (s *Server) retakeAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w, http.MethodPost)
		return
	}
	s.writeRetakeResult(w, s.capture.RetakeAll())
}

func (s *Server) writeRetakeResult(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
	case errors.Is(err, capture.ErrUnknownSlot):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, capture.ErrClosed):
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, err.Error())
	default:
		// busy, no current order, no cameras
		httputil.Conflict(w, err.Error())
	}
}

func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	orders, err := s.evidence.Orders()
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to list orders: %v", err))
		return
	}
	if orders == nil {
		orders = []string{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

// SlotImage is one evidence file in an order response.
type SlotImage struct {
	Slot int    `json:"slot"`
	Path string `json:"path"`
}

// OrderResponse is the body of GET /api/orders/{id}.
type OrderResponse struct {
	OrderNo order.ID    `json:"order_no"`
	Images  []SlotImage `json:"images"`
}

func (s *Server) showOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	id, images, ok := s.orderImages(w, r)
	if !ok {
		return
	}
	resp := OrderResponse{OrderNo: id, Images: make([]SlotImage, 0, len(images))}
	for slot, path := range images {
		resp.Images = append(resp.Images, SlotImage{Slot: slot, Path: path})
	}
	sort.Slice(resp.Images, func(i, j int) bool { return resp.Images[i].Slot < resp.Images[j].Slot })
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) showImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	slot, err := strconv.Atoi(r.PathValue("slot"))
	if err != nil {
		httputil.BadRequest(w, "invalid slot")
		return
	}
	_, images, ok := s.orderImages(w, r)
	if !ok {
		return
	}
	path, found := images[slot]
	if !found {
		httputil.NotFound(w, fmt.Sprintf("no image for slot %d", slot))
		return
	}
	data, err := s.evidence.ReadImage(path)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to read image: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	_, _ = w.Write(data)
}

// orderImages resolves the {id} path value and its slot images, writing an
// error response and returning false when that fails.
func (s *Server) orderImages(w http.ResponseWriter, r *http.Request) (order.ID, map[int]string, bool) {
	id, err := order.Normalize(r.PathValue("id"))
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return "", nil, false
	}
	images, err := s.evidence.SlotImages(id)
	if err != nil || len(images) == 0 {
		httputil.NotFound(w, fmt.Sprintf("no evidence for order %s", id))
		return "", nil, false
	}
	return id, images, true
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, s.capture.Stats().Summary())
}
