package httpapi

import (
	"net/http"

	"github.com/rs/cors"
	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

// HandleHandler 支持 http.Handler 接口（SSE / WebSocket）
func (r *Router) HandleHandler(pattern string, h http.Handler) {
	r.mux.Handle(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Handler 带 CORS 的根 handler
func (r *Router) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(r)
}

// RegisterWeightRoutes 传感器上报
func (r *Router) RegisterWeightRoutes(h *WeightHandler) {
	r.Handle("/", h.Legacy)
	r.Handle("/api/weight", h.Ingest)
	r.Handle("/weight", h.Latest)
}

// RegisterDripRoutes 输液管理
func (r *Router) RegisterDripRoutes(h *DripHandler) {
	r.Handle("/api/drip/start", h.Start)
	r.Handle("/api/drip/stop", h.Stop)
	r.Handle("/api/drip/replace", h.Replace)
	r.Handle("/api/drip/status", h.Status)
	r.Handle("/api/patient/status", h.OverrideStatus)
}

func (r *Router) RegisterPatientRoutes(h *PatientHandler) {
	r.Handle("/api/patients", h.ListPatients)
	r.Handle("/api/patient/", h.GetPatient)
	r.Handle("/api/alerts", h.ListAlerts)
	r.Handle("/api/alerts/", h.MarkAlertRead)
}

// RegisterLiveRoutes 实时推送通道
func (r *Router) RegisterLiveRoutes(sse, ws http.Handler) {
	r.HandleHandler("/stream", sse)
	r.HandleHandler("/ws", ws)
}
