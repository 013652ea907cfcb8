package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"studycal/internal/availability"
	"studycal/internal/config"
	"studycal/internal/daemon"
	appLog "studycal/internal/log"
	"studycal/internal/model"
	"studycal/internal/store"
)

// SnapshotSource is the read side of the daemon.
type SnapshotSource interface {
	Snapshot() *daemon.Snapshot
}

// History is the optional persisted side: stored plans and the delivery log.
type History interface {
	LoadPlan(ctx context.Context, date string) (*model.DayPlan, bool, error)
	RecentDeliveries(ctx context.Context, limit int) ([]store.Delivery, error)
}

// Server is the read-only status API. It never mutates scheduler state.
type Server struct {
	cfg     *config.Config
	src     SnapshotSource
	history History
	mux     *http.ServeMux
}

// NewServer constructs a new Server. history may be nil.
func NewServer(cfg *config.Config, src SnapshotSource, history History) *Server {
	s := &Server{
		cfg:     cfg,
		src:     src,
		history: history,
		mux:     http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="studycal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// StartServer serves on cfg.Listen until ctx is canceled, then shuts down
// gracefully.
func StartServer(ctx context.Context, cfg *config.Config, src SnapshotSource, history History) error {
	s := NewServer(cfg, src, history)
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/today", s.handleToday)
	s.mux.HandleFunc("GET /api/plan", s.handlePlan)
	s.mux.HandleFunc("GET /api/curriculum", s.handleCurriculum)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/week", s.handleWeek)
	s.mux.HandleFunc("GET /api/deliveries", s.handleDeliveries)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// eventDTO is a JSON-friendly view of an event.
type eventDTO struct {
	Title    string     `json:"title"`
	Start    time.Time  `json:"start"`
	End      *time.Time `json:"end,omitempty"`
	Location string     `json:"location,omitempty"`
	Hours    float64    `json:"hours"`
}

func toDTOs(events []model.Event) []eventDTO {
	out := make([]eventDTO, 0, len(events))
	for _, ev := range events {
		dto := eventDTO{
			Title:    ev.Title,
			Start:    ev.Start,
			Location: ev.Location,
			Hours:    ev.Duration().Hours(),
		}
		if ev.HasEnd() {
			end := ev.End
			dto.End = &end
		}
		out = append(out, dto)
	}
	return out
}

type todayResponse struct {
	Date                string         `json:"date"`
	At                  time.Time      `json:"at"`
	BlockedHours        float64        `json:"blocked_hours"`
	EffectiveStudyHours float64        `json:"effective_study_hours"`
	Events              []eventDTO     `json:"events"`
	Plan                *model.DayPlan `json:"plan"`
	PlanIsToday         bool           `json:"plan_is_today"`
	LastDaily           time.Time      `json:"last_daily,omitempty"`
	LastError           string         `json:"last_error,omitempty"`
	DroppedTicks        int64          `json:"dropped_ticks"`
}

func (s *Server) handleToday(w http.ResponseWriter, _ *http.Request) {
	snap := s.src.Snapshot()
	writeJSON(w, http.StatusOK, todayResponse{
		Date:                snap.Date,
		At:                  snap.At,
		BlockedHours:        snap.Availability.BlockedHours,
		EffectiveStudyHours: snap.Availability.EffectiveStudyHours,
		Events:              toDTOs(snap.Today),
		Plan:                snap.Plan,
		PlanIsToday:         snap.Plan != nil && snap.PlanDate == snap.Date,
		LastDaily:           snap.LastDaily,
		LastError:           snap.LastError,
		DroppedTicks:        snap.Dropped,
	})
}

// handlePlan returns the in-memory plan, or a stored plan for ?date=YYYY-MM-DD.
func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	snap := s.src.Snapshot()
	date := r.URL.Query().Get("date")
	if date == "" || date == snap.PlanDate {
		if snap.Plan == nil {
			writeError(w, http.StatusNotFound, "no plan yet")
			return
		}
		writeJSON(w, http.StatusOK, snap.Plan)
		return
	}

	if _, err := time.Parse("2006-01-02", date); err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	if s.history == nil {
		writeError(w, http.StatusNotFound, "no plan for "+date)
		return
	}

	plan, ok, err := s.history.LoadPlan(r.Context(), date)
	if err != nil {
		appLog.Error("api plan: load failed", err, "date", date)
		writeError(w, http.StatusInternalServerError, "failed to load plan")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no plan for "+date)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

type curriculumResponse struct {
	Entries    []model.CurriculumEntry `json:"entries"`
	TotalHours int                     `json:"total_hours"`
	Coverage   *model.CoverageReport   `json:"coverage,omitempty"`
}

func (s *Server) handleCurriculum(w http.ResponseWriter, _ *http.Request) {
	snap := s.src.Snapshot()
	total := 0
	for _, e := range snap.Curriculum {
		total += e.TotalHours
	}
	writeJSON(w, http.StatusOK, curriculumResponse{
		Entries:    snap.Curriculum,
		TotalHours: total,
		Coverage:   snap.Coverage,
	})
}

type eventsResponse struct {
	Days []dayDTO `json:"days"`
}

type dayDTO struct {
	Date                string     `json:"date"`
	BlockedHours        float64    `json:"blocked_hours"`
	EffectiveStudyHours float64    `json:"effective_study_hours"`
	Events              []eventDTO `json:"events"`
}

// handleEvents lists events and availability per day.
//
// GET /api/events?days=7  (1..31, default 7, starting today)
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	days := parseIntDefault(r.URL.Query().Get("days"), 7)
	if days <= 0 || days > 31 {
		days = 7
	}

	snap := s.src.Snapshot()
	policy := s.policy()
	start := snap.At
	if start.IsZero() {
		start = time.Now()
	}

	resp := eventsResponse{Days: make([]dayDTO, 0, days)}
	for i := 0; i < days; i++ {
		day := start.AddDate(0, 0, i)
		avail := availability.Availability(snap.Events, day, policy)
		resp.Days = append(resp.Days, dayDTO{
			Date:                model.DateKey(day),
			BlockedHours:        avail.BlockedHours,
			EffectiveStudyHours: avail.EffectiveStudyHours,
			Events:              toDTOs(avail.Events),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWeek(w http.ResponseWriter, _ *http.Request) {
	snap := s.src.Snapshot()
	ref := snap.At
	if ref.IsZero() {
		ref = time.Now()
	}
	writeJSON(w, http.StatusOK, availability.Week(snap.Events, ref))
}

func (s *Server) handleDeliveries(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusOK, []store.Delivery{})
		return
	}
	limit := parseIntDefault(r.URL.Query().Get("limit"), 20)
	if limit <= 0 || limit > 500 {
		limit = 20
	}

	out, err := s.history.RecentDeliveries(r.Context(), limit)
	if err != nil {
		appLog.Error("api deliveries: read failed", err)
		writeError(w, http.StatusInternalServerError, "failed to read deliveries")
		return
	}
	if out == nil {
		out = []store.Delivery{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) policy() availability.Policy {
	if s.cfg == nil {
		return availability.DefaultPolicy()
	}
	return availability.Policy{
		WakeWindowHours: s.cfg.WakeWindowHours,
		DailyWasteHours: s.cfg.DailyWasteHours,
		FocusFactor:     s.cfg.FocusFactor,
	}
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
