package ingress

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/hanwool-dev/wakebattle/internal/battle"
	"github.com/hanwool-dev/wakebattle/internal/domain"
	"github.com/hanwool-dev/wakebattle/internal/obslog"
	"github.com/hanwool-dev/wakebattle/internal/store"
	"github.com/hanwool-dev/wakebattle/pkg/battledto"
)

// Server is the HTTP ingress for collaborator events and battle
// operations. Real-time push is deliberately absent; consumers poll or
// register event handlers in-process.
type Server struct {
	mgr     *battle.Manager
	hybrid  *store.Hybrid // nil unless hybrid persistence is active
	srv     *fasthttp.Server
	started time.Time
}

func NewServer(mgr *battle.Manager, hybrid *store.Hybrid) *Server {
	s := &Server{mgr: mgr, hybrid: hybrid, started: time.Now()}
	s.srv = &fasthttp.Server{
		Handler:      s.route,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		Name:         "wakebattle",
	}
	return s
}

// ListenAndServe blocks until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	obslog.L().Info("ingress_listen", zap.String("addr", addr))
	return s.srv.ListenAndServe(addr)
}

func (s *Server) Shutdown() error { return s.srv.Shutdown() }

func (s *Server) route(ctx *fasthttp.RequestCtx) {
	path := string(ctx.Path())
	method := string(ctx.Method())

	switch {
	case path == "/healthz" && method == fasthttp.MethodGet:
		s.handleHealth(ctx)
	case path == "/v1/alarm-fired" && method == fasthttp.MethodPost:
		s.handleAlarm(ctx)
	case path == "/v1/battles" && method == fasthttp.MethodPost:
		s.handleCreate(ctx)
	case path == "/v1/battles" && method == fasthttp.MethodGet:
		s.handleList(ctx)
	case strings.HasPrefix(path, "/v1/battles/"):
		s.routeBattle(ctx, strings.TrimPrefix(path, "/v1/battles/"), method)
	default:
		writeError(ctx, fasthttp.StatusNotFound, "unknown route", "not_found")
	}
}

func (s *Server) routeBattle(ctx *fasthttp.RequestCtx, rest, method string) {
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	id := parts[0]
	if id == "" {
		writeError(ctx, fasthttp.StatusNotFound, "battle id required", "not_found")
		return
	}
	var action string
	if len(parts) > 1 {
		action = parts[1]
	}
	switch {
	case action == "" && method == fasthttp.MethodGet:
		s.handleGet(ctx, id)
	case action == "join" && method == fasthttp.MethodPost:
		s.handleJoin(ctx, id)
	case action == "progress" && method == fasthttp.MethodPost:
		s.handleProgress(ctx, id)
	case action == "end" && method == fasthttp.MethodPost:
		s.handleEnd(ctx, id)
	case action == "cancel" && method == fasthttp.MethodPost:
		s.handleCancel(ctx, id)
	default:
		writeError(ctx, fasthttp.StatusNotFound, "unknown route", "not_found")
	}
}

func (s *Server) handleHealth(ctx *fasthttp.RequestCtx) {
	resp := battledto.HealthResponse{
		Status:    "ok",
		UptimeSec: int64(time.Since(s.started).Seconds()),
	}
	if s.hybrid != nil {
		resp.PrimaryFailures = s.hybrid.Failures()
		resp.Degraded = len(s.hybrid.DirtyIDs()) > 0
		if resp.Degraded {
			resp.Status = "degraded"
		}
	}
	writeJSON(ctx, fasthttp.StatusOK, resp)
}

func (s *Server) handleAlarm(ctx *fasthttp.RequestCtx) {
	var ev battledto.AlarmFired
	if err := json.Unmarshal(ctx.PostBody(), &ev); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, "invalid json body", "bad_request")
		return
	}
	rctx, cancel := requestCtx(ctx)
	defer cancel()
	applied, err := s.mgr.HandleAlarm(rctx, ev)
	if err != nil {
		writeDomainError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]int{"battles_updated": applied})
}

func (s *Server) handleCreate(ctx *fasthttp.RequestCtx) {
	var req battledto.CreateBattleRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, "invalid json body", "bad_request")
		return
	}
	spec := battle.CreateSpec{
		Type:      domain.BattleType(req.Type),
		CreatorID: req.CreatorID,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Settings: domain.Settings{
			WakeWindowMin:  req.Settings.WakeWindowMin,
			AllowSnooze:    req.Settings.AllowSnooze,
			MaxSnoozes:     req.Settings.MaxSnoozes,
			Difficulty:     req.Settings.Difficulty,
			WeatherBonus:   req.Settings.WeatherBonus,
			TaskChallenges: req.Settings.TaskChallenges,
		},
		MaxParticipants: req.MaxParticipants,
		MinParticipants: req.MinParticipants,
		EntryFee:        req.EntryFee,
		PrizePool:       decodePrizePool(req.PrizePool),
	}
	rctx, cancel := requestCtx(ctx)
	defer cancel()
	b, err := s.mgr.CreateBattle(rctx, spec)
	if err != nil {
		writeDomainError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusCreated, b)
}

func (s *Server) handleList(ctx *fasthttp.RequestCtx) {
	f := store.Filter{
		Type:      domain.BattleType(string(ctx.QueryArgs().Peek("type"))),
		Status:    domain.BattleStatus(string(ctx.QueryArgs().Peek("status"))),
		UserID:    string(ctx.QueryArgs().Peek("user_id")),
		CreatorID: string(ctx.QueryArgs().Peek("creator_id")),
	}
	rctx, cancel := requestCtx(ctx)
	defer cancel()
	battles, err := s.mgr.ListBattles(rctx, f)
	if err != nil {
		writeDomainError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, battles)
}

func (s *Server) handleGet(ctx *fasthttp.RequestCtx, id string) {
	rctx, cancel := requestCtx(ctx)
	defer cancel()
	b, err := s.mgr.GetBattle(rctx, id)
	if err != nil {
		writeDomainError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, b)
}

func (s *Server) handleJoin(ctx *fasthttp.RequestCtx, id string) {
	var req battledto.JoinRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, "invalid json body", "bad_request")
		return
	}
	rctx, cancel := requestCtx(ctx)
	defer cancel()
	b, err := s.mgr.JoinBattle(rctx, id, req.UserID)
	if err != nil {
		writeDomainError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, b)
}

func (s *Server) handleProgress(ctx *fasthttp.RequestCtx, id string) {
	var req battledto.ProgressRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, "invalid json body", "bad_request")
		return
	}
	rctx, cancel := requestCtx(ctx)
	defer cancel()
	b, err := s.mgr.UpdateProgress(rctx, id, req.UserID, domain.ProgressUpdate{
		WakeTime:       req.WakeTime,
		Score:          req.Score,
		CompletedTasks: req.CompletedTasks,
		SnoozeCount:    req.SnoozeCount,
	})
	if err != nil {
		writeDomainError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, b)
}

func (s *Server) handleEnd(ctx *fasthttp.RequestCtx, id string) {
	rctx, cancel := requestCtx(ctx)
	defer cancel()
	b, err := s.mgr.EndBattle(rctx, id)
	if err != nil {
		writeDomainError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, b)
}

func (s *Server) handleCancel(ctx *fasthttp.RequestCtx, id string) {
	by := string(ctx.QueryArgs().Peek("user_id"))
	rctx, cancel := requestCtx(ctx)
	defer cancel()
	b, err := s.mgr.CancelBattle(rctx, id, by)
	if err != nil {
		writeDomainError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, b)
}

func decodePrizePool(raw map[string]any) map[string]domain.RewardTier {
	if len(raw) == 0 {
		return nil
	}
	// round-trip through JSON keeps the DTO free of domain imports
	buf, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var pool map[string]domain.RewardTier
	if err := json.Unmarshal(buf, &pool); err != nil {
		return nil
	}
	return pool
}

// handlerTimeout bounds store work per request so a hung backend cannot
// pin a handler past the server's write deadline.
const handlerTimeout = 10 * time.Second

// requestCtx derives the manager-facing context for one request. The
// fasthttp ctx is itself a context.Context, canceled on server shutdown.
func requestCtx(ctx *fasthttp.RequestCtx) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, handlerTimeout)
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json; charset=utf-8")
	if err := json.NewEncoder(ctx).Encode(v); err != nil {
		obslog.L().Error("ingress_encode_error", zap.Error(err))
	}
}

func writeError(ctx *fasthttp.RequestCtx, status int, msg, code string) {
	writeJSON(ctx, status, battledto.ErrorResponse{Error: msg, Code: code})
}

func writeDomainError(ctx *fasthttp.RequestCtx, err error) {
	switch {
	case battle.IsValidation(err):
		writeError(ctx, fasthttp.StatusUnprocessableEntity, err.Error(), "validation")
	case battle.IsNotFound(err):
		writeError(ctx, fasthttp.StatusNotFound, err.Error(), "not_found")
	default:
		obslog.L().Error("ingress_internal_error", zap.Error(err))
		writeError(ctx, fasthttp.StatusServiceUnavailable, "persistence degraded, retry later", "degraded")
	}
}
