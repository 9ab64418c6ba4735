// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"github.com/vs4vijay/microsoft-garage/internal/agent/command"
	"github.com/vs4vijay/microsoft-garage/internal/agent/executor"
	"github.com/vs4vijay/microsoft-garage/internal/storage/archive"
	"github.com/vs4vijay/microsoft-garage/pkg/metrics"
)

// Handler HTTP 处理器：Session 控制面
type Handler struct {
	engine      *executor.Engine
	interpreter *command.Interpreter
	logger      *slog.Logger
}

// NewHandler 创建 HTTP 处理器
func NewHandler(engine *executor.Engine, interpreter *command.Interpreter, logger *slog.Logger) *Handler {
	if interpreter == nil {
		interpreter = command.NewInterpreter(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{engine: engine, interpreter: interpreter, logger: logger}
}

// StartSessionRequest POST /api/sessions 请求体
type StartSessionRequest struct {
	Goal   string `json:"goal"`
	Source string `json:"source,omitempty"`
}

// SessionDetail 单个 Session 的详情
type SessionDetail struct {
	executor.Info
	Turns  any `json:"turns"`
	Images any `json:"images"`
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(c context.Context, ctx *app.RequestContext) {
	resp := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
		"service":   "drone-agent",
	}
	if h.engine != nil {
		resp["flight"] = h.engine.Flight()
		if s, ok := h.engine.Active(); ok {
			resp["active_session"] = s.ID
		}
	}
	ctx.JSON(consts.StatusOK, resp)
}

// ListTools 列出工具注册表
// GET /api/tools
func (h *Handler) ListTools(c context.Context, ctx *app.RequestContext) {
	schemas := h.engine.Registry().Schemas()
	ctx.JSON(consts.StatusOK, map[string]any{
		"tools": schemas,
		"total": len(schemas),
	})
}

// StartSession 解析输入并启动 Session
// POST /api/sessions
func (h *Handler) StartSession(c context.Context, ctx *app.RequestContext) {
	var req StartSessionRequest
	if err := json.Unmarshal(ctx.Request.Body(), &req); err != nil {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	goal, err := h.interpreter.Interpret(command.Input{Text: req.Goal, Source: req.Source})
	if err != nil {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	s, err := h.engine.Start(c, goal)
	if err != nil {
		h.writeError(c, ctx, err)
		return
	}
	h.logger.Debug("session requested", "session_id", s.ID, "source", goal.Source)
	ctx.JSON(consts.StatusAccepted, map[string]any{
		"session_id": s.ID,
		"goal":       s.Goal,
		"state":      s.State(),
	})
}

// ListSessions 列出全部 Session
// GET /api/sessions
func (h *Handler) ListSessions(c context.Context, ctx *app.RequestContext) {
	sessions := h.engine.List()
	infos := make([]executor.Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	ctx.JSON(consts.StatusOK, map[string]any{
		"sessions": infos,
		"total":    len(infos),
	})
}

// GetSession 返回 Session 详情，含飞行状态、对话与图像分析窗口
// GET /api/sessions/:id
func (h *Handler) GetSession(c context.Context, ctx *app.RequestContext) {
	s, err := h.engine.Get(ctx.Param("id"))
	if err != nil {
		h.writeError(c, ctx, err)
		return
	}
	snap := s.Snapshot()
	ctx.JSON(consts.StatusOK, SessionDetail{Info: s.Info(), Turns: snap.Turns, Images: snap.Images})
}

// SessionEvents 返回事件日志
// GET /api/sessions/:id/events?after=N
func (h *Handler) SessionEvents(c context.Context, ctx *app.RequestContext) {
	var after uint64
	if v := ctx.Query("after"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			ctx.JSON(consts.StatusBadRequest, map[string]string{"error": "after must be a non-negative integer"})
			return
		}
		after = n
	}
	evs, err := h.engine.Events(ctx.Param("id"), after)
	if err != nil {
		h.writeError(c, ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, map[string]any{
		"events": evs,
		"total":  len(evs),
	})
}

// Emergency 发出紧急信号
// POST /api/sessions/:id/emergency
func (h *Handler) Emergency(c context.Context, ctx *app.RequestContext) {
	id := ctx.Param("id")
	if err := h.engine.Emergency(id); err != nil {
		h.writeError(c, ctx, err)
		return
	}
	ctx.JSON(consts.StatusAccepted, map[string]string{"session_id": id, "status": "emergency signalled"})
}

// SaveSession 显式保存到归档
// POST /api/sessions/:id/save
func (h *Handler) SaveSession(c context.Context, ctx *app.RequestContext) {
	id := ctx.Param("id")
	if err := h.engine.Save(c, id); err != nil {
		h.writeError(c, ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, map[string]string{"session_id": id, "status": "saved"})
}

// DeleteSession 清理已结束的 Session
// DELETE /api/sessions/:id
func (h *Handler) DeleteSession(c context.Context, ctx *app.RequestContext) {
	id := ctx.Param("id")
	if err := h.engine.Cleanup(id); err != nil {
		h.writeError(c, ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, map[string]string{"session_id": id, "status": "deleted"})
}

// GetArchive 读取已保存的 Session
// GET /api/archive/:id
func (h *Handler) GetArchive(c context.Context, ctx *app.RequestContext) {
	store := h.engine.Archive()
	if store == nil {
		h.writeError(c, ctx, executor.ErrNoArchive)
		return
	}
	rec, err := store.Load(c, ctx.Param("id"))
	if err != nil {
		h.writeError(c, ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, rec)
}

// ResetDrone 重置：清空已结束的 Session 并重新读取电量
// POST /api/drone/reset
func (h *Handler) ResetDrone(c context.Context, ctx *app.RequestContext) {
	if err := h.engine.Reset(c); err != nil {
		h.writeError(c, ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, map[string]any{"status": "reset", "flight": h.engine.Flight()})
}

// Metrics Prometheus 文本格式
// GET /metrics
func (h *Handler) Metrics(c context.Context, ctx *app.RequestContext) {
	var buf bytes.Buffer
	if err := metrics.WritePrometheus(&buf); err != nil {
		hlog.CtxErrorf(c, "write metrics: %v", err)
		ctx.JSON(consts.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	ctx.Data(consts.StatusOK, "text/plain; version=0.0.4; charset=utf-8", buf.Bytes())
}

// writeError 按错误类型映射状态码
func (h *Handler) writeError(c context.Context, ctx *app.RequestContext, err error) {
	status := consts.StatusInternalServerError
	var ie *command.InputError
	switch {
	case errors.As(err, &ie):
		status = consts.StatusBadRequest
	case errors.Is(err, executor.ErrSessionNotFound), errors.Is(err, archive.ErrNotFound):
		status = consts.StatusNotFound
	case errors.Is(err, executor.ErrSessionActive),
		errors.Is(err, executor.ErrSessionNotTerminal),
		errors.Is(err, executor.ErrSessionEnded):
		status = consts.StatusConflict
	case errors.Is(err, executor.ErrNoArchive):
		status = consts.StatusServiceUnavailable
	}
	if status == consts.StatusInternalServerError {
		hlog.CtxErrorf(c, "request failed: %v", err)
	}
	ctx.JSON(status, map[string]string{"error": err.Error()})
}
