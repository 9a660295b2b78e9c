package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/OperatorNext/OperatorNext/api"
	"github.com/OperatorNext/OperatorNext/internal/archive"
	"github.com/OperatorNext/OperatorNext/task"
	"github.com/OperatorNext/OperatorNext/types"
)

// TaskService 任务处理器依赖的服务能力
type TaskService interface {
	Create(ctx context.Context, description string) (task.Task, error)
	Get(taskID string) (task.Task, error)
	List() []task.Task
	Details(taskID string) (task.Details, error)
	Events(ctx context.Context, taskID string, after int) ([]json.RawMessage, error)
	Run(ctx context.Context, taskID string, transport task.Transport) error
}

// ArchiveReader 归档查询
type ArchiveReader interface {
	Recent(ctx context.Context, limit int) ([]archive.ArchivedTask, error)
}

// =============================================================================
// 📋 任务 REST Handler
// =============================================================================

// TaskHandler 任务的创建与查询接口
type TaskHandler struct {
	service TaskService
	archive ArchiveReader
	logger  *zap.Logger
}

// NewTaskHandler 创建处理器，archive 为 nil 时归档接口返回 503
func NewTaskHandler(service TaskService, archive ArchiveReader, logger *zap.Logger) *TaskHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaskHandler{
		service: service,
		archive: archive,
		logger:  logger.With(zap.String("handler", "task")),
	}
}

// HandleCreate POST /api/tasks
// @Summary 创建任务
// @Accept json
// @Produce json
// @Param request body api.CreateTaskRequest true "任务描述"
// @Success 201 {object} task.Task
// @Failure 400 {object} Response
// @Router /api/tasks [post]
func (h *TaskHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req api.CreateTaskRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	t, err := h.service.Create(r.Context(), req.TaskDescription)
	if err != nil {
		WriteError(w, r, TaskError(err), h.logger)
		return
	}
	WriteJSON(w, http.StatusCreated, t)
}

// HandleGet GET /api/tasks/{task_id}
func (h *TaskHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	t, err := h.service.Get(r.PathValue("task_id"))
	if err != nil {
		WriteError(w, r, TaskError(err), h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, t)
}

// HandleList GET /api/tasks
func (h *TaskHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	tasks := h.service.List()
	WriteJSON(w, http.StatusOK, api.TaskListResponse{Tasks: tasks, Total: len(tasks)})
}

// HandleStats GET /api/tasks/{task_id}/stats
func (h *TaskHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	details, err := h.service.Details(r.PathValue("task_id"))
	if err != nil {
		WriteError(w, r, TaskError(err), h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, details)
}

// HandleEvents GET /api/tasks/{task_id}/events?after=N
func (h *TaskHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("task_id")
	after, ok := h.intQuery(w, r, "after", 0)
	if !ok {
		return
	}

	events, err := h.service.Events(r.Context(), taskID, after)
	if err != nil {
		WriteError(w, r, TaskError(err), h.logger)
		return
	}
	if events == nil {
		events = []json.RawMessage{}
	}
	WriteJSON(w, http.StatusOK, api.EventsResponse{TaskID: taskID, After: after, Events: events})
}

// HandleArchive GET /api/tasks/archive?limit=N
func (h *TaskHandler) HandleArchive(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		WriteErrorMessage(w, r, http.StatusServiceUnavailable, types.ErrServiceUnavailable, "task archive is disabled", h.logger)
		return
	}
	limit, ok := h.intQuery(w, r, "limit", archive.DefaultLimit)
	if !ok {
		return
	}
	limit = archive.ClampLimit(limit)

	tasks, err := h.archive.Recent(r.Context(), limit)
	if err != nil {
		WriteError(w, r, types.NewError(types.ErrServiceUnavailable, "task archive unavailable").
			WithCause(err).WithRetryable(true), h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, api.ArchiveListResponse{Tasks: tasks, Limit: limit})
}

// intQuery 读取非负整数查询参数，非法时写入 400
func (h *TaskHandler) intQuery(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest,
			name+" must be a non-negative integer", h.logger)
		return 0, false
	}
	return v, true
}
