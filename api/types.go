package api

import (
	"encoding/json"

	"github.com/OperatorNext/OperatorNext/internal/archive"
	"github.com/OperatorNext/OperatorNext/task"
)

// =============================================================================
// 任务接口类型
// =============================================================================

// CreateTaskRequest 创建任务请求
// @Description 创建浏览器任务
type CreateTaskRequest struct {
	// 自然语言任务描述
	TaskDescription string `json:"task_description" example:"open example.com and read the heading" binding:"required"`
}

// TaskListResponse 任务列表，按创建时间倒序
type TaskListResponse struct {
	Tasks []task.Task `json:"tasks"`
	Total int         `json:"total"`
}

// EventsResponse 事件轮询响应
// @Description 序号大于 after 的消息信封，按序号升序
type EventsResponse struct {
	TaskID string `json:"task_id"`
	After  int    `json:"after"`
	// 与 WebSocket 推送完全相同的信封字节
	Events []json.RawMessage `json:"events"`
}

// ArchiveListResponse 归档列表
type ArchiveListResponse struct {
	Tasks []archive.ArchivedTask `json:"tasks"`
	Limit int                    `json:"limit"`
}
