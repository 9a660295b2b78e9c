package task

import "errors"

var (
	// ErrTaskNotFound 任务不存在
	ErrTaskNotFound = errors.New("task not found")
	// ErrTaskRunning 任务正在另一个连接上运行
	ErrTaskRunning = errors.New("task is already running")
	// ErrEmptyDescription 任务描述为空
	ErrEmptyDescription = errors.New("task description must not be empty")
	// ErrProcessorStopped 消息处理器因发送失败而停止
	ErrProcessorStopped = errors.New("message processor stopped")
	// ErrNoCompletion Agent 结束但未报告完成
	ErrNoCompletion = errors.New("agent finished without reporting completion")
)
