// Copyright (c) OperatorNext Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 OperatorNext HTTP 与 WebSocket 接口的处理器。

# 核心类型

  - TaskHandler   — 任务创建、查询、统计、事件轮询与归档列表
  - StreamHandler — /api/ws/tasks/{task_id}，运行或回放任务并按结果关闭连接
  - WSTransport   — 把 task.Transport 适配到 coder/websocket 连接
  - HealthHandler — /health、/ready 与 /version，可注册 Redis、归档库检查
  - Response      — 错误信封 {success, error, timestamp, request_id}

# 关闭码

  - 1000 运行完成或回放结束
  - 4004 任务不存在
  - 4009 任务正在其他连接上运行
  - 1011 运行失败，reason 为截断后的错误文本
*/
package handlers
