// Copyright (c) OperatorNext Authors.
// Licensed under the MIT License.

/*
Package main 提供 OperatorNext 服务端程序入口。

# 概述

cmd/operatornext 装配任务服务及其依赖，对外提供 REST 与 WebSocket
任务流接口，以及数据库迁移、健康检查和版本查询等子命令。

# 核心类型

  - Server      — 持有任务服务、Redis 日志、归档存储，管理 API 与 Metrics 双端口
  - Middleware  — HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve、migrate（golang-migrate 版本化迁移）、version、health
  - 中间件链：Recovery、RequestID、OTelTracing、MetricsMiddleware、
    RequestLogger、SecurityHeaders、StreamDeadlines、CORS（rs/cors）、
    JWTAuth、APIKeyAuth、RateLimiter
  - 任务日志：task.journal=redis 时通过 internal/cache 写入 Redis 列表
  - 任务归档：task.archive_enabled 时打开 internal/database 连接池，
    database.auto_migrate 控制启动时是否建表
  - 优雅关闭：SIGINT/SIGTERM 取消上下文，errgroup 等待两个服务器退出，
    随后关闭遥测、Redis 与数据库
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
