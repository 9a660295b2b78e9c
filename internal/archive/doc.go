// Copyright (c) OperatorNext Authors.
// Licensed under the MIT License.

// Package archive 把进入终态的任务写入关系库 task_archive 表，
// 供进程重启后通过 GET /api/tasks/archive 查询历史记录。
// 表结构由 internal/migration 的版本化 SQL 管理，开发环境也可
// 通过 Store.AutoMigrate 直接建表。
package archive
