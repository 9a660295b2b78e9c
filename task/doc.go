// Copyright (c) OperatorNext Authors.
// Licensed under the MIT License.

/*
包 task 实现浏览器任务的生命周期与实时事件流。

# 概述

一个任务经历 pending → running → completed/failed。客户端连接
WebSocket 时，Service 先重放已缓存的步骤消息；任务未开始则创建
Agent、校验远程浏览器并运行。Agent 在自己的 goroutine 中同步触发
步骤与完成钩子，CallbackManager 把它们转换为序号连续的消息信封，
缓存用于重放并投递到 Queue，MessageProcessor 按入队顺序写入传输层。

# 核心类型

  - Service：任务注册表与运行编排，提供 Create/Get/List/Stats/Events/Run。
  - CallbackManager：把 Agent 钩子转换为 step/result 消息并更新统计。
  - ErrorHandler：把 error 转换为结构化 ErrorMessage，识别远程浏览器
    连接失败并标记为不可恢复，同时累计 error_count。
  - Queue / MessageProcessor：线程安全的无界 FIFO 与单消费者发送循环。
  - Journal：按序号读取事件的日志，内存实现与 Redis 实现。

# 消息信封

所有消息以 {type, data, timestamp, session_id, sequence, metadata}
信封发送。信封在生成时只序列化一次，实时发送与重放使用同一份字节。
step、result 与终态 error 共用一个按任务递增的序号计数器。
*/
package task
