// 版权所有 2024 OperatorNext Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的服务指标采集能力，覆盖
HTTP、任务生命周期、WebSocket 消息与 Agent 依赖四个维度。

# 核心类型

  - Collector：指标收集器，使用 promauto 自动注册，按 namespace 隔离。

# 主要能力

  - HTTP 指标：请求总数、耗时、请求/响应体大小，状态码归类为 2xx/4xx 等。
  - 任务指标：创建数、进行中运行数、按终态统计的运行数与耗时、步骤数、
    按 error_type 统计的错误数。
  - 消息指标：实时发送与重放的消息数，按消息类型（step/result/error）分组。
  - Agent 依赖：规划器 LLM 请求与 Token 用量、浏览器动作、归档写入。
*/
package metrics
