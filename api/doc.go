// Package api 定义 OperatorNext HTTP 接口的请求与响应类型。
//
// # 接口概览
//
//   - POST /api/tasks                       创建任务
//   - GET  /api/tasks                       任务列表
//   - GET  /api/tasks/{task_id}             任务状态
//   - GET  /api/tasks/{task_id}/stats       运行统计与元数据
//   - GET  /api/tasks/{task_id}/events      按序号轮询消息信封
//   - GET  /api/tasks/archive               已归档的终态任务
//   - GET  /api/ws/tasks/{task_id}          WebSocket 实时推送与回放
//
// 成功响应直接返回资源 JSON，错误统一为
// {success:false, error:{code,message,retryable}, timestamp} 信封。
//
// # 认证
//
// 配置了 server.api_keys 时需携带 X-API-Key 请求头；启用 JWT 时
// 使用 Authorization: Bearer <token>。
package api
