// 版权所有 2024 OperatorNext Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 提供 HTTP 服务器生命周期管理，支持非阻塞启动、
阻塞式运行与优雅关闭。

# 核心类型

  - Manager：持有 http.Server、net.Listener 与异步错误通道，
    提供 Start/Run/Shutdown 等生命周期方法。
  - Config：监听地址、读写超时、空闲超时、最大请求头大小与关闭超时。

# 主要能力

  - Run 阻塞直到上下文取消或服务异常，便于 errgroup 编排 API 与
    metrics 两个服务器。
  - BaseContext 继承进程上下文，关闭时 WebSocket 流处理器可及时退出。
  - 默认不设置写超时，避免切断长时间运行的任务事件流。
*/
package server
