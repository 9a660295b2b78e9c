// 版权所有 2024 OperatorNext Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 管理 Redis 连接，为任务事件日志提供列表读写。

# 核心类型

  - Manager：持有 go-redis 客户端，启动时 Ping 验证连接，
    可选后台健康检查，提供 AppendList/ListRange/Delete/Ping。
  - Config：地址、密码、Key 前缀、连接池与 TLS 开关。

AppendList 在一个事务管道中执行 RPUSH 与 EXPIRE，
保证列表存在时总带有过期时间。
*/
package cache
