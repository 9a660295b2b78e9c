// 版权所有 2024 OperatorNext Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 管理任务归档库的 GORM 连接池。

Open 按 config.DatabaseConfig 的驱动名选择 postgres、mysql 或
纯 Go sqlite 方言，PoolManager 负责连接池参数、后台健康检查与
带退避重试的事务执行。
*/
package database
