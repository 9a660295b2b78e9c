// 版权所有 2024 OperatorNext Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 migration 管理任务归档库的 Schema，基于 golang-migrate 与内嵌 SQL。

migrations/ 目录按方言（postgres、mysql、sqlite）存放版本化的
up/down 脚本，当前只有 task_archive 一张表。DefaultMigrator 封装
golang-migrate 实例，CLI 为 operatornext migrate 子命令提供输出。
*/
package migration
