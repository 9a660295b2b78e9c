// Package sysmetrics 采样进程与系统的 CPU、内存使用情况。
//
// Collector.Sample 永不返回错误：某一组指标读取失败时，该组以
// {"error": "..."} 的形式出现在快照中，并记录一条 warn 日志。
// 数据来源为 /proc（github.com/prometheus/procfs）。
package sysmetrics
