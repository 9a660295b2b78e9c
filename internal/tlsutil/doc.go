// Package tlsutil 提供出站连接共用的 TLS 配置，
// 用于规划器 HTTP 客户端与启用 TLS 的 Redis 连接（TLS 1.2+，仅 AEAD 密码套件）。
package tlsutil
