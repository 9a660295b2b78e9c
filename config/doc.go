// Package config 提供 OperatorNext 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量 的顺序合并，环境变量通过结构体
// env tag 反射映射（前缀 OPERATORNEXT）。旧部署使用的 OPENAI_API_BASE、
// OPENAI_MODEL、OPENAI_API_KEY、BROWSER_CDP_URL 作为兼容回退。
package config
