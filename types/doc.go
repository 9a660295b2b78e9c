// Copyright (c) OperatorNext Authors.
// Licensed under the MIT License.

/*
Package types 提供 OperatorNext 服务的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 task、api、cmd 等上层
模块提供统一的错误码与 Context 传播约定。

# 核心类型

  - Error / ErrorCode — 结构化错误，含 HTTP 状态码、Retryable 标记与 Cause
  - WithRequestID / WithSubject / WithTaskID — Context 值传播

# 使用示例

	err := types.NewError(types.ErrTaskNotFound, "task not found").
	    WithHTTPStatus(http.StatusNotFound)
*/
package types
