// Copyright (c) OperatorNext Authors.
// Licensed under the MIT License.

/*
包 agent 定义任务服务消费的浏览器 Agent 契约。

# 概述

任务服务不关心 Agent 如何推理与操作浏览器，只依赖本包声明的
最小能力集：以任务描述与两个钩子构造 Agent，先校验浏览器连通性，
再运行到结束。运行期间 Agent 在自己的 goroutine 中同步调用
OnStep（每个步骤一次）与 OnDone（正常结束时恰好一次）。

# 核心类型

  - State：浏览器状态快照（url、标题、内容、可交互元素、截图）。
  - Action：动作能力接口，提供 Kind 与参数视图。
  - Output：单步规划输出（Brain + 动作列表）。
  - History：运行历史，提供 IsDone 与 FinalResult。
  - Hooks：步骤与完成钩子。
  - Agent / Factory：运行契约与构造工厂。
*/
package agent
