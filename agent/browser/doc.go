// Copyright (c) OperatorNext Authors.
// Licensed under the MIT License.

/*
包 browser 提供基于远程 Chromium 的 agent.Agent 实现。

# 概述

LoopAgent 按 "读取页面 → 请求规划 → 执行动作" 循环运行，直到
规划器给出 done 动作或达到最大步数。每个步骤在执行动作前同步调用
OnStep，循环正常结束后调用一次 OnDone。

# 核心类型

  - Driver / ChromeDriver：基于 chromedp 远程分配器连接 CDP
    WebSocket（token 以查询参数附加），提供导航、点击、输入、
    滚动、后退、正文提取与页面状态读取。
  - Planner / OpenAIPlanner：OpenAI 兼容 chat completions 规划器，
    返回 JSON 规划；页面正文按 tiktoken 计数截断，可附带截图。
  - 动作类型：GoToURLAction、ClickElementAction、InputTextAction、
    ScrollAction、GoBackAction、ExtractContentAction、DoneAction。
  - Factory：按配置为每个任务创建独立会话的 agent.Factory。

# 页面元素

ChromeDriver 在读取状态前为可见的可交互元素写入 data-on-idx
序号属性，ExtractPage 使用 x/net/html 解析出元素列表，点击与输入
均以该序号定位。
*/
package browser
