// Copyright (c) OperatorNext Authors.
// Licensed under the MIT License.

/*
Package testutil 提供 OperatorNext 测试的共享工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 通道等待: WaitForChannel
  - 信封工具: DecodeEnvelopes / AssertEnvelopes（类型与连续序号）/ EnvelopeData
  - 数据工具: MustParseJSON

# 子包

  - testutil/mocks: MockAgent / MockFactory（脚本化 Agent）与
    RecordingTransport（记录发送内容，可注入失败）
  - testutil/fixtures: 浏览器状态、模型输出与运行历史的测试数据
*/
package testutil
