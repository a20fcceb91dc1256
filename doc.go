// Package matchkit 是婚恋场景的每日推荐服务。
//
// 设计要点：
//   - Pipeline-first: 单用户计算由 Node 串联（Recall → Filter → Rank → ReRank），节点由 YAML 配置组装
//   - 预计算: 每天批量为全部用户算好推荐并落库，查询只读结果，缺失时异步触发计算
//   - 任务化: 分发、计算、理由生成通过消息队列解耦，失败重试，耗尽后进入死信队列
//
// 入口见 cmd/matchkit，各阶段实现见 recall、filter、rank、rerank、jobs、persist 包。
package matchkit
