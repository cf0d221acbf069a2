// Package api 暴露 grinderd 的只读状态接口：健康检查、共享市场状态与链信息、
// 最近的决策周期记录以及 Prometheus 指标。
package api
