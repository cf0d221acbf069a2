// Package grind 实现周期性的决策与执行流水线：轮换意图目录、为每个池子
// 选择候选操作并在链上模拟、汇总为批量操作、按法币成本预算进行门控，
// 最终以单笔交易提交。
package grind
