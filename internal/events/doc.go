// Package events 将决策周期中的关键结果以 JSON 事件的形式对外发布。
// 支持 memory、redis (list) 与 rabbitmq (exchange) 三种发布驱动，none 表示不发布。
package events
