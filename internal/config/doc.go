// Package config 负责加载 grinderd 的启动配置：YAML 文件、.env 与环境变量覆盖，
// 并在启动前统一校验。
package config
