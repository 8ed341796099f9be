// 包 utils：外部存储连接工具，统一从环境变量读取 Redis 与 Postgres 连接参数
package utils

import (
	"os"
	"strconv"

	"github.com/redis/go-redis/v9"

	"chinamap/internal/logger"
)

// RedisAddrFromEnv：REDIS_HOST/REDIS_PORT，默认 127.0.0.1:6379
func RedisAddrFromEnv() string {
	host := os.Getenv("REDIS_HOST")
	if host == "" {
		host = "127.0.0.1"
	}
	port := os.Getenv("REDIS_PORT")
	if port == "" {
		port = "6379"
	}
	return host + ":" + port
}

// OpenRedisFromEnv：从环境变量打开 Redis 客户端，支持 REDIS_DB 选择
// 约束：REDIS_DB 非法或为负时回退到 0；只创建客户端，不做连通性检查
func OpenRedisFromEnv() *redis.Client {
	addr := RedisAddrFromEnv()
	db := 0
	if n, err := strconv.Atoi(os.Getenv("REDIS_DB")); err == nil && n >= 0 {
		db = n
	}
	logger.L().Debug("redis_env", "addr", addr, "db", db)
	return redis.NewClient(&redis.Options{Addr: addr, Password: os.Getenv("REDIS_PASS"), DB: db})
}
