package acquire

import (
	"context"
	"net/http"

	"github.com/redis/go-redis/v9"
)

// Validators：HTTP 缓存校验字段
type Validators struct {
	ETag         string
	LastModified string
}

func ValidatorsFrom(h http.Header) Validators {
	return Validators{ETag: h.Get("ETag"), LastModified: h.Get("Last-Modified")}
}

func (v Validators) Empty() bool { return v.ETag == "" && v.LastModified == "" }

// Apply：写入条件请求头，返回是否写入了任何字段
func (v Validators) Apply(req *http.Request) bool {
	if v.ETag != "" {
		req.Header.Set("If-None-Match", v.ETag)
	}
	if v.LastModified != "" {
		req.Header.Set("If-Modified-Since", v.LastModified)
	}
	return !v.Empty()
}

// ValidatorCache：按 URL 保存上次下载的校验字段
type ValidatorCache interface {
	Get(ctx context.Context, url string) (Validators, bool, error)
	Put(ctx context.Context, url string, v Validators) error
}

const validatorKeyPrefix = "geojson:validators:"

// RedisValidators：以 Redis hash 保存，key 为 geojson:validators:<url>
type RedisValidators struct {
	rdb *redis.Client
}

func NewRedisValidators(rdb *redis.Client) *RedisValidators {
	return &RedisValidators{rdb: rdb}
}

func (c *RedisValidators) Get(ctx context.Context, url string) (Validators, bool, error) {
	m, err := c.rdb.HGetAll(ctx, validatorKeyPrefix+url).Result()
	if err != nil {
		return Validators{}, false, err
	}
	v := Validators{ETag: m["etag"], LastModified: m["last_modified"]}
	return v, !v.Empty(), nil
}

func (c *RedisValidators) Put(ctx context.Context, url string, v Validators) error {
	return c.rdb.HSet(ctx, validatorKeyPrefix+url, "etag", v.ETag, "last_modified", v.LastModified).Err()
}
