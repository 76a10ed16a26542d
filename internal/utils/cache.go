package utils

import (
	"fmt"
	"log"

	lru "github.com/hashicorp/golang-lru/v2"
)

// SentCache 记录已发送的瓶子消息，消息句柄 -> 瓶子 ID
// 用户引用回复某条已发送的瓶子消息时，可以省略瓶子 ID 直接评论。
// 有界 LRU，进程启动时创建，最旧的句柄自动淘汰。
type SentCache struct {
	lruCache *lru.Cache[string, uint]
}

// NewSentCache 创建指定容量的消息缓存
func NewSentCache(size int) *SentCache {
	l, err := lru.New[string, uint](size)
	if err != nil {
		log.Fatalf("Failed to create LRU cache: %v", err)
	}
	return &SentCache{lruCache: l}
}

func cacheKey(platform, messageID string) string {
	return fmt.Sprintf("%s:%s", platform, messageID)
}

// Record 记录一条已发送消息对应的瓶子
func (c *SentCache) Record(platform, messageID string, bottleID uint) {
	c.lruCache.Add(cacheKey(platform, messageID), bottleID)
}

// Lookup 查找消息句柄对应的瓶子 ID
func (c *SentCache) Lookup(platform, messageID string) (uint, bool) {
	return c.lruCache.Get(cacheKey(platform, messageID))
}

// Forget 删除某条消息的记录
func (c *SentCache) Forget(platform, messageID string) {
	c.lruCache.Remove(cacheKey(platform, messageID))
}

// Len 当前记录条数
func (c *SentCache) Len() int {
	return c.lruCache.Len()
}
