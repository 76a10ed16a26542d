// Package platform 维护聊天平台适配器的注册表。
// 适配器包在 init 中调用 Register（database/sql 驱动的注册方式），
// main 装配好核心服务后把它们交给每个适配器运行。
package platform

import (
	"context"
	"sync"

	"driftbottle/internal/bulletin"
	"driftbottle/internal/scheduler"
)

// Deps 装配完成的核心服务
type Deps struct {
	Bulletin  *bulletin.Service
	Scheduler *scheduler.Scheduler
}

// Adapter 一个平台接入点：建立连接、调用 Scheduler.Register 登记会话、
// 把分词后的指令交给 Bulletin.Dispatch。Run 阻塞到连接断开或 ctx 取消。
type Adapter interface {
	Name() string
	Run(ctx context.Context, deps Deps) error
}

var (
	mu       sync.Mutex
	adapters []Adapter
)

// Register 登记一个适配器
func Register(a Adapter) {
	mu.Lock()
	defer mu.Unlock()
	adapters = append(adapters, a)
}

// All 返回已登记的全部适配器（副本）
func All() []Adapter {
	mu.Lock()
	defer mu.Unlock()
	out := make([]Adapter, len(adapters))
	copy(out, adapters)
	return out
}
