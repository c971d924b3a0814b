// Package cache 缓存类型与键常量
package cache

import "time"

const (
	// KeyWorkerHeartbeat Worker 心跳键前缀
	KeyWorkerHeartbeat = "kanchi:worker_heartbeat:"

	// TTLWorkerHeartbeat 心跳键过期时间
	// 略大于两个心跳周期，Worker 失联后键自动消失
	TTLWorkerHeartbeat = 90 * time.Second
)
