package gcd

import (
	"net"
	"testing"
	"time"
)

// requireRedis skips the calling test unless a Redis instance is reachable
// on localhost:6379, the same connectivity check the teacher framework uses
// before exercising its own Redis-backed components.
func requireRedis(t *testing.T) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping redis-backed test in short mode")
	}
	if !isRedisReachable() {
		t.Skip("redis not available at localhost:6379")
	}
}

func isRedisReachable() bool {
	conn, err := net.DialTimeout("tcp", "localhost:6379", time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
