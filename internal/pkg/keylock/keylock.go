package keylock

import (
	"hash/fnv"
	"sync"
)

// KeyLock 按键互斥锁，不同键之间互不阻塞
// 用固定数量的分段锁避免为每个键维护一把锁带来的内存增长
type KeyLock struct {
	shards []sync.Mutex
	mask   uint32
}

const defaultShards = 256

// New 创建键锁，shards 会向上取整到2的幂，<=0 时取默认值
func New(shards int) *KeyLock {
	if shards <= 0 {
		shards = defaultShards
	}
	n := 1
	for n < shards {
		n <<= 1
	}
	return &KeyLock{
		shards: make([]sync.Mutex, n),
		mask:   uint32(n - 1),
	}
}

// Lock 锁住 key 所在的分段
func (l *KeyLock) Lock(key string) {
	l.shards[l.index(key)].Lock()
}

// Unlock 释放 key 所在的分段
func (l *KeyLock) Unlock(key string) {
	l.shards[l.index(key)].Unlock()
}

func (l *KeyLock) index(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() & l.mask
}
