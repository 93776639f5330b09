package billing

import (
	"context"
	"fmt"
	"sync"

	ierr "membership_backend/internal/errors"
)

// Locker serialises read-modify-write cycles on a household's remote items.
// Every operation that reads item quantities and then writes them holds the
// payment profile's lock for the whole cycle.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

func profileLockKey(paymentProfileID uint) string {
	return fmt.Sprintf("payment_profile:%d", paymentProfileID)
}

// KeyedMutex is an in-process Locker. It only protects a single instance;
// deployments with several API replicas use the advisory lock backend.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	sem  chan struct{}
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedLock)}
}

func (m *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &keyedLock{sem: make(chan struct{}, 1)}
		m.locks[key] = l
	}
	l.refs++
	m.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-l.sem
				m.release(key, l)
			})
		}, nil
	case <-ctx.Done():
		m.release(key, l)
		return nil, ierr.WithError(ctx.Err()).
			WithMessagef("acquire lock %s", key).
			Mark(ierr.ErrSystem)
	}
}

func (m *KeyedMutex) release(key string, l *keyedLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, key)
	}
}
