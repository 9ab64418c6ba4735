package events

import (
	"sync"
)

const subscriberBuffer = 100

// Broker 按 Session 保存事件历史并向订阅者广播
type Broker struct {
	mu          sync.RWMutex
	history     map[string][]Event
	subscribers map[string][]chan Event
}

// NewBroker 创建 Broker
func NewBroker() *Broker {
	return &Broker{
		history:     make(map[string][]Event),
		subscribers: make(map[string][]chan Event),
	}
}

// Publish 追加事件并通知订阅者；订阅者缓冲已满时丢弃，历史中仍可查到
func (b *Broker) Publish(e Event) {
	b.mu.Lock()
	b.history[e.SessionID] = append(b.history[e.SessionID], e)
	subs := make([]chan Event, len(b.subscribers[e.SessionID]))
	copy(subs, b.subscribers[e.SessionID])
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// History 返回 Seq 大于 after 的事件
func (b *Broker) History(sessionID string, after uint64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Event
	for _, e := range b.history[sessionID] {
		if e.Seq > after {
			out = append(out, e)
		}
	}
	return out
}

// Subscribe 订阅某个 Session 的新事件；返回的函数取消订阅并关闭通道
func (b *Broker) Subscribe(sessionID string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	b.subscribers[sessionID] = append(b.subscribers[sessionID], ch)

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.subscribers[sessionID]
			for i, sub := range subs {
				if sub == ch {
					b.subscribers[sessionID] = append(subs[:i], subs[i+1:]...)
					close(ch)
					return
				}
			}
		})
	}
	return ch, unsubscribe
}

// Forget 删除 Session 的历史并关闭其全部订阅
func (b *Broker) Forget(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.history, sessionID)
	for _, ch := range b.subscribers[sessionID] {
		close(ch)
	}
	delete(b.subscribers, sessionID)
}
