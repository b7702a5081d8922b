package broadcast

import (
	"sync"

	"github.com/qs3c/research_go_server/internal/model"
)

// 每个订阅者的事件缓冲。消费太慢时事件被丢弃，发布方永不阻塞。
const subscriberBuffer = 16

// Broadcaster 把单个任务的进度事件扇出给零个或多个订阅者。
// 任务终态后话题关闭，订阅通道随之关闭；之后的订阅立刻结束，不回放历史。
type Broadcaster struct {
	mu     sync.RWMutex
	topics map[string]map[chan model.ProgressEvent]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		topics: make(map[string]map[chan model.ProgressEvent]struct{}),
	}
}

// Open 注册任务话题，在任务创建时调用
func (b *Broadcaster) Open(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.topics[jobID]; !ok {
		b.topics[jobID] = make(map[chan model.ProgressEvent]struct{})
	}
}

// Subscribe 订阅任务的事件流。返回的取消函数可以重复调用。
// 话题不存在或已关闭时返回已关闭的通道。
func (b *Broadcaster) Subscribe(jobID string) (<-chan model.ProgressEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.topics[jobID]
	if !ok {
		ch := make(chan model.ProgressEvent)
		close(ch)
		return ch, func() {}
	}

	ch := make(chan model.ProgressEvent, subscriberBuffer)
	subs[ch] = struct{}{}

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		// 话题关闭时通道已经被 CloseTopic 关掉了
		subs, ok := b.topics[jobID]
		if !ok {
			return
		}
		if _, ok := subs[ch]; ok {
			delete(subs, ch)
			close(ch)
		}
	}

	return ch, cancel
}

// Publish 向任务的所有订阅者推送事件。没有订阅者时事件被丢弃。
// 通道发送在读锁内进行，与 CloseTopic 的关闭互斥。
func (b *Broadcaster) Publish(ev model.ProgressEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.topics[ev.JobID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// CloseTopic 关闭任务话题，所有订阅通道被关闭并释放
func (b *Broadcaster) CloseTopic(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.topics[jobID]
	if !ok {
		return
	}
	for ch := range subs {
		close(ch)
	}
	delete(b.topics, jobID)
}

// SubscriberCount 当前订阅者数量
func (b *Broadcaster) SubscriberCount(jobID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[jobID])
}
