package chat

import (
	"context"
	"log"
	"sync"

	"github.com/google/uuid"
)

const subscriberBufferSize = 64

// Broadcaster fans appended messages out to live subscribers of a thread.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan Message
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subscribers: make(map[string]map[string]chan Message)}
}

// Subscribe registers for messages of threadID until ctx is done.
func (b *Broadcaster) Subscribe(ctx context.Context, threadID string) (<-chan Message, string) {
	subID := uuid.NewString()
	ch := make(chan Message, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[threadID]; !ok {
		b.subscribers[threadID] = make(map[string]chan Message)
	}
	b.subscribers[threadID][subID] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.Unsubscribe(threadID, subID)
	}()
	return ch, subID
}

// Publish never blocks; a full subscriber misses the message. Sends happen
// under the read lock so Unsubscribe cannot close a channel mid-send.
func (b *Broadcaster) Publish(threadID string, msg Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers[threadID] {
		select {
		case ch <- msg:
		default:
			log.Printf("chat: dropped message %d for slow subscriber on thread %s", msg.ID, threadID)
		}
	}
}

func (b *Broadcaster) Unsubscribe(threadID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[threadID]
	if !ok {
		return
	}
	ch, ok := subs[subID]
	if !ok {
		return
	}
	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, threadID)
	}
}

// Subscribers counts live subscribers of threadID.
func (b *Broadcaster) Subscribers(threadID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[threadID])
}
