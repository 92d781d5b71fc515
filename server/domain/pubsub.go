package domain

import (
	"context"
	"log/slog"
	"sync"
)

// Topic は購読の宛先です。
type Topic string

// SessionTopic はセッション宛のトピック名を返します。
func SessionTopic(id SessionID) Topic {
	return Topic("session:" + id.String())
}

type Message struct {
	SessionID SessionID
	Data      []byte
}

// PubSub はプロセス内のトピック配送です。
type PubSub interface {
	Publish(ctx context.Context, topic Topic, msg Message)
	Subscribe(topic Topic) <-chan Message
	Unsubscribe(topic Topic, ch <-chan Message)
}

// SimplePubSub はチャネルベースの PubSub です。
// Publish はブロックせず、購読者のバッファが満杯ならそのメッセージを捨てます。
type SimplePubSub struct {
	mu         sync.RWMutex
	subs       map[Topic][]chan Message
	bufferSize int
}

var _ PubSub = (*SimplePubSub)(nil)

func NewSimplePubSub(bufferSize int) *SimplePubSub {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &SimplePubSub{
		subs:       make(map[Topic][]chan Message),
		bufferSize: bufferSize,
	}
}

func (p *SimplePubSub) Publish(ctx context.Context, topic Topic, msg Message) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, ch := range p.subs[topic] {
		select {
		case ch <- msg:
		default:
			slog.DebugContext(ctx, "pubsub: subscriber full, message dropped", "topic", topic)
		}
	}
}

func (p *SimplePubSub) Subscribe(topic Topic) <-chan Message {
	ch := make(chan Message, p.bufferSize)
	p.mu.Lock()
	p.subs[topic] = append(p.subs[topic], ch)
	p.mu.Unlock()
	return ch
}

// Unsubscribe は購読を解除してチャネルを閉じます。
func (p *SimplePubSub) Unsubscribe(topic Topic, ch <-chan Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	subs := p.subs[topic]
	for i, c := range subs {
		if c == ch {
			close(c)
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(p.subs, topic)
		return
	}
	p.subs[topic] = subs
}
