// Package bus 封装事件总线端点。
//
// 对核心而言总线只是不透明的订阅/发布端点：发送端从 SUB 套接字
// 收投递任务，监控端把结构化事件发到 PUB 套接字。发布是尽力而为，
// 失败由调用方记录日志但不阻断处理。
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-zeromq/zmq4"
)

// Subscriber 任务订阅端点。
type Subscriber interface {
	// Recv 阻塞等待下一条消息的原始字节。
	// 返回错误意味着传输层故障，对工作进程是致命的。
	Recv() ([]byte, error)
	Close() error
}

// Publisher 事件发布端点，需要支持并发 Publish。
type Publisher interface {
	Publish(v interface{}) error
	Close() error
}

// ZMQSubscriber 基于 ZeroMQ SUB 套接字的订阅实现，订阅过滤为空串（全收）。
type ZMQSubscriber struct {
	socket zmq4.Socket
}

// NewSubscriber 连接订阅端点。
func NewSubscriber(ctx context.Context, endpoint string) (*ZMQSubscriber, error) {
	socket := zmq4.NewSub(ctx)
	if err := socket.Dial(endpoint); err != nil {
		return nil, fmt.Errorf("dial sub endpoint %s: %w", endpoint, err)
	}
	if err := socket.SetOption(zmq4.OptionSubscribe, ""); err != nil {
		socket.Close()
		return nil, fmt.Errorf("subscribe all: %w", err)
	}
	return &ZMQSubscriber{socket: socket}, nil
}

// Recv 实现 Subscriber
func (s *ZMQSubscriber) Recv() ([]byte, error) {
	msg, err := s.socket.Recv()
	if err != nil {
		return nil, fmt.Errorf("zmq recv: %w", err)
	}
	return msg.Bytes(), nil
}

// Close 实现 Subscriber
func (s *ZMQSubscriber) Close() error {
	return s.socket.Close()
}

// ZMQPublisher 基于 ZeroMQ PUB 套接字的发布实现。
// 内部加锁，多个监控协程可并发发布。
type ZMQPublisher struct {
	mu     sync.Mutex
	socket zmq4.Socket
}

// NewPublisher 连接发布端点。
func NewPublisher(ctx context.Context, endpoint string) (*ZMQPublisher, error) {
	socket := zmq4.NewPub(ctx)
	if err := socket.Dial(endpoint); err != nil {
		return nil, fmt.Errorf("dial pub endpoint %s: %w", endpoint, err)
	}
	return &ZMQPublisher{socket: socket}, nil
}

// Publish 将 v 序列化为 JSON 后发送。
func (p *ZMQPublisher) Publish(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.socket.Send(zmq4.NewMsg(data)); err != nil {
		return fmt.Errorf("zmq send: %w", err)
	}
	return nil
}

// Close 实现 Publisher
func (p *ZMQPublisher) Close() error {
	return p.socket.Close()
}
