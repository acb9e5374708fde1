package webqq

import (
	"runtime/debug"
	"sync"
	"time"
)

// EventHandle 一类事件的订阅者列表，事件在发出它的 goroutine 中同步分发
type EventHandle[T any] struct {
	mu       sync.RWMutex
	handlers []func(s *Session, event T)
}

func (handle *EventHandle[T]) Subscribe(handler func(s *Session, event T)) {
	handle.mu.Lock()
	defer handle.mu.Unlock()
	handle.handlers = append(handle.handlers, handler)
}

func (handle *EventHandle[T]) snapshot() []func(s *Session, event T) {
	handle.mu.RLock()
	defer handle.mu.RUnlock()
	return handle.handlers
}

func (handle *EventHandle[T]) dispatch(s *Session, event T) {
	for _, handler := range handle.snapshot() {
		func() {
			defer func() {
				if pan := recover(); pan != nil {
					logger.Errorf("event handler panic: %v\n%s", pan, debug.Stack())
				}
			}()
			handler(s, event)
		}()
	}
}

// ErrorHandle 错误事件的订阅者，任意一个订阅者返回 true 即表示重试
type ErrorHandle struct {
	mu       sync.RWMutex
	handlers []func(s *Session, event *ErrorEvent) bool
}

func (handle *ErrorHandle) Subscribe(handler func(s *Session, event *ErrorEvent) bool) {
	handle.mu.Lock()
	defer handle.mu.Unlock()
	handle.handlers = append(handle.handlers, handler)
}

// dispatch 没有订阅者时返回 false
func (handle *ErrorHandle) dispatch(s *Session, event *ErrorEvent) bool {
	handle.mu.RLock()
	handlers := handle.handlers
	handle.mu.RUnlock()
	var retry bool
	for _, handler := range handlers {
		func() {
			defer func() {
				if pan := recover(); pan != nil {
					logger.Errorf("error handler panic: %v\n%s", pan, debug.Stack())
				}
			}()
			if handler(s, event) {
				retry = true
			}
		}()
	}
	return retry
}

type LoginEvent struct {
	Uin  string
	Nick string
}

// VerifyImageEvent 需要输入验证码时发出，Image 为 jpeg 图片
type VerifyImageEvent struct {
	Image []byte
}

type OfflineEvent struct {
	Reason string
}

type ErrorEvent struct {
	Stage  Stage
	Reason Reason
	Err    error
	// Attempt 从1开始，同一次登录或同一个轮询周期内连续出错的次数
	Attempt int
}

// GroupNumberEvent 群号查询完成
type GroupNumberEvent struct {
	Group *Group
}

type NewBuddyEvent struct {
	Group *Group
	Buddy *Buddy
}

type GroupMessageEvent struct {
	Group     *Group
	SenderUin string
	// Sender 群成员列表尚未加载时为 nil
	Sender    *Buddy
	Time      time.Time
	Fragments []Fragment
}
