// Package test 提供测试用的假服务器
package test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

const (
	UIN      = "1234567"
	Password = "secret"
	Key      = "k1"
	GID1     = "3001"
	GID2     = "3002"
	Code1    = "4001"
	Code2    = "4002"
	Number1  = "10001"
	Number2  = "10002"
	Member1  = "5001"
	Member2  = "5002"
)

// Router 按路径分发请求并记录命中次数，未注册的路径返回404
type Router struct {
	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
	hits     map[string]int
	total    int
	requests []*http.Request
}

func NewServer(t testing.TB) (*httptest.Server, *Router) {
	r := &Router{
		handlers: make(map[string]http.HandlerFunc),
		hits:     make(map[string]int),
	}
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return ts, r
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	path := strings.TrimPrefix(req.URL.Path, "/")
	r.mu.Lock()
	r.hits[path]++
	r.total++
	r.requests = append(r.requests, req)
	h := r.handlers[path]
	r.mu.Unlock()
	if h == nil {
		http.NotFound(w, req)
		return
	}
	h(w, req)
}

// Handle 注册一个路径，path 不带前导 '/'
func (r *Router) Handle(path string, h http.HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[path] = h
}

// HandleString 固定返回 body
func (r *Router) HandleString(path string, body string) {
	r.Handle(path, func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(body))
	})
}

// HandleSequence 依次返回 bodies，用完之后一直返回最后一个
func (r *Router) HandleSequence(path string, bodies ...string) {
	var mu sync.Mutex
	var idx int
	r.Handle(path, func(w http.ResponseWriter, req *http.Request) {
		mu.Lock()
		body := bodies[idx]
		if idx < len(bodies)-1 {
			idx++
		}
		mu.Unlock()
		w.Write([]byte(body))
	})
}

// HandleLongPoll 依次返回 bodies，用完之后阻塞到请求被取消
//
// 阻塞前先读完请求体，否则 net/http 发现不了客户端断开，Server.Close 会一直等待
func (r *Router) HandleLongPoll(path string, bodies ...string) {
	var mu sync.Mutex
	var idx int
	r.Handle(path, func(w http.ResponseWriter, req *http.Request) {
		mu.Lock()
		if idx < len(bodies) {
			body := bodies[idx]
			idx++
			mu.Unlock()
			w.Write([]byte(body))
			return
		}
		mu.Unlock()
		Hang(w, req)
	})
}

// Hang 读完请求体后阻塞到客户端取消请求
func Hang(w http.ResponseWriter, req *http.Request) {
	io.Copy(io.Discard, req.Body)
	<-req.Context().Done()
}

func (r *Router) Hits(path string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hits[path]
}

func (r *Router) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// Requests 返回已收到请求的副本
func (r *Router) Requests() []*http.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*http.Request(nil), r.requests...)
}
