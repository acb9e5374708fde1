// Package webqq 实现 WebQQ 协议的登录、消息轮询、群管理以及群消息发送
package webqq

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cnxysoft/DDBOT-WebQQ/requests"
	"github.com/cnxysoft/DDBOT-WebQQ/utils"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/atomic"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var logger = utils.GetModuleLogger("webqq")

// VerifyCodeSolver 自动识别登录验证码，decaptcha.Decoder 实现了它
type VerifyCodeSolver interface {
	SolveVerifyCode(ctx context.Context, image []byte) (string, error)
}

// VerifyCode 登录时服务器要求的验证码
type VerifyCode struct {
	// ID check 返回的验证码标识
	ID    string
	Uin   []byte
	Image []byte
}

type tokens struct {
	ClientID   string
	PSessionID string
	VFWebQQ    string
	PtWebQQ    string
}

type Session struct {
	Uin      string
	password string
	clientID string

	endpoints      Endpoints
	client         *http.Client
	requestTimeout time.Duration
	pollRetryDelay time.Duration
	sendRetryDelay time.Duration
	sendQueueSize  int
	solver         VerifyCodeSolver
	onlineStatus   OnlineStatus

	mu         sync.RWMutex
	status     Status
	nick       string
	psessionID string
	vfwebqq    string
	verifyCode *VerifyCode
	lifeCtx    context.Context
	lifeCancel context.CancelFunc

	msgID     atomic.Int64
	pollers   atomic.Int32
	cookies   *CookieJar
	groups    *GroupManager
	sendQueue *sendQueue

	LoginEvent        EventHandle[*LoginEvent]
	VerifyImageEvent  EventHandle[*VerifyImageEvent]
	OfflineEvent      EventHandle[*OfflineEvent]
	ErrorEvent        ErrorHandle
	GroupNumberEvent  EventHandle[*GroupNumberEvent]
	NewBuddyEvent     EventHandle[*NewBuddyEvent]
	GroupMessageEvent EventHandle[*GroupMessageEvent]
	// MessageEvent 每一条轮询到的消息都会发出，包括已经单独分发过的群消息
	MessageEvent EventHandle[*InboundEvent]
}

type Option func(s *Session)

func WithEndpoints(e Endpoints) Option {
	return func(s *Session) {
		s.endpoints = e
	}
}

// WithHTTPClient 替换使用的 http.Client，它不应该自动跟随重定向
func WithHTTPClient(c *http.Client) Option {
	return func(s *Session) {
		s.client = c
	}
}

// WithVerifyCodeSolver 设置后登录遇到验证码时自动识别，不再返回 NeedVerifyCode
func WithVerifyCodeSolver(solver VerifyCodeSolver) Option {
	return func(s *Session) {
		s.solver = solver
	}
}

func WithRequestTimeout(d time.Duration) Option {
	return func(s *Session) {
		s.requestTimeout = d
	}
}

func WithPollRetryDelay(d time.Duration) Option {
	return func(s *Session) {
		s.pollRetryDelay = d
	}
}

func WithSendRetryDelay(d time.Duration) Option {
	return func(s *Session) {
		s.sendRetryDelay = d
	}
}

func WithSendQueueSize(size int) Option {
	return func(s *Session) {
		s.sendQueueSize = size
	}
}

// WithOnlineStatus 登录时使用的在线状态
func WithOnlineStatus(status OnlineStatus) Option {
	return func(s *Session) {
		s.onlineStatus = status
	}
}

func NewSession(uin string, password string, opts ...Option) *Session {
	s := &Session{
		Uin:            uin,
		password:       password,
		clientID:       strconv.Itoa(rand.Intn(90000000) + 10000000),
		endpoints:      DefaultEndpoints,
		requestTimeout: time.Second * 30,
		pollRetryDelay: time.Second * 5,
		sendRetryDelay: time.Second * 2,
		sendQueueSize:  64,
		onlineStatus:   OnlineStatusOnline,
		status:         StatusLoggedOut,
		cookies:        NewCookieJar(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	s.msgID.Store(rand.Int63n(1000) * 10000)
	s.groups = newGroupManager(s.endpoints, s.requestOptions, s.tokens, s.verifyImage, s.dispatchGroupNumber)
	s.sendQueue = newSendQueue(s.sendQueueSize, s.sendGroupMessage)
	return s
}

func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Session) Online() bool {
	return s.Status() == StatusLoggedIn
}

func (s *Session) Nick() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nick
}

// Version 协议版本
func (s *Session) Version() string {
	return version
}

func (s *Session) ClientID() string {
	return s.clientID
}

// PendingVerifyCode 等待输入的验证码，不在 AwaitingVerifyCode 状态时为 nil
func (s *Session) PendingVerifyCode() *VerifyCode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.status != StatusAwaitingVerifyCode {
		return nil
	}
	return s.verifyCode
}

// Cookies 当前 Cookie 头的快照
func (s *Session) Cookies() string {
	return s.cookies.Render()
}

func (s *Session) Groups() *GroupManager {
	return s.groups
}

func (s *Session) String() string {
	return fmt.Sprintf("Session(%v, %v)", s.Uin, s.Status())
}

func (s *Session) tokens() tokens {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return tokens{
		ClientID:   s.clientID,
		PSessionID: s.psessionID,
		VFWebQQ:    s.vfwebqq,
		PtWebQQ:    s.cookies.Get(CookiePtWebQQ),
	}
}

func (s *Session) nextMsgID() int64 {
	return s.msgID.Inc()
}

// requestOptions 每个请求在构造时取一次 cookie 快照
func (s *Session) requestOptions(referer string) []requests.Option {
	opts := []requests.Option{
		requests.WithClient(s.client),
		requests.TimeoutOption(s.requestTimeout),
		requests.AddUAOption(),
		requests.RawCookieOption(s.cookies.Render()),
	}
	if referer != "" {
		opts = append(opts, requests.RefererOption(referer))
	}
	return opts
}

// beginEpochLocked 开始新的登录周期，之前周期的轮询和请求都会被取消，调用时需持有 s.mu
func (s *Session) beginEpochLocked() context.Context {
	s.endEpochLocked()
	s.lifeCtx, s.lifeCancel = context.WithCancel(context.Background())
	return s.lifeCtx
}

func (s *Session) endEpochLocked() {
	if s.lifeCancel != nil {
		s.lifeCancel()
		s.lifeCancel = nil
	}
}

// transition 只有 life 仍是当前周期时才修改状态
func (s *Session) transition(life context.Context, to Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if life.Err() != nil || s.lifeCtx != life {
		return false
	}
	s.status = to
	return true
}

// lifeContext 返回当前周期的 context，没有登录时返回已取消的 context
func (s *Session) lifeContext() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lifeCtx == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	return s.lifeCtx
}

// mergeContext 任意一个结束时返回的 context 都会结束
func mergeContext(ctx context.Context, life context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(life, cancel)
	return merged, func() {
		stop()
		cancel()
	}
}

// raiseError 询问订阅者是否重试
func (s *Session) raiseError(stage Stage, reason Reason, err error, attempt int) bool {
	retry := s.ErrorEvent.dispatch(s, &ErrorEvent{
		Stage:   stage,
		Reason:  reason,
		Err:     err,
		Attempt: attempt,
	})
	logger.WithField("stage", stage.String()).
		WithField("reason", reason.String()).
		WithField("attempt", attempt).
		WithField("retry", retry).
		Errorf("webqq error: %v", err)
	return retry
}

// goOffline 已登录时转入 Offline 并通知订阅者
func (s *Session) goOffline(life context.Context, reason string) {
	s.mu.Lock()
	if s.lifeCtx != life || s.status != StatusLoggedIn {
		s.mu.Unlock()
		return
	}
	s.status = StatusOffline
	s.endEpochLocked()
	s.mu.Unlock()
	logger.WithField("reason", reason).Warn("webqq offline")
	s.OfflineEvent.dispatch(s, &OfflineEvent{Reason: reason})
}

func (s *Session) dispatchGroupNumber(g *Group) {
	s.GroupNumberEvent.dispatch(s, &GroupNumberEvent{Group: g})
}

func timestamp() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10)
}

func randomFloat() string {
	return strconv.FormatFloat(rand.Float64(), 'f', 16, 64)
}
