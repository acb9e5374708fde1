package webqq

import (
	"context"

	"github.com/cnxysoft/DDBOT-WebQQ/requests"
	"github.com/cnxysoft/DDBOT-WebQQ/utils"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

const (
	retcodeOK          = 0
	retcodeNoMessage   = 102
	retcodeNeedRelogin = 103
	retcodeTooFast     = 108
	retcodePtWebQQ     = 116
	retcodeLostConn    = 121
)

func (s *Session) startPoll(life context.Context) {
	s.pollers.Inc()
	go func() {
		defer s.pollers.Dec()
		s.pollLoop(life)
	}()
}

// Polling 是否还有轮询 goroutine 在运行，Logout 后它们会在当前请求结束时退出
func (s *Session) Polling() bool {
	return s.pollers.Load() > 0
}

func (s *Session) pollLoop(life context.Context) {
	log := logger.WithField("uin", s.Uin)
	log.Debug("poll started")
	defer log.Debug("poll stopped")
	var attempt int
	for life.Err() == nil {
		body, err := s.pollOnce(life)
		if life.Err() != nil {
			// 已经离开这次登录，丢弃迟到的响应
			return
		}
		if err == nil {
			var stop bool
			stop, err = s.processPollResponse(life, body)
			if stop {
				return
			}
		}
		if err == nil {
			attempt = 0
			continue
		}
		attempt++
		var se *stageError
		if !errors.As(err, &se) {
			se = &stageError{stage: StagePoll, reason: ReasonProtocol, err: err}
		}
		if !s.raiseError(se.stage, se.reason, se.err, attempt) {
			s.goOffline(life, "poll abandoned: "+err.Error())
			return
		}
		if utils.Sleep(life, s.pollRetryDelay) != nil {
			return
		}
	}
}

func (s *Session) pollOnce(ctx context.Context) ([]byte, error) {
	tk := s.tokens()
	r, err := json.MarshalToString(map[string]interface{}{
		"clientid":   tk.ClientID,
		"psessionid": tk.PSessionID,
		"key":        0,
		"ids":        []string{},
	})
	if err != nil {
		return nil, err
	}
	var body []byte
	// 长轮询由服务器挂起，不设置超时
	opts := append(s.requestOptions(s.endpoints.channelReferer()), requests.TimeoutOption(0))
	err = requests.PostForm(ctx, s.endpoints.channel("poll2"), map[string]string{
		"r":          r,
		"clientid":   tk.ClientID,
		"psessionid": tk.PSessionID,
	}, &body, opts...)
	if err != nil {
		return nil, newStageError(StagePoll, ReasonTransport, err)
	}
	return body, nil
}

// processPollResponse 返回 stop 为 true 时轮询结束
func (s *Session) processPollResponse(life context.Context, body []byte) (stop bool, err error) {
	if !gjson.ValidBytes(body) {
		return false, newStageError(StagePoll, ReasonProtocol, errors.Wrapf(ErrProtocol, "poll response %q", body))
	}
	result := gjson.ParseBytes(body)
	retcode := result.Get("retcode").Int()
	switch retcode {
	case retcodeOK:
		for _, e := range decodePollResult(result.Get("result")) {
			s.dispatchInbound(life, e)
		}
	case retcodeNoMessage:
	case retcodePtWebQQ:
		if p := result.Get("p").String(); p != "" {
			s.cookies.Set(CookiePtWebQQ, p)
		}
	case retcodeLostConn, retcodeNeedRelogin:
		s.goOffline(life, (&RetcodeError{Api: "poll2", Retcode: retcode}).Error())
		return true, nil
	default:
		return false, newStageError(StagePoll, ReasonRetcode, &RetcodeError{Api: "poll2", Retcode: retcode})
	}
	return false, nil
}

func (s *Session) dispatchInbound(life context.Context, e *InboundEvent) {
	switch e.Kind {
	case KindGroupMessage:
		g := s.groups.ensure(e.FromUin, e.GroupCode, e.GroupNumber)
		s.GroupMessageEvent.dispatch(s, &GroupMessageEvent{
			Group:     g,
			SenderUin: e.SendUin,
			Sender:    g.FindMember(e.SendUin),
			Time:      e.Time,
			Fragments: e.Fragments,
		})
	case KindSysGroupMessage:
		if e.SubType == "group_join" && e.NewMember != "" {
			s.newGroupMember(life, e)
		}
	case KindKick:
		s.MessageEvent.dispatch(s, e)
		s.goOffline(life, "kicked: "+e.Reason)
		return
	case KindUnknown:
		logger.WithField("poll_type", e.PollType).WithField("raw", e.Raw).Debug("unknown poll type")
	}
	s.MessageEvent.dispatch(s, e)
}

// newGroupMember 刷新成员列表后发出 NewBuddyEvent
func (s *Session) newGroupMember(life context.Context, e *InboundEvent) {
	g := s.groups.ensure(e.FromUin, e.GroupCode, e.GroupNumber)
	if err := s.groups.UpdateGroupMember(life, g); err != nil {
		logger.WithField("gid", g.GID()).Errorf("update group member failed: %v", err)
	}
	buddy := g.FindMember(e.NewMember)
	if buddy == nil {
		buddy = &Buddy{Uin: e.NewMember}
	}
	s.NewBuddyEvent.dispatch(s, &NewBuddyEvent{Group: g, Buddy: buddy})
}
