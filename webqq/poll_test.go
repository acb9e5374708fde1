package webqq

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/cnxysoft/DDBOT-WebQQ/internal/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

var groupMessageBody = fmt.Sprintf(`{"retcode":0,"result":[{"poll_type":"group_message","value":{"msg_id":9527,"from_uin":%v,"to_uin":%v,"msg_id2":1,"msg_type":43,"reply_ip":1,"group_code":%v,"send_uin":%v,"seq":12,"time":1360000000,"info_seq":%v,"content":[["font",{"size":10,"color":"000000","style":[0,0,0],"name":"宋体"}],"hello ",["face",14],"world"]}}]}`,
	test.GID1, test.UIN, test.Code1, test.Member1, test.Number1)

func TestPollGroupMessage(t *testing.T) {
	ch := make(chan *GroupMessageEvent, 1)
	s, _ := newLoggedInSession(t, func(s *Session, router *test.Router) {
		s.GroupMessageEvent.Subscribe(func(s *Session, event *GroupMessageEvent) {
			ch <- event
		})
	}, `{"retcode":102,"errmsg":""}`, groupMessageBody)

	event := waitFor(t, ch)
	require.NotNil(t, event)
	assert.Equal(t, test.GID1, event.Group.GID())
	assert.Equal(t, test.Code1, event.Group.Code())
	assert.Equal(t, test.Number1, event.Group.Number())
	assert.Equal(t, test.Member1, event.SenderUin)
	assert.Nil(t, event.Sender)
	assert.Equal(t, time.Unix(1360000000, 0), event.Time)
	require.Len(t, event.Fragments, 4)
	assert.Equal(t, &TextFragment{Text: "hello "}, event.Fragments[1])
	assert.Equal(t, &FaceFragment{ID: 14}, event.Fragments[2])
	assert.Equal(t, &TextFragment{Text: "world"}, event.Fragments[3])

	assert.Same(t, event.Group, s.FindGroup(test.GID1))
	assert.Same(t, event.Group, s.FindGroupByNumber(test.Number1))
	assert.Equal(t, StatusLoggedIn, s.Status())
}

func TestPollMessageEvent(t *testing.T) {
	body := `{"retcode":0,"result":[
		{"poll_type":"buddies_status_change","value":{"uin":111,"status":"away","client_type":1}},
		{"poll_type":"message","value":{"from_uin":222,"to_uin":1,"time":1360000001,"content":["hi"]}},
		{"poll_type":"something_new","value":{}}
	]}`
	ch := make(chan *InboundEvent, 3)
	newLoggedInSession(t, func(s *Session, router *test.Router) {
		s.MessageEvent.Subscribe(func(s *Session, event *InboundEvent) {
			ch <- event
		})
	}, body)

	e := waitFor(t, ch)
	assert.Equal(t, KindStatusChange, e.Kind)
	assert.Equal(t, "111", e.FromUin)
	assert.Equal(t, "away", e.Status)

	e = waitFor(t, ch)
	assert.Equal(t, KindBuddyMessage, e.Kind)
	assert.Equal(t, "222", e.SendUin)
	assert.Equal(t, []Fragment{&TextFragment{Text: "hi"}}, e.Fragments)

	e = waitFor(t, ch)
	assert.Equal(t, KindUnknown, e.Kind)
	assert.Equal(t, "something_new", e.PollType)
}

func TestPollPtWebQQUpdate(t *testing.T) {
	s, _ := newLoggedInSession(t, nil, `{"retcode":116,"p":"newpw"}`)
	assert.Eventually(t, func() bool {
		return s.cookies.Get(CookiePtWebQQ) == "newpw"
	}, time.Second*5, time.Millisecond*10)
	assert.Equal(t, StatusLoggedIn, s.Status())
}

func TestPollLostConnection(t *testing.T) {
	ch := make(chan *OfflineEvent, 1)
	s, router := newLoggedInSession(t, func(s *Session, router *test.Router) {
		s.OfflineEvent.Subscribe(func(s *Session, event *OfflineEvent) {
			ch <- event
		})
	}, `{"retcode":121,"t":"0"}`)

	event := waitFor(t, ch)
	assert.Contains(t, event.Reason, "121")
	assert.Equal(t, StatusOffline, s.Status())
	assert.Eventually(t, func() bool {
		return !s.Polling()
	}, time.Second*5, time.Millisecond*10)
	assert.Equal(t, 1, router.Hits("channel/poll2"))
}

func TestPollKick(t *testing.T) {
	ch := make(chan *OfflineEvent, 1)
	s, _ := newLoggedInSession(t, func(s *Session, router *test.Router) {
		s.OfflineEvent.Subscribe(func(s *Session, event *OfflineEvent) {
			ch <- event
		})
	}, `{"retcode":0,"result":[{"poll_type":"kick_message","value":{"msg_id":1,"from_uin":10000,"to_uin":1,"reason":"login elsewhere","show_reason":1}}]}`)

	event := waitFor(t, ch)
	assert.Contains(t, event.Reason, "login elsewhere")
	assert.Equal(t, StatusOffline, s.Status())
}

func TestPollErrorAbandon(t *testing.T) {
	ch := make(chan *OfflineEvent, 1)
	s, _ := newLoggedInSession(t, func(s *Session, router *test.Router) {
		s.OfflineEvent.Subscribe(func(s *Session, event *OfflineEvent) {
			ch <- event
		})
	}, `<html>bad gateway</html>`)

	waitFor(t, ch)
	assert.Equal(t, StatusOffline, s.Status())
}

func TestPollErrorRetry(t *testing.T) {
	var errorEvents atomic.Int32
	ch := make(chan *GroupMessageEvent, 1)
	s, router := newLoggedInSession(t, func(s *Session, router *test.Router) {
		s.ErrorEvent.Subscribe(func(s *Session, event *ErrorEvent) bool {
			assert.Equal(t, StagePoll, event.Stage)
			errorEvents.Inc()
			return true
		})
		s.GroupMessageEvent.Subscribe(func(s *Session, event *GroupMessageEvent) {
			ch <- event
		})
	}, `<html>bad gateway</html>`, `{"retcode":100}`, groupMessageBody)

	waitFor(t, ch)
	assert.EqualValues(t, 2, errorEvents.Load())
	assert.Equal(t, StatusLoggedIn, s.Status())
	assert.GreaterOrEqual(t, router.Hits("channel/poll2"), 3)
}

func TestPollNewBuddy(t *testing.T) {
	body := fmt.Sprintf(`{"retcode":0,"result":[{"poll_type":"sys_g_msg","value":{"msg_id":1,"from_uin":%v,"to_uin":1,"msg_id2":1,"msg_type":33,"reply_ip":1,"type":"group_join","gcode":%v,"t_gcode":%v,"op_type":3,"new_member":%v,"t_new_member":"","admin_uin":1,"admin_nick":"admin"}}]}`,
		test.GID1, test.Code1, test.Number1, test.Member2)
	ch := make(chan *NewBuddyEvent, 1)
	newLoggedInSession(t, func(s *Session, router *test.Router) {
		router.Handle("api/get_group_info_ext2", func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, test.Code1, r.URL.Query().Get("gcode"))
			w.Write([]byte(groupInfoBody))
		})
		s.NewBuddyEvent.Subscribe(func(s *Session, event *NewBuddyEvent) {
			ch <- event
		})
	}, body)

	event := waitFor(t, ch)
	assert.Equal(t, test.Number1, event.Group.Number())
	assert.Equal(t, test.Member2, event.Buddy.Uin)
	assert.Equal(t, "bob", event.Buddy.Nick)
	assert.Len(t, event.Group.Members(), 2)
}
