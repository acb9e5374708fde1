package webqq

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/cnxysoft/DDBOT-WebQQ/internal/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var groupInfoBody = fmt.Sprintf(`{"retcode":0,"result":{
	"ginfo":{"gid":%[1]v,"code":%[2]v,"name":"test group","memo":"hello","members":[{"muin":%[4]v,"mflag":0},{"muin":%[3]v,"mflag":1}]},
	"minfo":[{"uin":%[3]v,"nick":"alice"},{"uin":%[4]v,"nick":"bob"}],
	"cards":[{"muin":%[3]v,"card":"Alice"}]
}}`, test.GID1, test.Code1, test.Member1, test.Member2)

const groupListBody = `{"retcode":0,"result":{"gmasklist":[],"gnamelist":[
	{"flag":1,"name":"group one","gid":3001,"code":4001},
	{"flag":1,"name":"group two","gid":3002,"code":4002}
],"gmarklist":[]}}`

func TestGroupNotOnline(t *testing.T) {
	s, router, _ := newTestSession(t)
	g := s.groups.ensure(test.GID1, test.Code1, "")

	_, err := s.UpdateGroupList(context.Background())
	assert.ErrorIs(t, err, ErrNotOnline)
	assert.ErrorIs(t, s.UpdateGroupNumber(context.Background(), g), ErrNotOnline)
	assert.ErrorIs(t, s.UpdateGroupMember(context.Background(), g), ErrNotOnline)
	_, err = s.SearchGroup(context.Background(), test.Number1, "")
	assert.ErrorIs(t, err, ErrNotOnline)
	_, err = s.JoinGroup(context.Background(), g, "")
	assert.ErrorIs(t, err, ErrNotOnline)
	assert.Equal(t, 0, router.Total())
}

func TestUpdateGroupList(t *testing.T) {
	s, router := newLoggedInSession(t, func(s *Session, router *test.Router) {
		router.Handle("api/get_group_name_list_mask2", func(w http.ResponseWriter, r *http.Request) {
			assert.Nil(t, r.ParseForm())
			assert.JSONEq(t, fmt.Sprintf(`{"vfwebqq":"%v"}`, testVFWebQQ), r.PostForm.Get("r"))
			w.Write([]byte(groupListBody))
		})
	})
	existing := s.groups.ensure(test.GID1, "", "")

	groups, err := s.UpdateGroupList(context.Background())
	require.Nil(t, err)
	require.Len(t, groups, 2)
	assert.Same(t, existing, groups[0])
	assert.Equal(t, "group one", existing.Name())
	assert.Equal(t, test.Code1, existing.Code())
	assert.Equal(t, test.GID2, groups[1].GID())
	assert.Len(t, s.Groups().List(), 2)

	// 再次刷新不会产生新的群
	_, err = s.UpdateGroupList(context.Background())
	require.Nil(t, err)
	assert.Len(t, s.Groups().List(), 2)
	assert.Equal(t, 2, router.Hits("api/get_group_name_list_mask2"))

	router.HandleString("api/get_group_name_list_mask2", `{"retcode":100003}`)
	_, err = s.UpdateGroupList(context.Background())
	var rerr *RetcodeError
	assert.ErrorAs(t, err, &rerr)
}

func TestUpdateGroupNumber(t *testing.T) {
	events := make(chan *GroupNumberEvent, 1)
	s, _ := newLoggedInSession(t, func(s *Session, router *test.Router) {
		router.Handle("api/get_friend_uin2", func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			assert.Equal(t, test.Code1, q.Get("tuin"))
			assert.Equal(t, "4", q.Get("type"))
			assert.Equal(t, testVFWebQQ, q.Get("vfwebqq"))
			fmt.Fprintf(w, `{"retcode":0,"result":{"uiuin":"","account":%v,"uin":%v}}`, test.Number1, test.Code1)
		})
		s.GroupNumberEvent.Subscribe(func(s *Session, event *GroupNumberEvent) {
			events <- event
		})
	})
	g := s.groups.ensure(test.GID1, test.Code1, "")
	assert.Nil(t, s.FindGroupByNumber(test.Number1))

	require.Nil(t, s.UpdateGroupNumber(context.Background(), g))
	assert.Equal(t, test.Number1, g.Number())
	assert.Same(t, g, s.FindGroupByNumber(test.Number1))
	assert.Same(t, g, waitFor(t, events).Group)
}

func TestUpdateMemberNumber(t *testing.T) {
	var mu sync.Mutex
	queried := make(map[string]int)
	s, _ := newLoggedInSession(t, func(s *Session, router *test.Router) {
		router.HandleString("api/get_group_info_ext2", groupInfoBody)
		router.Handle("api/get_friend_uin2", func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			assert.Equal(t, "1", q.Get("type"))
			assert.Equal(t, testVFWebQQ, q.Get("vfwebqq"))
			mu.Lock()
			queried[q.Get("tuin")]++
			mu.Unlock()
			if q.Get("tuin") == test.Member1 {
				w.Write([]byte(`{"retcode":0,"result":{"uiuin":"","account":20001,"uin":5001}}`))
				return
			}
			w.Write([]byte(`{"retcode":100000}`))
		})
	})
	g := s.groups.ensure(test.GID1, test.Code1, test.Number1)
	require.Nil(t, s.UpdateGroupMember(context.Background(), g))
	before := g.FindMember(test.Member1)

	err := s.UpdateMemberNumber(context.Background(), g)
	var rerr *RetcodeError
	require.ErrorAs(t, err, &rerr)
	assert.EqualValues(t, 100000, rerr.Retcode)
	assert.Equal(t, "20001", g.FindMember(test.Member1).QQNumber)
	assert.Equal(t, "", g.FindMember(test.Member2).QQNumber)
	assert.Equal(t, "", before.QQNumber)

	// 已知QQ号的成员不再查询，刷新成员列表后QQ号保留
	s.UpdateMemberNumber(context.Background(), g)
	require.Nil(t, s.UpdateGroupMember(context.Background(), g))
	assert.Equal(t, "20001", g.FindMember(test.Member1).QQNumber)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, queried[test.Member1])
	assert.Equal(t, 2, queried[test.Member2])
}

func TestUpdateGroupMember(t *testing.T) {
	s, router := newLoggedInSession(t, func(s *Session, router *test.Router) {
		router.HandleString("api/get_group_info_ext2", groupInfoBody)
	})
	g := s.groups.ensure(test.GID1, test.Code1, "")

	for i := 0; i < 2; i++ {
		require.Nil(t, s.UpdateGroupMember(context.Background(), g))
		members := g.Members()
		require.Len(t, members, 2)
		assert.Equal(t, test.Member1, members[0].Uin)
		assert.Equal(t, "alice", members[0].Nick)
		assert.Equal(t, "Alice", members[0].DisplayName())
		assert.EqualValues(t, 1, members[0].Flag)
		assert.Equal(t, test.Member2, members[1].Uin)
		assert.Equal(t, "bob", members[1].DisplayName())
	}
	assert.Equal(t, "test group", g.Name())
	assert.Equal(t, "hello", g.Memo())
	assert.Equal(t, "bob", g.FindMember(test.Member2).Nick)
	assert.Nil(t, g.FindMember("404"))
	assert.Equal(t, 2, router.Hits("api/get_group_info_ext2"))
}

func TestSearchGroup(t *testing.T) {
	s, router := newLoggedInSession(t, func(s *Session, router *test.Router) {
		router.Handle("keycgi/qqweb/group/search.do", func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			assert.Equal(t, test.Number2, q.Get("all"))
			if q.Get("vfcode") != "abcd" {
				w.Write([]byte(`{"retcode":100110}`))
				return
			}
			fmt.Fprintf(w, `{"retcode":0,"result":[{"GE":%v,"GEX":%v,"TI":"group two","GD":"memo"}]}`, test.Code2, test.Number2)
		})
		router.Handle("getimage", func(w http.ResponseWriter, r *http.Request) {
			http.SetCookie(w, &http.Cookie{Name: "verifysession", Value: "vs01"})
			w.Write(testImage)
		})
	})

	result, err := s.SearchGroup(context.Background(), test.Number2, "")
	require.Nil(t, err)
	assert.True(t, result.NeedVerifyCode)
	assert.Equal(t, testImage, result.VerifyImage)
	assert.Empty(t, result.Groups)
	// 提交验证码时需要带上图片附带的 verifysession
	assert.Contains(t, s.Cookies(), "verifysession=vs01; ")

	result, err = s.SearchGroup(context.Background(), test.Number2, "abcd")
	require.Nil(t, err)
	assert.False(t, result.NeedVerifyCode)
	require.Len(t, result.Groups, 1)
	g := result.Groups[0]
	assert.Equal(t, test.Code2, g.Code())
	assert.Equal(t, test.Number2, g.Number())
	assert.Equal(t, "group two", g.Name())
	assert.Same(t, g, s.FindGroupByNumber(test.Number2))
	assert.Equal(t, 2, router.Hits("keycgi/qqweb/group/search.do"))
}

func TestJoinGroup(t *testing.T) {
	s, _ := newLoggedInSession(t, func(s *Session, router *test.Router) {
		router.Handle("api/apply_join_group2", func(w http.ResponseWriter, r *http.Request) {
			assert.Nil(t, r.ParseForm())
			payload := r.PostForm.Get("r")
			assert.Contains(t, payload, fmt.Sprintf(`"gcode":%v`, test.Code2))
			if !strings.Contains(payload, `"code":"abcd"`) {
				w.Write([]byte(`{"retcode":100001}`))
				return
			}
			w.Write([]byte(`{"retcode":0,"result":{}}`))
		})
		router.HandleString("getimage", string(testImage))
	})
	g := s.groups.ensure("", test.Code2, test.Number2)

	result, err := s.JoinGroup(context.Background(), g, "")
	require.Nil(t, err)
	assert.True(t, result.NeedVerifyCode)
	assert.Equal(t, testImage, result.VerifyImage)
	assert.False(t, g.PendingJoin())

	result, err = s.JoinGroup(context.Background(), g, "abcd")
	require.Nil(t, err)
	assert.True(t, result.Pending)
	assert.True(t, g.PendingJoin())
}
