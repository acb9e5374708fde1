package webqq

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cnxysoft/DDBOT-WebQQ/internal/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testUinBytes   = `\x00\x00\x00\x00\x00\x12\xd6\x87`
	testPassword   = "78FB580A24CBB2347164BF80BB525D01"
	testVFWebQQ    = "vf0123"
	testPSessionID = "ps0123"
	testNick       = "bot"
)

func testEndpoints(ts *httptest.Server) Endpoints {
	base := ts.URL + "/"
	return Endpoints{PtLogin: base, Captcha: base, Channel: base, API: base, KeyCGI: base}
}

func newTestSession(t *testing.T, opts ...Option) (*Session, *test.Router, *httptest.Server) {
	ts, router := test.NewServer(t)
	opts = append([]Option{
		WithEndpoints(testEndpoints(ts)),
		WithRequestTimeout(time.Second * 5),
		WithPollRetryDelay(time.Millisecond),
		WithSendRetryDelay(time.Millisecond),
	}, opts...)
	s := NewSession(test.UIN, test.Password, opts...)
	// 先于 server 关闭执行，结束挂起的轮询
	t.Cleanup(func() {
		s.Logout(context.Background())
	})
	return s, router, ts
}

// handleLogin 注册一次不需要验证码的完整登录流程
func handleLogin(t *testing.T, router *test.Router, ts *httptest.Server) {
	router.Handle("check", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, test.UIN, r.URL.Query().Get("uin"))
		http.SetCookie(w, &http.Cookie{Name: "ptvfsession", Value: "vfs"})
		fmt.Fprintf(w, `ptui_checkVC('0','!ABC','%s');`, testUinBytes)
	})
	handlePtLogin(t, router, ts, "!ABC")
	router.Handle("check_sig", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "ptcz", Value: "cz"})
		http.SetCookie(w, &http.Cookie{Name: "p_skey", Value: "ignored"})
		w.Header().Set("Location", "http://web2.qq.com/loginproxy.html")
		w.WriteHeader(http.StatusFound)
	})
	router.Handle("channel/login2", func(w http.ResponseWriter, r *http.Request) {
		assert.Nil(t, r.ParseForm())
		assert.Contains(t, r.PostForm.Get("r"), `"ptwebqq":"pw"`)
		assert.Contains(t, r.Header.Get("Cookie"), "skey=@sk; ")
		w.Write([]byte(fmt.Sprintf(`{"retcode":0,"result":{"uin":%v,"status":"online","vfwebqq":"%v","psessionid":"%v"}}`,
			test.UIN, testVFWebQQ, testPSessionID)))
	})
}

func handlePtLogin(t *testing.T, router *test.Router, ts *httptest.Server, expectedCode string) {
	uin, _ := parseUinBytes(testUinBytes)
	router.Handle("login", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, test.UIN, q.Get("u"))
		assert.Equal(t, expectedCode, q.Get("verifycode"))
		assert.Equal(t, encryptPassword(test.Password, uin, expectedCode), q.Get("p"))
		http.SetCookie(w, &http.Cookie{Name: "ptwebqq", Value: "pw"})
		http.SetCookie(w, &http.Cookie{Name: "skey", Value: "@sk"})
		fmt.Fprintf(w, `ptuiCB('0','0','%v/check_sig?pttype=1&uin=%v','0','登录成功！', '%v');`, ts.URL, test.UIN, testNick)
	})
}

// newLoggedInSession 登录完成的会话，poll2 依次返回 pollBodies 之后挂起
func newLoggedInSession(t *testing.T, setup func(s *Session, router *test.Router), pollBodies ...string) (*Session, *test.Router) {
	s, router, ts := newTestSession(t)
	handleLogin(t, router, ts)
	router.HandleLongPoll("channel/poll2", pollBodies...)
	if setup != nil {
		setup(s, router)
	}
	rsp, err := s.Login(context.Background())
	require.Nil(t, err)
	require.True(t, rsp.Success)
	return s, router
}

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(time.Second * 5):
		t.Fatal("timeout")
	}
	var zero T
	return zero
}
