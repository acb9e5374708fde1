package webqq

import (
	"net/http"
	"strings"
	"sync"
)

// CookieName CookieJar 中保存的 cookie，顺序即拼接顺序
type CookieName int

const (
	CookieRK CookieName = iota
	CookiePtVfSession
	CookiePtCz
	CookieSKey
	CookiePtWebQQ
	CookiePtUserInfo
	CookieUin
	CookiePtIsp
	CookiePt2gGuin
	CookiePt4Token
	CookiePtUiLoginUin
	CookieVerifySession
	CookieRv2
	CookieSuperKey
	CookieSuperUin

	cookieCount
)

var cookieNames = [cookieCount]string{
	"RK",
	"ptvfsession",
	"ptcz",
	"skey",
	"ptwebqq",
	"ptuserinfo",
	"uin",
	"ptisp",
	"pt2gguin",
	"pt4_token",
	"ptui_loginuin",
	"verifysession",
	"rv2",
	"superkey",
	"superuin",
}

func (n CookieName) String() string {
	if n < 0 || n >= cookieCount {
		return ""
	}
	return cookieNames[n]
}

// LookupCookieName 不在集合中的名字返回 false
func LookupCookieName(name string) (CookieName, bool) {
	for i, n := range cookieNames {
		if n == name {
			return CookieName(i), true
		}
	}
	return 0, false
}

// CookieJar 保存登录过程中得到的 cookie，并缓存拼接好的 Cookie 头
//
// 只有登录流程和轮询会修改它，其他请求在构造时读取一份快照
type CookieJar struct {
	mu       sync.RWMutex
	values   [cookieCount]string
	rendered string
}

func NewCookieJar() *CookieJar {
	return new(CookieJar)
}

func (j *CookieJar) Get(name CookieName) string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.values[name]
}

func (j *CookieJar) Set(name CookieName, value string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.values[name] = value
	j.render()
}

// Update 合并响应中的 Set-Cookie，返回被接受的数量
func (j *CookieJar) Update(cookies []*http.Cookie) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	var accepted int
	for _, c := range cookies {
		name, ok := LookupCookieName(c.Name)
		if !ok {
			continue
		}
		// 服务器通过 MaxAge<0 删除 cookie
		if c.MaxAge < 0 {
			j.values[name] = ""
		} else {
			j.values[name] = c.Value
		}
		accepted++
	}
	if accepted > 0 {
		j.render()
	}
	return accepted
}

func (j *CookieJar) Clear() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.values = [cookieCount]string{}
	j.rendered = ""
}

// Render 返回 "name=value; " 形式拼接的 Cookie 头，空值会被跳过
func (j *CookieJar) Render() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.rendered
}

func (j *CookieJar) render() {
	var sb strings.Builder
	for i, v := range j.values {
		if v == "" {
			continue
		}
		sb.WriteString(cookieNames[i])
		sb.WriteString("=")
		sb.WriteString(v)
		sb.WriteString("; ")
	}
	j.rendered = sb.String()
}
