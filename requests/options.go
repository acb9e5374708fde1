package requests

import (
	"net/http"
	"net/url"
	"strings"
	"time"
)

type option struct {
	Timeout       time.Duration
	Retry         int
	RetryInterval time.Duration
	Header        map[string]string
	Cookies       []*http.Cookie
	RawCookie     string
	Debug         bool
	Client        *http.Client
}

// Option 请求参数
type Option func(o *option)

func newOption(opts []Option) *option {
	o := &option{
		Timeout:       time.Second * 30,
		RetryInterval: time.Second,
		Header:        make(map[string]string),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

func (o *option) cookieHeader() string {
	if len(o.Cookies) == 0 {
		return o.RawCookie
	}
	var parts []string
	if raw := strings.TrimRight(o.RawCookie, "; "); raw != "" {
		parts = append(parts, raw)
	}
	for _, c := range o.Cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

func TimeoutOption(d time.Duration) Option {
	return func(o *option) {
		o.Timeout = d
	}
}

// RetryOption 传输层出错时的额外重试次数
func RetryOption(retry int) Option {
	return func(o *option) {
		o.Retry = retry
	}
}

func RetryIntervalOption(d time.Duration) Option {
	return func(o *option) {
		o.RetryInterval = d
	}
}

func HeaderOption(key, value string) Option {
	return func(o *option) {
		o.Header[key] = value
	}
}

func AddUAOption(ua ...string) Option {
	if len(ua) == 0 {
		ua = []string{UserAgent}
	}
	return HeaderOption("User-Agent", ua[0])
}

func RefererOption(referer string) Option {
	return HeaderOption("Referer", referer)
}

func CookieOption(name, value string) Option {
	return HttpCookieOption(&http.Cookie{Name: name, Value: value})
}

func HttpCookieOption(c *http.Cookie) Option {
	return func(o *option) {
		o.Cookies = append(o.Cookies, c)
	}
}

// RawCookieOption 直接使用已经拼接好的 Cookie 头
func RawCookieOption(cookie string) Option {
	return func(o *option) {
		o.RawCookie = cookie
	}
}

func DebugOption() Option {
	return func(o *option) {
		o.Debug = true
	}
}

func WithClient(c *http.Client) Option {
	return func(o *option) {
		o.Client = c
	}
}

func WithTransport(rt http.RoundTripper) Option {
	return WithClient(&http.Client{Transport: rt})
}

func ProxyOption(proxy string) Option {
	return func(o *option) {
		u, err := url.Parse(proxy)
		if err != nil || proxy == "" {
			logger.WithField("proxy", proxy).Warn("proxy无效，已忽略")
			return
		}
		o.Client = &http.Client{Transport: &http.Transport{Proxy: http.ProxyURL(u)}}
	}
}
