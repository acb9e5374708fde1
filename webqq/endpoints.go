package webqq

const (
	appID    = "1003903"
	jsVer    = "10043"
	loginU1  = "http://web2.qq.com/loginproxy.html"
	version  = "WebQQ3.0"
	fontName = "宋体"
)

// Endpoints WebQQ 各个服务的地址，都以 '/' 结尾
type Endpoints struct {
	PtLogin string
	Captcha string
	Channel string
	API     string
	KeyCGI  string
}

var DefaultEndpoints = Endpoints{
	PtLogin: "https://ssl.ptlogin2.qq.com/",
	Captcha: "https://ssl.captcha.qq.com/",
	Channel: "http://d.web2.qq.com/",
	API:     "http://s.web2.qq.com/",
	KeyCGI:  "http://cgi.web2.qq.com/",
}

func (e Endpoints) check() string { return e.PtLogin + "check" }
func (e Endpoints) login() string { return e.PtLogin + "login" }
func (e Endpoints) verifyImage() string { return e.Captcha + "getimage" }

func (e Endpoints) channel(api string) string { return e.Channel + "channel/" + api }
func (e Endpoints) api(api string) string { return e.API + "api/" + api }
func (e Endpoints) searchGroup() string { return e.KeyCGI + "keycgi/qqweb/group/search.do" }

func (e Endpoints) channelReferer() string {
	return e.Channel + "proxy.html?v=20110331002&callback=1&id=2"
}

func (e Endpoints) apiReferer() string {
	return e.API + "proxy.html?v=20110412001&callback=1&id=1"
}

func (e Endpoints) keyCGIReferer() string {
	return e.KeyCGI + "proxy.html?v=20110412001&callback=1&id=2"
}
