package requests

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cnxysoft/DDBOT-WebQQ/utils"
	"github.com/guonaihong/gout"
	"github.com/guonaihong/gout/dataflow"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var logger = utils.GetModuleLogger("requests")

const UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// RespHeader 响应中调用方关心的部分
type RespHeader struct {
	StatusCode         int
	ContentEncoding    string
	ContentDisposition string
	ContentType        string
	Location           string
	Cookies            []*http.Cookie
}

// Get 发起GET请求，params 会拼接到url的query中
//
// out 可以是 *bytes.Buffer、*[]byte、*string，其他类型按json解析
func Get(ctx context.Context, url string, params map[string]string, out interface{}, options ...Option) error {
	return GetWithHeader(ctx, url, params, out, nil, options...)
}

func GetWithHeader(ctx context.Context, url string, params map[string]string, out interface{}, respHeader *RespHeader, options ...Option) error {
	u, err := withQuery(url, params)
	if err != nil {
		return err
	}
	return do(ctx, http.MethodGet, u, nil, out, respHeader, options)
}

// PostForm 以 application/x-www-form-urlencoded 发起POST请求
func PostForm(ctx context.Context, url string, form map[string]string, out interface{}, options ...Option) error {
	return PostFormWithHeader(ctx, url, form, out, nil, options...)
}

func PostFormWithHeader(ctx context.Context, url string, form map[string]string, out interface{}, respHeader *RespHeader, options ...Option) error {
	options = append([]Option{HeaderOption("Content-Type", "application/x-www-form-urlencoded")}, options...)
	return do(ctx, http.MethodPost, url, []byte(encodeParams(form)), out, respHeader, options)
}

// PostBody 使用给定的 Content-Type 原样发送 body
func PostBody(ctx context.Context, url string, contentType string, body []byte, out interface{}, options ...Option) error {
	options = append([]Option{HeaderOption("Content-Type", contentType)}, options...)
	return do(ctx, http.MethodPost, url, body, out, nil, options)
}

func PostJson(ctx context.Context, url string, params interface{}, out interface{}, options ...Option) error {
	b, err := json.Marshal(params)
	if err != nil {
		return errors.Wrap(err, "marshal json")
	}
	return PostBody(ctx, url, "application/json", b, out, options...)
}

func encodeParams(params map[string]string) string {
	values := make(url.Values, len(params))
	for k, v := range params {
		values.Set(k, v)
	}
	return values.Encode()
}

func withQuery(rawURL string, params map[string]string) (string, error) {
	if len(params) == 0 {
		return rawURL, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", errors.Wrapf(err, "parse url %v", rawURL)
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func do(ctx context.Context, method, url string, body []byte, out interface{}, respHeader *RespHeader, options []Option) error {
	opt := newOption(options)
	var (
		data []byte
		err  error
	)
	for attempt := 0; attempt <= opt.Retry; attempt++ {
		if attempt > 0 {
			logger.WithField("url", url).WithField("attempt", attempt).Debugf("请求失败，重试：%v", err)
			if serr := utils.Sleep(ctx, opt.RetryInterval); serr != nil {
				return serr
			}
		}
		data, err = doOnce(ctx, method, url, body, respHeader, opt)
		if err == nil || ctx.Err() != nil {
			break
		}
	}
	if err != nil {
		return err
	}
	return fill(data, out)
}

func newFlow(g *dataflow.Gout, method, url string) *dataflow.DataFlow {
	if method == http.MethodPost {
		return g.POST(url)
	}
	return g.GET(url)
}

func doOnce(ctx context.Context, method, url string, body []byte, respHeader *RespHeader, opt *option) ([]byte, error) {
	var g *dataflow.Gout
	if opt.Client != nil {
		g = gout.New(opt.Client)
	} else {
		g = gout.New()
	}
	header := gout.H{}
	for k, v := range opt.Header {
		header[k] = v
	}
	if cookie := opt.cookieHeader(); cookie != "" {
		header["Cookie"] = cookie
	}
	flow := newFlow(g, method, url).WithContext(ctx).SetHeader(header)
	if opt.Timeout > 0 {
		flow = flow.SetTimeout(opt.Timeout)
	}
	if body != nil {
		flow = flow.SetBody(body)
	}
	if opt.Debug {
		flow = flow.Debug(true)
	}
	start := time.Now()
	rsp, err := flow.Response()
	if err != nil {
		return nil, errors.Wrapf(err, "%v %v", method, url)
	}
	defer rsp.Body.Close()
	raw, err := io.ReadAll(rsp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "read body %v", url)
	}
	encoding := strings.ToLower(strings.TrimSpace(rsp.Header.Get("Content-Encoding")))
	data, err := decodeBody(encoding, raw)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %v body", encoding)
	}
	logger.WithField("url", url).
		WithField("status", rsp.StatusCode).
		WithField("cost", time.Since(start)).
		Trace("request done")
	if respHeader != nil {
		*respHeader = RespHeader{
			StatusCode:         rsp.StatusCode,
			ContentEncoding:    encoding,
			ContentDisposition: rsp.Header.Get("Content-Disposition"),
			ContentType:        rsp.Header.Get("Content-Type"),
			Location:           rsp.Header.Get("Location"),
			Cookies:            rsp.Cookies(),
		}
	}
	return data, nil
}

func fill(data []byte, out interface{}) error {
	switch o := out.(type) {
	case nil:
		return nil
	case *bytes.Buffer:
		_, err := o.Write(data)
		return err
	case *[]byte:
		*o = data
		return nil
	case *string:
		*o = string(data)
		return nil
	default:
		return errors.Wrap(json.Unmarshal(data, out), "unmarshal json")
	}
}
