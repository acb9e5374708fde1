// Package decaptcha 通过 antigate 兼容的打码服务识别图片验证码
package decaptcha

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cnxysoft/DDBOT-WebQQ/requests"
	"github.com/cnxysoft/DDBOT-WebQQ/utils"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
)

var logger = utils.GetModuleLogger("decaptcha")

const (
	DefaultHost = "http://antigate.com/"

	initialDelay = 10 * time.Second
	pollInterval = 5 * time.Second
	maxPollTries = 5

	notReady       = "CAPCHA_NOT_READY"
	reportRecorded = "OK_REPORT_RECORDED"
)

var (
	// ErrProtocolParse 服务返回了无法识别的内容
	ErrProtocolParse = errors.New("unexpected decaptcha response")
	// ErrExhausted 轮询次数用完仍未得到结果
	ErrExhausted = errors.New("decaptcha retry budget exhausted")
)

var (
	uploadRegex = regexp.MustCompile(`OK\|([0-9]+)`)
	resultRegex = regexp.MustCompile(`OK\|([0-9a-zA-Z]+)`)
)

// Result 一次识别的结果，ID 可用于 ReportBad
type Result struct {
	ID   uint64
	Text string
}

type Decoder struct {
	Key  string
	Host string

	clock clockwork.Clock
	opts  []requests.Option
}

type Option func(d *Decoder)

// WithClock 替换等待使用的时钟
func WithClock(clock clockwork.Clock) Option {
	return func(d *Decoder) {
		d.clock = clock
	}
}

func WithRequestOptions(opts ...requests.Option) Option {
	return func(d *Decoder) {
		d.opts = append(d.opts, opts...)
	}
}

// NewDecoder host 为空时使用 DefaultHost，末尾会补上 '/'
func NewDecoder(key string, host string, opts ...Option) *Decoder {
	if host == "" {
		host = DefaultHost
	}
	if !strings.HasSuffix(host, "/") {
		host += "/"
	}
	d := &Decoder{
		Key:   key,
		Host:  host,
		clock: clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Decoder) requestOptions() []requests.Option {
	opts := []requests.Option{
		requests.TimeoutOption(time.Second * 30),
		requests.HeaderOption("Connection", "close"),
	}
	return append(opts, d.opts...)
}

func (d *Decoder) wait(ctx context.Context, dur time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-d.clock.After(dur):
		return nil
	}
}

// Decode 上传图片，等待10秒后每5秒查询一次结果，最多查询5次
func (d *Decoder) Decode(ctx context.Context, image []byte) (*Result, error) {
	log := logger.WithField("host", d.Host)
	boundary := generateBoundary()
	var body string
	err := requests.PostBody(ctx, d.Host+"in.php", contentType(boundary),
		buildMultipartFormData(d.Key, image, boundary), &body, d.requestOptions()...)
	if err != nil {
		return nil, errors.Wrap(err, "upload captcha")
	}
	match := uploadRegex.FindStringSubmatch(body)
	if match == nil {
		log.WithField("response", body).Errorf("上传验证码失败")
		return nil, errors.Wrapf(ErrProtocolParse, "upload response %q", body)
	}
	captchaID := match[1]
	id, err := strconv.ParseUint(captchaID, 10, 64)
	if err != nil {
		return nil, errors.Wrapf(ErrProtocolParse, "captcha id %q", captchaID)
	}
	log = log.WithField("captcha_id", captchaID)
	log.Debug("验证码已上传")

	if err := d.wait(ctx, initialDelay); err != nil {
		return nil, err
	}
	for try := 0; try < maxPollTries; try++ {
		if err := d.wait(ctx, pollInterval); err != nil {
			return nil, err
		}
		var result string
		err := requests.Get(ctx, d.Host+"res.php", map[string]string{
			"key":    d.Key,
			"action": "get",
			"id":     captchaID,
		}, &result, d.requestOptions()...)
		if err != nil {
			return nil, errors.Wrap(err, "fetch captcha result")
		}
		if result == notReady {
			log.WithField("try", try+1).Trace("验证码尚未识别完成")
			continue
		}
		if m := resultRegex.FindStringSubmatch(result); m != nil {
			log.Debug("验证码识别成功")
			return &Result{ID: id, Text: m[1]}, nil
		}
		log.WithField("response", result).Errorf("获取验证码结果失败")
		return nil, errors.Wrapf(ErrProtocolParse, "result response %q", result)
	}
	return nil, ErrExhausted
}

// SolveVerifyCode 只返回识别出的文本
func (d *Decoder) SolveVerifyCode(ctx context.Context, image []byte) (string, error) {
	result, err := d.Decode(ctx, image)
	if err != nil {
		return "", err
	}
	return result.Text, nil
}

// ReportBad 报告 id 对应的识别结果错误
func (d *Decoder) ReportBad(ctx context.Context, id uint64) error {
	var result string
	err := requests.Get(ctx, d.Host+"res.php", map[string]string{
		"key":    d.Key,
		"action": "reportbad",
		"id":     strconv.FormatUint(id, 10),
	}, &result, d.requestOptions()...)
	if err != nil {
		return errors.Wrap(err, "report bad captcha")
	}
	if strings.TrimSpace(result) != reportRecorded {
		return errors.Wrapf(ErrProtocolParse, "reportbad response %q", result)
	}
	return nil
}
