package DDBOT

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cnxysoft/DDBOT-WebQQ/decaptcha"
	"github.com/cnxysoft/DDBOT-WebQQ/webqq"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"gopkg.ilharper.com/x/isatty"
)

var console = bufio.NewReader(os.Stdin)

var isTerminal = func() bool {
	return isatty.Isatty(os.Stdin.Fd())
}

// ErrEmptyVerifyCode 没有输入验证码
var ErrEmptyVerifyCode = errors.New("verify code is empty")

func readLine() (str string) {
	str, _ = console.ReadString('\n')
	str = strings.TrimSpace(str)
	return
}

func readLineTimeout(t time.Duration, de string) (str string) {
	r := make(chan string)
	go func() {
		select {
		case r <- readLine():
		case <-time.After(t):
		}
	}()
	str = de
	select {
	case str = <-r:
	case <-time.After(t):
	}
	return
}

func readIfTTY(de string) (str string) {
	if isTerminal() {
		return readLine()
	}
	logger.Warnf("未检测到输入终端，自动选择%s.", de)
	return de
}

func (b *Bot) loginResponseProcessor(ctx context.Context, res *webqq.LoginResponse) error {
	var err error
	for {
		if err != nil {
			return err
		}
		if res.Success {
			return nil
		}
		switch res.Error {
		case webqq.NeedVerifyCode:
			logger.Warnf("登录需要验证码.")
			name := fmt.Sprintf("captcha-%v.jpg", uuid.New().String())
			_ = os.WriteFile(name, res.VerifyImage, 0o644)
			logger.Warnf("请输入验证码 (%v)： (Enter 提交)", name)
			text := readIfTTY("")
			os.Remove(name)
			if text == "" {
				logger.Infof("按 Enter 或等待 5s 后继续....")
				readLineTimeout(time.Second*5, "")
				return errors.WithStack(ErrEmptyVerifyCode)
			}
			res, err = b.SubmitVerifyCode(ctx, text)
			continue
		default:
			return errors.Errorf("unknown login error %v", res.Error)
		}
	}
}

// captchaSolver 用 antigate 识别验证码，并记住最近一次的识别结果以便报错
type captchaSolver struct {
	decoder *decaptcha.Decoder
	last    atomic.Uint64
}

func (c *captchaSolver) SolveVerifyCode(ctx context.Context, image []byte) (string, error) {
	result, err := c.decoder.Decode(ctx, image)
	if err != nil {
		logger.WithError(err).Error("验证码识别失败")
		return "", err
	}
	c.last.Store(result.ID)
	return result.Text, nil
}

// reportLast 服务器提示验证码错误时调用
func (c *captchaSolver) reportLast() {
	id := c.last.Swap(0)
	if id == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*30)
	defer cancel()
	if err := c.decoder.ReportBad(ctx, id); err != nil {
		logger.WithField("captcha_id", id).WithError(err).Warn("报告验证码识别错误失败")
		return
	}
	logger.WithField("captcha_id", id).Info("已报告验证码识别错误")
}
