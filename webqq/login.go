package webqq

import (
	"context"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/cnxysoft/DDBOT-WebQQ/requests"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

var (
	checkVCRegex = regexp.MustCompile(`ptui_checkVC\('([^']*)',\s*'([^']*)',\s*'([^']*)'`)
	loginCBRegex = regexp.MustCompile(`ptuiCB\('([^']*)',\s*'([^']*)',\s*'([^']*)',\s*'([^']*)',\s*'([^']*)',\s*'([^']*)'\)`)
)

type LoginError int

const (
	NoError LoginError = iota
	NeedVerifyCode
)

type LoginResponse struct {
	Success bool
	Error   LoginError
	// VerifyImage Error 为 NeedVerifyCode 时的验证码图片
	VerifyImage []byte
	Nick        string
}

// Login 开始登录
//
// 服务器要求验证码且没有设置 VerifyCodeSolver 时，返回 NeedVerifyCode 并停在
// StatusAwaitingVerifyCode，此时需要调用 SubmitVerifyCode 继续
func (s *Session) Login(ctx context.Context) (*LoginResponse, error) {
	s.mu.Lock()
	switch s.status {
	case StatusLoggedIn:
		s.mu.Unlock()
		return nil, ErrAlreadyOnline
	case StatusLoggingIn, StatusAwaitingVerifyCode:
		s.mu.Unlock()
		return nil, ErrLoginInProgress
	}
	s.status = StatusLoggingIn
	s.verifyCode = nil
	s.psessionID = ""
	s.vfwebqq = ""
	life := s.beginEpochLocked()
	s.mu.Unlock()
	s.cookies.Clear()
	logger.WithField("uin", s.Uin).Info("开始登录")
	return s.handshake(ctx, life, "")
}

// SubmitVerifyCode 提交验证码继续登录
func (s *Session) SubmitVerifyCode(ctx context.Context, code string) (*LoginResponse, error) {
	s.mu.Lock()
	if s.status != StatusAwaitingVerifyCode {
		s.mu.Unlock()
		return nil, ErrNotAwaitingVerifyCode
	}
	s.status = StatusLoggingIn
	life := s.lifeCtx
	s.mu.Unlock()
	return s.handshake(ctx, life, code)
}

func (s *Session) handshake(ctx context.Context, life context.Context, verifyCode string) (*LoginResponse, error) {
	ctx, cancel := mergeContext(ctx, life)
	defer cancel()
	for attempt := 1; ; attempt++ {
		rsp, err := s.handshakeOnce(ctx, life, verifyCode)
		if err == nil {
			return rsp, nil
		}
		verifyCode = ""
		if life.Err() != nil {
			// Logout 已经结束了这次登录
			return nil, err
		}
		var se *stageError
		if ctx.Err() == nil && errors.As(err, &se) && s.raiseError(se.stage, se.reason, se.err, attempt) {
			logger.WithField("attempt", attempt).Info("重新登录")
			s.cookies.Clear()
			if !s.transition(life, StatusLoggingIn) {
				return nil, context.Canceled
			}
			continue
		}
		s.abortLogin(life)
		return nil, err
	}
}

func (s *Session) abortLogin(life context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lifeCtx != life {
		return
	}
	s.status = StatusLoggedOut
	s.verifyCode = nil
	s.endEpochLocked()
}

func (s *Session) handshakeOnce(ctx context.Context, life context.Context, submitted string) (*LoginResponse, error) {
	var (
		uin  []byte
		code string
	)
	if submitted != "" {
		s.mu.RLock()
		vc := s.verifyCode
		s.mu.RUnlock()
		if vc == nil {
			return nil, ErrNotAwaitingVerifyCode
		}
		uin, code = vc.Uin, submitted
	} else {
		need, vcID, uinB, err := s.check(ctx)
		if err != nil {
			return nil, err
		}
		uin, code = uinB, vcID
		if need {
			image, cookies, err := s.fetchVerifyImage(ctx, vcID)
			s.cookies.Update(cookies)
			if err != nil {
				return nil, newStageError(StageVerifyImage, ReasonTransport, err)
			}
			s.mu.Lock()
			if s.lifeCtx != life || life.Err() != nil {
				s.mu.Unlock()
				return nil, context.Canceled
			}
			s.status = StatusAwaitingVerifyCode
			s.verifyCode = &VerifyCode{ID: vcID, Uin: uin, Image: image}
			s.mu.Unlock()
			logger.Info("登录需要验证码")
			s.VerifyImageEvent.dispatch(s, &VerifyImageEvent{Image: image})
			if s.solver == nil {
				return &LoginResponse{Error: NeedVerifyCode, VerifyImage: image}, nil
			}
			code, err = s.solver.SolveVerifyCode(ctx, image)
			if err != nil {
				return nil, newStageError(StageVerifyCode, ReasonSolver, err)
			}
			if !s.transition(life, StatusLoggingIn) {
				return nil, context.Canceled
			}
		}
	}
	return s.finishLogin(ctx, life, uin, code)
}

func (s *Session) finishLogin(ctx context.Context, life context.Context, uin []byte, code string) (*LoginResponse, error) {
	nick, checkSigURL, err := s.ptLogin(ctx, uin, code)
	if err != nil {
		return nil, err
	}
	if err := s.checkSig(ctx, checkSigURL); err != nil {
		return nil, err
	}
	if err := s.channelLogin(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.lifeCtx != life || life.Err() != nil {
		s.mu.Unlock()
		return nil, context.Canceled
	}
	s.status = StatusLoggedIn
	s.nick = nick
	s.verifyCode = nil
	s.mu.Unlock()

	logger.WithField("uin", s.Uin).WithField("nick", nick).Info("登录成功")
	s.LoginEvent.dispatch(s, &LoginEvent{Uin: s.Uin, Nick: nick})
	s.startPoll(life)
	return &LoginResponse{Success: true, Nick: nick}, nil
}

// check 询问服务器是否需要验证码
func (s *Session) check(ctx context.Context) (need bool, vcID string, uin []byte, err error) {
	var body string
	var header requests.RespHeader
	err = requests.GetWithHeader(ctx, s.endpoints.check(), map[string]string{
		"uin":       s.Uin,
		"appid":     appID,
		"js_ver":    jsVer,
		"js_type":   "0",
		"login_sig": "",
		"u1":        loginU1,
		"r":         randomFloat(),
	}, &body, &header, s.requestOptions("")...)
	if err != nil {
		return false, "", nil, newStageError(StageCheck, ReasonTransport, err)
	}
	s.cookies.Update(header.Cookies)
	m := checkVCRegex.FindStringSubmatch(body)
	if m == nil {
		return false, "", nil, newStageError(StageCheck, ReasonProtocol, errors.Wrapf(ErrProtocol, "check response %q", body))
	}
	uin, err = parseUinBytes(m[3])
	if err != nil || len(uin) == 0 {
		uin = uinBytes(s.Uin)
	}
	return m[1] != "0", m[2], uin, nil
}

// fetchVerifyImage 获取验证码图片和随图片下发的 verifysession，不修改 CookieJar
func (s *Session) fetchVerifyImage(ctx context.Context, vcID string) ([]byte, []*http.Cookie, error) {
	params := map[string]string{
		"aid": appID,
		"r":   randomFloat(),
		"uin": s.Uin,
	}
	if vcID != "" {
		params["cap_cd"] = vcID
	}
	var image []byte
	var header requests.RespHeader
	if err := requests.GetWithHeader(ctx, s.endpoints.verifyImage(), params, &image, &header, s.requestOptions("")...); err != nil {
		return nil, nil, err
	}
	if header.StatusCode != http.StatusOK || len(image) == 0 {
		return nil, header.Cookies, errors.Wrapf(ErrProtocol, "verify image status %v size %v", header.StatusCode, len(image))
	}
	return image, header.Cookies, nil
}

// verifyImage 供 GroupManager 使用，搜索和加群提交验证码时需要带上 verifysession，
// 所以 Session 在这里把它写入 CookieJar
func (s *Session) verifyImage(ctx context.Context, vcID string) ([]byte, error) {
	image, cookies, err := s.fetchVerifyImage(ctx, vcID)
	s.cookies.Update(cookies)
	return image, err
}

func (s *Session) ptLogin(ctx context.Context, uin []byte, code string) (nick string, checkSigURL string, err error) {
	var body string
	var header requests.RespHeader
	err = requests.GetWithHeader(ctx, s.endpoints.login(), map[string]string{
		"u":            s.Uin,
		"p":            encryptPassword(s.password, uin, code),
		"verifycode":   code,
		"webqq_type":   "10",
		"remember_uin": "1",
		"login2qq":     "1",
		"aid":          appID,
		"u1":           loginU1 + "?login2qq=1&webqq_type=10",
		"h":            "1",
		"ptredirect":   "0",
		"ptlang":       "2052",
		"daid":         "164",
		"from_ui":      "1",
		"pttype":       "1",
		"dumy":         "",
		"fp":           "loginerroralert",
		"action":       "0-0-" + strconv.FormatInt(time.Now().UnixMilli()%100000, 10),
		"mibao_css":    "m_webqq",
		"t":            "1",
		"g":            "1",
		"js_type":      "0",
		"js_ver":       jsVer,
		"login_sig":    "",
		"pt_uistyle":   "5",
	}, &body, &header, s.requestOptions("")...)
	if err != nil {
		return "", "", newStageError(StageLogin, ReasonTransport, err)
	}
	s.cookies.Update(header.Cookies)
	m := loginCBRegex.FindStringSubmatch(body)
	if m == nil {
		return "", "", newStageError(StageLogin, ReasonProtocol, errors.Wrapf(ErrProtocol, "login response %q", body))
	}
	switch m[1] {
	case "0":
		return m[6], m[3], nil
	case "3":
		return "", "", newStageError(StageLogin, ReasonWrongPassword, ErrWrongPassword)
	case "4":
		return "", "", newStageError(StageLogin, ReasonWrongVerifyCode, ErrWrongVerifyCode)
	default:
		return "", "", newStageError(StageLogin, ReasonProtocol, errors.Wrapf(ErrProtocol, "login code %v: %v", m[1], m[5]))
	}
}

// checkSig 访问 ptuiCB 给出的地址拿到剩下的 cookie，不跟随它的重定向
func (s *Session) checkSig(ctx context.Context, url string) error {
	var header requests.RespHeader
	if err := requests.GetWithHeader(ctx, url, nil, nil, &header, s.requestOptions("")...); err != nil {
		return newStageError(StageCheckSig, ReasonTransport, err)
	}
	s.cookies.Update(header.Cookies)
	if header.StatusCode >= http.StatusBadRequest {
		return newStageError(StageCheckSig, ReasonProtocol, errors.Wrapf(ErrProtocol, "check_sig status %v", header.StatusCode))
	}
	return nil
}

// channelLogin 登录消息通道，得到 psessionid 和 vfwebqq
func (s *Session) channelLogin(ctx context.Context) error {
	tk := s.tokens()
	s.mu.RLock()
	status := s.onlineStatus
	s.mu.RUnlock()
	r, err := json.MarshalToString(map[string]interface{}{
		"status":     string(status),
		"ptwebqq":    tk.PtWebQQ,
		"passwd_sig": "",
		"clientid":   tk.ClientID,
		"psessionid": nil,
	})
	if err != nil {
		return newStageError(StageChannelLogin, ReasonProtocol, err)
	}
	var body []byte
	err = requests.PostForm(ctx, s.endpoints.channel("login2"), map[string]string{
		"r":          r,
		"clientid":   tk.ClientID,
		"psessionid": "null",
	}, &body, s.requestOptions(s.endpoints.channelReferer())...)
	if err != nil {
		return newStageError(StageChannelLogin, ReasonTransport, err)
	}
	if !gjson.ValidBytes(body) {
		return newStageError(StageChannelLogin, ReasonProtocol, errors.Wrapf(ErrProtocol, "login2 response %q", body))
	}
	result := gjson.ParseBytes(body)
	if retcode := result.Get("retcode").Int(); retcode != 0 {
		return newStageError(StageChannelLogin, ReasonRetcode, &RetcodeError{Api: "login2", Retcode: retcode})
	}
	psessionID := result.Get("result.psessionid").String()
	vfwebqq := result.Get("result.vfwebqq").String()
	if psessionID == "" {
		return newStageError(StageChannelLogin, ReasonProtocol, errors.Wrap(ErrProtocol, "login2 without psessionid"))
	}
	s.mu.Lock()
	s.psessionID = psessionID
	s.vfwebqq = vfwebqq
	s.mu.Unlock()
	return nil
}

// ChangeStatus 修改在线状态
func (s *Session) ChangeStatus(ctx context.Context, status OnlineStatus) error {
	if !s.Online() {
		return ErrNotOnline
	}
	ctx, cancel := mergeContext(ctx, s.lifeContext())
	defer cancel()
	tk := s.tokens()
	var body []byte
	err := requests.Get(ctx, s.endpoints.channel("change_status2"), map[string]string{
		"newstatus":  string(status),
		"clientid":   tk.ClientID,
		"psessionid": tk.PSessionID,
		"t":          timestamp(),
	}, &body, s.requestOptions(s.endpoints.channelReferer())...)
	if err != nil {
		return err
	}
	if retcode := gjson.GetBytes(body, "retcode"); !retcode.Exists() || retcode.Int() != 0 {
		return &RetcodeError{Api: "change_status2", Retcode: retcode.Int()}
	}
	s.mu.Lock()
	s.onlineStatus = status
	s.mu.Unlock()
	return nil
}

// Logout 退出登录，停止轮询并清空 cookie，之后可以重新 Login
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	prev := s.status
	tk := tokens{ClientID: s.clientID, PSessionID: s.psessionID}
	opts := s.requestOptions(s.endpoints.channelReferer())
	s.status = StatusLoggedOut
	s.verifyCode = nil
	s.endEpochLocked()
	s.mu.Unlock()
	defer s.cookies.Clear()

	if prev != StatusLoggedIn {
		return nil
	}
	logger.WithField("uin", s.Uin).Info("退出登录")
	var body []byte
	err := requests.Get(ctx, s.endpoints.channel("logout2"), map[string]string{
		"ids":        "",
		"clientid":   tk.ClientID,
		"psessionid": tk.PSessionID,
		"t":          timestamp(),
	}, &body, opts...)
	if err != nil {
		return errors.Wrap(err, "logout2")
	}
	if retcode := gjson.GetBytes(body, "retcode").Int(); retcode != 0 {
		return &RetcodeError{Api: "logout2", Retcode: retcode}
	}
	return nil
}
