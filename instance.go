package DDBOT

import (
	"context"
	"sync"
	"time"

	"github.com/cnxysoft/DDBOT-WebQQ/config"
	"github.com/cnxysoft/DDBOT-WebQQ/decaptcha"
	"github.com/cnxysoft/DDBOT-WebQQ/utils"
	"github.com/cnxysoft/DDBOT-WebQQ/utils/msgstringer"
	"github.com/cnxysoft/DDBOT-WebQQ/webqq"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

var logger = utils.GetModuleLogger("bot")

// ErrNoAccount 配置文件中没有填写帐号
var ErrNoAccount = errors.New("bot.account is empty")

// Bot 全局 Bot
type Bot struct {
	*webqq.Session

	solver   *captchaSolver
	cron     *cron.Cron
	jobs     []config.CronJob
	maxRetry int
	reLogin  bool

	reloginLock sync.Mutex
	start       atomic.Bool
	stopped     atomic.Bool
}

// Instance Bot 实例
var Instance *Bot

// Init 使用 config.GlobalConfig 初始化 Instance
func Init() error {
	b, err := newBot(config.GlobalConfig)
	if err != nil {
		return err
	}
	Instance = b
	return nil
}

func newBot(c *config.Config, extra ...webqq.Option) (*Bot, error) {
	account := c.GetString("bot.account")
	if account == "" {
		return nil, ErrNoAccount
	}
	b := &Bot{
		cron:     cron.New(),
		jobs:     c.GetCronJobs(),
		maxRetry: c.GetInt("webqq.maxRetry"),
		reLogin:  c.GetBool("bot.reLogin"),
	}
	opts := []webqq.Option{
		webqq.WithOnlineStatus(webqq.ParseOnlineStatus(c.GetString("bot.status"))),
		webqq.WithSendQueueSize(c.GetInt("webqq.sendQueueSize")),
		webqq.WithSendRetryDelay(c.GetPositiveDuration("webqq.sendRetryDelay", time.Second*2)),
		webqq.WithPollRetryDelay(c.GetPositiveDuration("webqq.pollRetryDelay", time.Second*5)),
		webqq.WithRequestTimeout(c.GetPositiveDuration("webqq.requestTimeout", time.Second*30)),
	}
	if key := c.GetString("decaptcha.key"); key != "" {
		b.solver = &captchaSolver{decoder: decaptcha.NewDecoder(key, c.GetString("decaptcha.host"))}
		opts = append(opts, webqq.WithVerifyCodeSolver(b.solver))
		logger.Info("已配置 antigate，验证码将自动识别")
	}
	b.Session = webqq.NewSession(account, c.GetString("bot.password"), append(opts, extra...)...)

	b.Session.ErrorEvent.Subscribe(b.onError)
	b.Session.OfflineEvent.Subscribe(b.onOffline)
	b.Session.LoginEvent.Subscribe(b.onLogin)
	b.Session.GroupMessageEvent.Subscribe(b.onGroupMessage)
	b.Session.NewBuddyEvent.Subscribe(func(s *webqq.Session, e *webqq.NewBuddyEvent) {
		logger.WithField("group", e.Group.String()).Infof("新成员入群：%v", e.Buddy.DisplayName())
	})
	return b, nil
}

// Login 登录，需要验证码时会在控制台等待输入
func (b *Bot) Login(ctx context.Context) error {
	logger.WithField("uin", b.Uin).Info("开始尝试登录...")
	res, err := b.Session.Login(ctx)
	if err != nil {
		return err
	}
	return b.loginResponseProcessor(ctx, res)
}

// ReLogin 掉线后重新登录，只允许在 OfflineEvent 中调用
func (b *Bot) ReLogin(e *webqq.OfflineEvent) error {
	b.reloginLock.Lock()
	defer b.reloginLock.Unlock()
	if b.Online() || b.stopped.Load() {
		return nil
	}
	logger.Warnf("Bot已离线: %v", e.Reason)
	logger.Warnf("尝试重连...")
	var err error
	utils.Retry(3, time.Second*5, func() bool {
		if b.stopped.Load() {
			return true
		}
		err = b.Login(context.Background())
		if err != nil {
			logger.Warnf("重连失败: %v", err)
		}
		return err == nil || errors.Is(err, ErrEmptyVerifyCode) || errors.Is(err, webqq.ErrAlreadyOnline)
	})
	if err != nil {
		logger.Errorf("登录时发生致命错误: %v", err)
	}
	return err
}

// RefreshList 刷新群列表、群号与群成员
func (b *Bot) RefreshList(ctx context.Context) {
	groups, err := b.UpdateGroupList(ctx)
	if err != nil {
		logger.WithError(err).Error("unable to load groups list")
		return
	}
	logger.Infof("load %d groups", len(groups))
	for _, g := range groups {
		if err := b.UpdateGroupNumber(ctx, g); err != nil {
			logger.WithField("group", g.String()).WithError(err).Error("unable to load group number")
		}
		if err := b.UpdateGroupMember(ctx, g); err != nil {
			logger.WithField("group", g.String()).WithError(err).Error("unable to load group members list")
		}
	}
	logger.Info("load members done.")
}

// Start 启动定时任务，请勿重复调用
func (b *Bot) Start() error {
	if !b.start.CompareAndSwap(false, true) {
		return nil
	}
	err := addCronJobs(b.cron, b.Session, b.jobs)
	b.cron.Start()
	logger.Infof("%d cron jobs running", len(b.cron.Entries()))
	return err
}

// Stop 停止定时任务并退出登录
func (b *Bot) Stop() {
	logger.Warn("stopping ...")
	b.stopped.Store(true)
	<-b.cron.Stop().Done()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	if err := b.Logout(ctx); err != nil {
		logger.WithError(err).Warn("logout failed")
	}
	logger.Info("stopped")
}

func (b *Bot) onError(s *webqq.Session, e *webqq.ErrorEvent) bool {
	log := logger.WithFields(logrus.Fields{
		"stage":   e.Stage.String(),
		"reason":  e.Reason.String(),
		"attempt": e.Attempt,
	})
	if e.Reason == webqq.ReasonWrongVerifyCode && b.solver != nil {
		go b.solver.reportLast()
	}
	switch {
	case b.stopped.Load():
		return false
	case e.Reason == webqq.ReasonWrongPassword:
		log.Errorf("密码错误，请检查配置: %v", e.Err)
		return false
	case e.Attempt > b.maxRetry:
		log.Errorf("重试次数过多，放弃: %v", e.Err)
		return false
	}
	log.Warnf("出现错误，正在重试: %v", e.Err)
	return true
}

func (b *Bot) onOffline(s *webqq.Session, e *webqq.OfflineEvent) {
	if !b.reLogin || b.stopped.Load() {
		logger.Warnf("Bot已离线: %v", e.Reason)
		return
	}
	go b.ReLogin(e)
}

func (b *Bot) onLogin(s *webqq.Session, e *webqq.LoginEvent) {
	logger.WithField("uin", e.Uin).Infof("登录成功，欢迎 %v", e.Nick)
	go b.RefreshList(context.Background())
}

func (b *Bot) onGroupMessage(s *webqq.Session, e *webqq.GroupMessageEvent) {
	sender := e.SenderUin
	if e.Sender != nil {
		sender = e.Sender.DisplayName()
	}
	logger.WithField("group", e.Group.String()).
		WithField("sender", sender).
		Infof("%v", msgstringer.MsgToString(e.Fragments))
}
