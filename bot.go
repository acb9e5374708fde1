package DDBOT

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/cnxysoft/DDBOT-WebQQ/config"
	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/mattn/go-colorable"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
)

// SetUpLog 使用默认的日志格式配置，会写入到logs文件夹内，日志会保留七天
func SetUpLog() {
	logrus.SetOutput(colorable.NewColorableStdout())
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:    true,
		PadLevelText:     true,
		QuoteEmptyFields: true,
	})
	writer, err := rotatelogs.New(
		path.Join("logs", "%Y-%m-%d.log"),
		rotatelogs.WithMaxAge(7*24*time.Hour),
		rotatelogs.WithRotationTime(24*time.Hour),
	)
	if err != nil {
		logrus.WithError(err).Error("unable to write logs")
		return
	}
	logrus.AddHook(lfshook.NewHook(writer, &logrus.TextFormatter{
		FullTimestamp:    true,
		PadLevelText:     true,
		QuoteEmptyFields: true,
		ForceQuote:       true,
	}))
}

// Debug 为 true 时忽略配置中的 logLevel，使用 debug 等级
var Debug bool

// applyLogLevel 按配置的 logLevel 设置日志等级，无法识别时保持不变
func applyLogLevel(c *config.Config) {
	if Debug {
		logrus.SetLevel(logrus.DebugLevel)
		return
	}
	level, err := logrus.ParseLevel(c.GetString("logLevel"))
	if err != nil {
		logrus.Warnf("无法识别的日志等级 %v", c.GetString("logLevel"))
		return
	}
	logrus.SetLevel(level)
}

// ensureConfigFile 不存在时生成最小配置
func ensureConfigFile(name string) error {
	fi, err := os.Stat(name)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("检查%v文件失败 - %v", name, err)
		}
		fmt.Printf("警告：没有检测到配置文件%v，正在生成，如果是第一次运行，可忽略\n", name)
		if err := os.WriteFile(name, []byte(exampleConfig), 0644); err != nil {
			return fmt.Errorf("%v生成失败 - %v", name, err)
		}
		fmt.Printf("最小配置%v已生成，请填写帐号密码后重新运行\n", name)
		return nil
	}
	if fi.IsDir() {
		return fmt.Errorf("检测到%v，但目标是一个文件夹！请手动确认并删除该文件夹！", name)
	}
	fmt.Printf("检测到%v，使用存在的%v\n", name, name)
	return nil
}

// Run 启动bot，这个函数会阻塞直到收到退出信号
func Run() {
	if err := ensureConfigFile("application.yaml"); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
	if err := config.Init(); err != nil {
		logrus.Errorf("读取配置文件失败！请检查配置文件格式是否正确 - %v", err)
		os.Exit(1)
	}
	applyLogLevel(config.GlobalConfig)

	if err := Init(); err != nil {
		logrus.Errorf("初始化失败 - %v", err)
		os.Exit(1)
	}
	if err := Instance.Login(context.Background()); err != nil {
		logrus.Fatalf("登录时发生致命错误: %v", err)
	}
	if err := Instance.Start(); err != nil {
		logrus.Errorf("启动定时任务失败 - %v", err)
	}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch
	Instance.Stop()
}

var exampleConfig = func() string {
	s := `
### 注意，填写时请把井号及后面的内容删除，并且冒号后需要加一个空格
bot:
  account: ""       # 你的QQ号
  password: ""      # 你的QQ密码
  status: online    # 登录后的在线状态，可选值：online / away / busy / silent / hidden / callme
  reLogin: true     # 掉线后是否自动重新登录

# 配置 key 后登录验证码将交给 antigate 识别，留空则需要在控制台手动输入
decaptcha:
  key: ""
  host: "http://antigate.com/"

webqq:
  sendQueueSize: 64    # 发送队列长度，队列满时新的消息会被丢弃
  sendRetryDelay: 2s   # 发送过快被拒绝时的重试间隔
  pollRetryDelay: 5s   # 轮询出错后的重试间隔
  requestTimeout: 30s  # 普通请求的超时时间
  maxRetry: 3          # 登录或轮询连续出错的最大重试次数

# 定时发送群消息，cron 表达式为 分 时 日 月 星期
# cronjob:
#   - cron: "0 8 * * *"
#     group: "123456"   # 群号
#     message: "早上好"

# 日志等级，可选值：trace / debug / info / warn / error
logLevel: info
`
	// win上用记事本打开不会正确换行
	if runtime.GOOS == "windows" {
		s = strings.ReplaceAll(s, "\n", "\r\n")
	}
	return s
}()
