package DDBOT

import (
	"github.com/cnxysoft/DDBOT-WebQQ/config"
	"github.com/cnxysoft/DDBOT-WebQQ/utils"
	"github.com/robfig/cron/v3"
)

var cronLog = utils.GetModuleLogger("cronjob")

type groupSender interface {
	SendGroupMessageByNumber(number string, text string, done func(err error)) error
}

type cronjobRun struct {
	config.CronJob
	sender groupSender
}

func (c *cronjobRun) Run() {
	log := cronLog.WithField("cron_exp", c.Cron).WithField("target_group", c.Group)
	err := c.sender.SendGroupMessageByNumber(c.Group, c.Message, func(err error) {
		if err != nil {
			log.Errorf("定时消息发送失败：%v", err)
			return
		}
		log.Debug("定时消息已发送")
	})
	if err != nil {
		log.Errorf("定时消息发送失败：%v", err)
	}
}

// addCronJobs 表达式错误的任务会被跳过，返回第一个错误
func addCronJobs(c *cron.Cron, sender groupSender, jobs []config.CronJob) error {
	var first error
	for _, job := range jobs {
		if _, err := c.AddJob(job.Cron, &cronjobRun{job, sender}); err != nil {
			cronLog.WithField("cron_exp", job.Cron).
				WithField("target_group", job.Group).
				Errorf("添加定时任务失败：%v", err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}
