package webqq

import (
	"context"
	"sync"

	"github.com/cnxysoft/DDBOT-WebQQ/requests"
	"github.com/cnxysoft/DDBOT-WebQQ/utils"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

type sendRequest struct {
	group   *Group
	content string
	done    func(err error)
}

// sendQueue 群消息按提交顺序逐条发送，同一时间最多一条在途
type sendQueue struct {
	mu       sync.Mutex
	size     int
	pending  []*sendRequest
	inflight bool
	send     func(r *sendRequest) error
}

func newSendQueue(size int, send func(r *sendRequest) error) *sendQueue {
	if size <= 0 {
		size = 64
	}
	return &sendQueue{
		size: size,
		send: send,
	}
}

func (q *sendQueue) enqueue(r *sendRequest) error {
	q.mu.Lock()
	if len(q.pending) >= q.size {
		q.mu.Unlock()
		return ErrSendQueueFull
	}
	q.pending = append(q.pending, r)
	if q.inflight {
		q.mu.Unlock()
		return nil
	}
	q.inflight = true
	q.mu.Unlock()
	go q.drain()
	return nil
}

func (q *sendQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.inflight = false
			q.mu.Unlock()
			return
		}
		r := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()

		err := q.send(r)
		if r.done != nil {
			r.done(err)
		}
	}
}

// Len 等待发送的消息数量，不包括在途的一条
func (q *sendQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// SendGroupMessage 把消息放入发送队列，done 在发送完成后按提交顺序调用且只调用一次
//
// 队列已满时立即返回 ErrSendQueueFull，此时 done 不会被调用
func (s *Session) SendGroupMessage(g *Group, text string, done func(err error)) error {
	if g == nil {
		return ErrGroupNotFound
	}
	return s.sendQueue.enqueue(&sendRequest{group: g, content: text, done: done})
}

// SendGroupMessageByNumber 按群号发送
func (s *Session) SendGroupMessageByNumber(number string, text string, done func(err error)) error {
	return s.SendGroupMessage(s.FindGroupByNumber(number), text, done)
}

func (s *Session) sendGroupMessage(r *sendRequest) error {
	if !s.Online() {
		return ErrNotOnline
	}
	life := s.lifeContext()
	log := logger.WithField("group", r.group.String())
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			log.Debug("发送过快，稍后重试")
			if serr := utils.Sleep(life, s.sendRetryDelay); serr != nil {
				return ErrNotOnline
			}
		}
		err = s.postGroupMessage(life, r)
		var rerr *RetcodeError
		if !errors.As(err, &rerr) || rerr.Retcode != retcodeTooFast {
			break
		}
	}
	if err != nil {
		if life.Err() != nil {
			return ErrNotOnline
		}
		log.Errorf("发送群消息失败：%v", err)
		var rerr *RetcodeError
		if errors.As(err, &rerr) && rerr.Retcode == retcodeLostConn {
			s.goOffline(life, err.Error())
		}
		return err
	}
	log.Trace("群消息已发送")
	return nil
}

func (s *Session) postGroupMessage(ctx context.Context, r *sendRequest) error {
	content, err := encodeContent(r.content)
	if err != nil {
		return err
	}
	tk := s.tokens()
	payload, err := json.MarshalToString(map[string]interface{}{
		"group_uin":  numberOrString(r.group.GID()),
		"content":    content,
		"msg_id":     s.nextMsgID(),
		"clientid":   tk.ClientID,
		"psessionid": tk.PSessionID,
	})
	if err != nil {
		return err
	}
	var body []byte
	err = requests.PostForm(ctx, s.endpoints.channel("send_qun_msg2"), map[string]string{
		"r":          payload,
		"clientid":   tk.ClientID,
		"psessionid": tk.PSessionID,
	}, &body, s.requestOptions(s.endpoints.channelReferer())...)
	if err != nil {
		return errors.Wrap(err, "send_qun_msg2")
	}
	if !gjson.ValidBytes(body) {
		return errors.Wrapf(ErrProtocol, "send_qun_msg2 response %q", body)
	}
	if retcode := gjson.GetBytes(body, "retcode").Int(); retcode != 0 {
		return &RetcodeError{Api: "send_qun_msg2", Retcode: retcode}
	}
	return nil
}

// PendingMessages 发送队列中等待的消息数量
func (s *Session) PendingMessages() int {
	return s.sendQueue.Len()
}
