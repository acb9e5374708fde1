package webqq

import (
	"strconv"
	"time"

	"github.com/tidwall/gjson"
)

// EventKind 轮询得到的消息类型
type EventKind int

const (
	KindUnknown EventKind = iota
	KindBuddyMessage
	KindGroupMessage
	KindDiscussMessage
	KindSessMessage
	KindStatusChange
	KindKick
	KindSystem
	KindBuddyListChange
	KindSysGroupMessage
	KindOfflineFile
	KindFileTransfer
	KindFileMessage
	KindNotifyOfflineFile
	KindInputNotify
)

var pollTypes = map[string]EventKind{
	"message":               KindBuddyMessage,
	"group_message":         KindGroupMessage,
	"discu_message":         KindDiscussMessage,
	"sess_message":          KindSessMessage,
	"buddies_status_change": KindStatusChange,
	"kick_message":          KindKick,
	"system_message":        KindSystem,
	"buddylist_change":      KindBuddyListChange,
	"sys_g_msg":             KindSysGroupMessage,
	"push_offfile":          KindOfflineFile,
	"filesrv_transfer":      KindFileTransfer,
	"file_message":          KindFileMessage,
	"notify_offfile":        KindNotifyOfflineFile,
	"input_notify":          KindInputNotify,
}

func (k EventKind) String() string {
	for name, kind := range pollTypes {
		if kind == k {
			return name
		}
	}
	return "unknown"
}

// InboundEvent 一条轮询结果，不同类型只填充各自相关的字段
type InboundEvent struct {
	Kind     EventKind
	PollType string

	FromUin string
	ToUin   string
	SendUin string
	// GroupCode 群消息中的 group_code，sys_g_msg 中的 gcode
	GroupCode string
	// GroupNumber 群消息中的 info_seq，sys_g_msg 中的 t_gcode
	GroupNumber string
	DiscussID   string

	MsgID int64
	Seq   int64
	Time  time.Time

	// Status 好友状态变更后的状态
	Status string
	// Reason 被踢下线的原因
	Reason string
	// SubType system_message 与 sys_g_msg 的 type 字段
	SubType   string
	NewMember string

	Fragments []Fragment
	Raw       string
}

// Fragment 消息内容的一段
type Fragment interface {
	fragment()
}

type TextFragment struct {
	Text string
}

// FaceFragment WebQQ 表情，ID 为 WebQQ 的表情编号
type FaceFragment struct {
	ID int
}

// Standard 返回对应的标准表情编号，不存在时返回 -1
func (f *FaceFragment) Standard() int {
	if id, ok := FaceMap()[f.ID]; ok {
		return id
	}
	return -1
}

type FontFragment struct {
	Name  string
	Size  int
	Color string
	Style []int
}

// ImageFragment 自定义表情或图片，只保留文件名
type ImageFragment struct {
	Name string
}

func (*TextFragment) fragment()  {}
func (*FaceFragment) fragment()  {}
func (*FontFragment) fragment()  {}
func (*ImageFragment) fragment() {}

// decodePollResult 解析 poll2 返回的 result 数组
func decodePollResult(result gjson.Result) []*InboundEvent {
	var events []*InboundEvent
	result.ForEach(func(_, item gjson.Result) bool {
		events = append(events, decodeInboundEvent(item))
		return true
	})
	return events
}

func decodeInboundEvent(item gjson.Result) *InboundEvent {
	pollType := item.Get("poll_type").String()
	value := item.Get("value")
	e := &InboundEvent{
		Kind:     pollTypes[pollType],
		PollType: pollType,
		FromUin:  value.Get("from_uin").String(),
		ToUin:    value.Get("to_uin").String(),
		MsgID:    value.Get("msg_id").Int(),
		Seq:      value.Get("seq").Int(),
		Raw:      item.Raw,
	}
	if ts := value.Get("time"); ts.Exists() {
		e.Time = time.Unix(ts.Int(), 0)
	}
	switch e.Kind {
	case KindGroupMessage:
		e.SendUin = value.Get("send_uin").String()
		e.GroupCode = value.Get("group_code").String()
		e.GroupNumber = value.Get("info_seq").String()
		e.Fragments = decodeContent(value.Get("content"))
	case KindDiscussMessage:
		e.SendUin = value.Get("send_uin").String()
		e.DiscussID = value.Get("did").String()
		e.Fragments = decodeContent(value.Get("content"))
	case KindBuddyMessage, KindSessMessage:
		e.SendUin = e.FromUin
		e.Fragments = decodeContent(value.Get("content"))
	case KindStatusChange:
		e.FromUin = value.Get("uin").String()
		e.Status = value.Get("status").String()
	case KindKick:
		e.Reason = value.Get("reason").String()
	case KindSystem:
		e.SubType = value.Get("type").String()
	case KindSysGroupMessage:
		e.SubType = value.Get("type").String()
		e.GroupCode = value.Get("gcode").String()
		e.GroupNumber = value.Get("t_gcode").String()
		e.NewMember = value.Get("new_member").String()
	}
	return e
}

// decodeContent content 形如 [["font",{...}],"hello ",["face",14]]
func decodeContent(content gjson.Result) []Fragment {
	var fragments []Fragment
	content.ForEach(func(_, item gjson.Result) bool {
		if item.Type == gjson.String {
			fragments = append(fragments, &TextFragment{Text: item.String()})
			return true
		}
		if !item.IsArray() {
			return true
		}
		arr := item.Array()
		if len(arr) < 2 {
			return true
		}
		switch arr[0].String() {
		case "face":
			fragments = append(fragments, &FaceFragment{ID: int(arr[1].Int())})
		case "font":
			font := &FontFragment{
				Name:  arr[1].Get("name").String(),
				Size:  int(arr[1].Get("size").Int()),
				Color: arr[1].Get("color").String(),
			}
			for _, s := range arr[1].Get("style").Array() {
				font.Style = append(font.Style, int(s.Int()))
			}
			fragments = append(fragments, font)
		case "cface", "offpic":
			name := arr[1].String()
			if arr[1].IsObject() {
				name = arr[1].Get("name").String()
				if name == "" {
					name = arr[1].Get("file_path").String()
				}
			}
			fragments = append(fragments, &ImageFragment{Name: name})
		default:
			logger.WithField("fragment", item.Raw).Debug("未知的消息片段")
		}
		return true
	})
	return fragments
}

// encodeContent 生成 send_qun_msg2 需要的 content 字段
func encodeContent(text string) (string, error) {
	content := []interface{}{
		text,
		[]interface{}{"font", map[string]interface{}{
			"name":  fontName,
			"size":  "10",
			"style": []int{0, 0, 0},
			"color": "000000",
		}},
	}
	b, err := json.Marshal(content)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// numberOrString gid 这类字段在请求中需要是数字
func numberOrString(s string) interface{} {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	return s
}
