package msgstringer

import (
	"strconv"
	"strings"

	"github.com/cnxysoft/DDBOT-WebQQ/utils"
	"github.com/cnxysoft/DDBOT-WebQQ/webqq"
	"github.com/davecgh/go-spew/spew"
)

var logger = utils.GetModuleLogger("msgstringer")

// MsgToString 把消息片段渲染成纯文本，用于日志与命令匹配，字体信息会被忽略
func MsgToString(fragments []webqq.Fragment) string {
	var res strings.Builder
	for _, frag := range fragments {
		if frag == nil {
			continue
		}
		switch e := frag.(type) {
		case *webqq.TextFragment:
			res.WriteString(e.Text)
		case *webqq.FaceFragment:
			res.WriteString("[Face:")
			if id := e.Standard(); id >= 0 {
				res.WriteString(strconv.Itoa(id))
			} else {
				res.WriteString("?")
			}
			res.WriteString("]")
		case *webqq.ImageFragment:
			res.WriteString("[Image]")
		case *webqq.FontFragment:
		default:
			logger.Debugf("未知的消息片段 %v", spew.Sdump(frag))
		}
	}
	return res.String()
}
