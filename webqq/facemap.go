package webqq

import (
	_ "embed"
	"strconv"
	"sync"

	"github.com/tidwall/gjson"
)

//go:embed facemap.json
var faceMapJson []byte

var (
	faceMapOnce sync.Once
	faceMap     map[int]int
)

// FaceMap WebQQ 表情编号到标准表情编号的映射，只读
func FaceMap() map[int]int {
	faceMapOnce.Do(func() {
		m := make(map[int]int)
		gjson.ParseBytes(faceMapJson).ForEach(func(key, value gjson.Result) bool {
			id, err := strconv.Atoi(key.String())
			if err != nil {
				logger.WithField("key", key.String()).Warn("表情编号格式错误")
				return true
			}
			m[id] = int(value.Int())
			return true
		})
		faceMap = m
	})
	return faceMap
}
