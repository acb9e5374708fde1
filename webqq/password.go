package webqq

import (
	"crypto/md5"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// encryptPassword 计算登录使用的密码摘要
//
//	upper(hex(md5(upper(hex(md5(md5(password) + uin))) + upper(verifyCode))))
func encryptPassword(password string, uin []byte, verifyCode string) string {
	h := md5.Sum([]byte(password))
	first := md5.Sum(append(h[:], uin...))
	second := md5.Sum([]byte(strings.ToUpper(hex.EncodeToString(first[:])) + strings.ToUpper(verifyCode)))
	return strings.ToUpper(hex.EncodeToString(second[:]))
}

// parseUinBytes 解析 ptui_checkVC 返回的 "\x00\x00\x00\x00\x00\x12\xd6\x87"
func parseUinBytes(s string) ([]byte, error) {
	var result []byte
	for len(s) > 0 {
		if len(s) < 4 || s[0] != '\\' || (s[1] != 'x' && s[1] != 'X') {
			return nil, errors.Errorf("invalid uin bytes %q", s)
		}
		b, err := strconv.ParseUint(s[2:4], 16, 8)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid uin bytes %q", s)
		}
		result = append(result, byte(b))
		s = s[4:]
	}
	return result, nil
}

// uinBytes 根据QQ号生成8字节大端表示，check 没有返回时使用
func uinBytes(uin string) []byte {
	n, _ := strconv.ParseUint(uin, 10, 64)
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(n)
		n >>= 8
	}
	return b
}
