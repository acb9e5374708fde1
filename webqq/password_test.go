package webqq

import (
	"testing"

	"github.com/cnxysoft/DDBOT-WebQQ/internal/test"
	"github.com/stretchr/testify/assert"
)

func TestEncryptPassword(t *testing.T) {
	uin := []byte{0, 0, 0, 0, 0, 0x12, 0xd6, 0x87}
	assert.Equal(t, "78FB580A24CBB2347164BF80BB525D01", encryptPassword(test.Password, uin, "!ABC"))
	assert.Equal(t, "78FB580A24CBB2347164BF80BB525D01", encryptPassword(test.Password, uin, "!abc"))
	assert.NotEqual(t, encryptPassword(test.Password, uin, "!ABC"), encryptPassword(test.Password, uin, "!ABD"))
}

func TestParseUinBytes(t *testing.T) {
	var tests = []struct {
		input    string
		expected []byte
		hasErr   bool
	}{
		{`\x00\x00\x00\x00\x00\x12\xd6\x87`, []byte{0, 0, 0, 0, 0, 0x12, 0xd6, 0x87}, false},
		{`\X0A`, []byte{0x0a}, false},
		{``, nil, false},
		{`\x0`, nil, true},
		{`\xzz`, nil, true},
		{`0x12`, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			b, err := parseUinBytes(tt.input)
			if tt.hasErr {
				assert.NotNil(t, err)
				return
			}
			assert.Nil(t, err)
			assert.Equal(t, tt.expected, b)
		})
	}
}

func TestUinBytes(t *testing.T) {
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0x12, 0xd6, 0x87}, uinBytes(test.UIN))
}
