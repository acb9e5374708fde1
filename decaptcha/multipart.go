package decaptcha

import (
	"bytes"
	"fmt"
	"math/rand"
	"time"
)

const boundaryPrefix = "----------------------------"

func generateBoundary() string {
	r := rand.New(rand.NewSource(time.Now().Unix()))
	return fmt.Sprintf("%06x%06x", r.Uint32(), r.Uint32())[:12]
}

func contentType(boundary string) string {
	return "multipart/form-data; boundary=" + boundaryPrefix + boundary
}

// buildMultipartFormData 手动拼装 in.php 需要的表单，分隔行比 Content-Type 中的 boundary 多两个 '-'
func buildMultipartFormData(key string, image []byte, boundary string) []byte {
	delimiter := "--" + boundaryPrefix + boundary
	var buf bytes.Buffer
	writeField := func(name, value string) {
		buf.WriteString(delimiter + "\r\n")
		buf.WriteString(`Content-Disposition: form-data; name="` + name + `"` + "\r\n\r\n")
		buf.WriteString(value + "\r\n")
	}
	writeField("method", "post")
	writeField("key", key)
	writeField("regsense", "0")

	buf.WriteString(delimiter + "\r\n")
	buf.WriteString(`Content-Disposition: form-data; name="file"; filename="vercode.jpeg"` + "\r\n")
	buf.WriteString("Content-Type: image/jpeg\r\n\r\n")
	buf.Write(image)
	buf.WriteString("\r\n")

	buf.WriteString(delimiter + "--\r\n")
	return buf.Bytes()
}
