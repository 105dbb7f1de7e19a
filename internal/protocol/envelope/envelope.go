package envelope

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// SQRL frames everything as unpadded base64url wrapping CRLF-terminated
// name=value blocks. The encoder never emits padding; the decoder accepts
// input with or without it.

func Encode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

func Decode(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

// ParseBlock decodes a CRLF name-value block. The name is everything up to
// the first '='; the value may itself contain '='. Blank lines are skipped;
// a non-blank line without '=' is a parse error.
func ParseBlock(data []byte) (map[string]string, error) {
	fields := make(map[string]string)
	for _, line := range strings.Split(string(data), "\r\n") {
		if line == "" {
			continue
		}
		i := strings.Index(line, "=")
		if i < 0 {
			return nil, fmt.Errorf("name-value line without '=': %q", line)
		}
		fields[line[:i]] = line[i+1:]
	}
	return fields, nil
}

// EncodeBlock emits pairs in the given order, one name=value per line,
// CRLF-terminated including the last line.
func EncodeBlock(pairs [][2]string) []byte {
	var b strings.Builder
	for _, p := range pairs {
		b.WriteString(p[0])
		b.WriteString("=")
		b.WriteString(p[1])
		b.WriteString("\r\n")
	}
	return []byte(b.String())
}
