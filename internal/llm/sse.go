package llm

import (
	"bufio"
	"bytes"
	"io"
)

const maxSSELine = 1 << 20

// readSSE calls fn with the payload of every "data:" line until fn returns
// false or the body ends.
func readSSE(r io.Reader, fn func(data []byte) bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSSELine)
	for scanner.Scan() {
		line := scanner.Bytes()
		data, ok := bytes.CutPrefix(line, []byte("data:"))
		if !ok {
			continue
		}
		data = bytes.TrimSpace(data)
		if len(data) == 0 || bytes.Equal(data, []byte("[DONE]")) {
			continue
		}
		if !fn(data) {
			return nil
		}
	}
	return scanner.Err()
}

// errorBody reads a bounded prefix of a failed response for logs.
func errorBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 4096))
	return string(bytes.TrimSpace(b))
}
