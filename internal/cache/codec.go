package cache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrCorruptEntry 表示条目无法解码（例如被中断的写入），读取方应按未命中处理。
var ErrCorruptEntry = errors.New("cache entry corrupt")

// envelope 是条目的头部，单行 JSON，正文紧随换行符之后。
type envelope struct {
	Key      string      `json:"key"`
	Status   int         `json:"status"`
	Header   http.Header `json:"header,omitempty"`
	StoredAt time.Time   `json:"stored_at"`
	Size     int         `json:"size"`
}

// Encode 将响应编码为 "<json header>\n<body>"。
func Encode(key string, resp *Response) ([]byte, error) {
	if resp == nil {
		return nil, errors.New("nil response")
	}
	head, err := json.Marshal(envelope{
		Key:      key,
		Status:   resp.Status,
		Header:   resp.Header,
		StoredAt: resp.StoredAt.UTC(),
		Size:     len(resp.Body),
	})
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, len(head)+1+len(resp.Body))
	buf = append(buf, head...)
	buf = append(buf, '\n')
	buf = append(buf, resp.Body...)
	return buf, nil
}

// Decode 解析 Encode 的输出，返回条目记录的请求身份与响应。
func Decode(data []byte) (string, *Response, error) {
	idx := bytes.IndexByte(data, '\n')
	if idx < 0 {
		return "", nil, fmt.Errorf("%w: missing header", ErrCorruptEntry)
	}
	var head envelope
	if err := json.Unmarshal(data[:idx], &head); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrCorruptEntry, err)
	}
	body := data[idx+1:]
	if len(body) != head.Size {
		return "", nil, fmt.Errorf("%w: size mismatch %d != %d", ErrCorruptEntry, len(body), head.Size)
	}
	header := head.Header
	if header == nil {
		header = http.Header{}
	}
	return head.Key, &Response{
		Status:   head.Status,
		Header:   header,
		Body:     append([]byte(nil), body...),
		StoredAt: head.StoredAt,
	}, nil
}
