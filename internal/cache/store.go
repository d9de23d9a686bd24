package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Store 是缓存后端的最小契约。后端只处理编码后的字节，不关心 Response 结构：
//
//	<site>/<generation>/<entry>    # entry = sha1(method + " " + absolute URL)
//
// 单次 Put 必须是整条替换（磁盘通过临时文件 + rename，redis/s3 天然整值覆盖）。
type Store interface {
	// Driver 返回后端名称（disk/redis/s3），用于日志与诊断。
	Driver() string

	// Open 幂等地创建 bucket，已存在时不做任何事。
	Open(ctx context.Context, id BucketID) error

	// Get 读取条目原始字节，不存在时返回 ErrNotFound。
	Get(ctx context.Context, id BucketID, entry string) ([]byte, error)

	// Put 以覆盖语义写入条目。
	Put(ctx context.Context, id BucketID, entry string, data []byte) error

	// Generations 列出站点下现存的全部 generation。
	Generations(ctx context.Context, site string) ([]string, error)

	// Drop 删除整个 bucket，bucket 不存在时视为成功。
	Drop(ctx context.Context, id BucketID) error
}

// BucketID 唯一定位一个 bucket：站点 + generation。
type BucketID struct {
	Site       string
	Generation string
}

func (id BucketID) String() string {
	return id.Site + "/" + id.Generation
}

// Validate 拒绝空值与可能逃逸存储根目录的名称。
func (id BucketID) Validate() error {
	if err := validateName("site", id.Site); err != nil {
		return err
	}
	return validateName("generation", id.Generation)
}

func validateName(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s required", field)
	}
	if value == "." || value == ".." || strings.ContainsAny(value, `/\:*?[]`) {
		return fmt.Errorf("invalid %s name: %q", field, value)
	}
	return nil
}

// Response 是缓存中保存的响应快照。
type Response struct {
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// OK 与 fetch Response.ok 一致：2xx 视为成功。
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}

// Clone 返回字节一致且可独立消费的副本，写缓存与返回调用方必须各用一份。
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	cloned := &Response{
		Status:   r.Status,
		Header:   r.Header.Clone(),
		StoredAt: r.StoredAt,
	}
	if r.Body != nil {
		cloned.Body = append([]byte(nil), r.Body...)
	}
	if cloned.Header == nil {
		cloned.Header = http.Header{}
	}
	return cloned
}

// Key 构造请求身份：大写方法 + 空格 + 绝对 URL。
func Key(method, absURL string) string {
	return strings.ToUpper(strings.TrimSpace(method)) + " " + absURL
}

// EntryName 将请求身份映射为后端安全的条目名。
func EntryName(key string) string {
	sum := sha1.Sum([]byte(key))
	return hex.EncodeToString(sum[:])
}

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")
