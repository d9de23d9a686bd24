// Package cacheerr 定义离线缓存的三类错误：FetchError（网络不可达、DNS、超时）、
// StorageError（配额不足、存储不可用）以及 MalformedManifestError（应用清单非 JSON 或结构非法）。
// 所有错误均为 jmgilman/go/errors 的 PlatformError，可通过 errors.Is/As 与错误码判定类别。
package cacheerr

import (
	"context"
	stderrors "errors"
	"net"

	perrors "github.com/jmgilman/go/errors"
)

// 存储相关错误码，PlatformError 的 ErrorCode 为字符串类型，允许业务侧扩展。
const (
	CodeStorage perrors.ErrorCode = "STORAGE_ERROR"
	CodeQuota   perrors.ErrorCode = "STORAGE_QUOTA_EXCEEDED"
)

// Fetch 将网络层错误包装为 FetchError，超时归类为 TIMEOUT，其余为 NETWORK_ERROR。
func Fetch(err error, target string) error {
	if err == nil {
		return nil
	}
	code := perrors.CodeNetwork
	if isTimeout(err) {
		code = perrors.CodeTimeout
	}
	return perrors.WithContext(perrors.Wrap(err, code, "fetch failed"), "url", target)
}

// FetchStatus 表示请求已完成但状态码不可用于预缓存（例如 404/500）。
func FetchStatus(target string, status int) error {
	err := perrors.Newf(perrors.CodeNetwork, "unexpected status %d", status)
	return perrors.WithContextMap(err, map[string]interface{}{
		"url":    target,
		"status": status,
	})
}

// Storage 包装缓存后端错误，op 标记出错的操作（open/get/put/drop/list）。
func Storage(err error, op string) error {
	if err == nil {
		return nil
	}
	return perrors.WithContext(perrors.Wrap(err, CodeStorage, "cache storage failed"), "op", op)
}

// Quota 表示单条缓存超过配额，写入被丢弃。
func Quota(size, limit int64) error {
	err := perrors.Newf(CodeQuota, "entry size %d exceeds limit %d", size, limit)
	return perrors.WithContextMap(err, map[string]interface{}{
		"op":    "put",
		"size":  size,
		"limit": limit,
	})
}

// MalformedManifest 表示应用清单无法解析或缺少必填字段。
func MalformedManifest(err error, reason string) error {
	if err == nil {
		return perrors.New(perrors.CodeSchemaFailed, reason)
	}
	return perrors.Wrap(err, perrors.CodeSchemaFailed, reason)
}

// IsFetch 判断错误链中是否包含 FetchError。
func IsFetch(err error) bool {
	return hasCode(err, perrors.CodeNetwork, perrors.CodeTimeout)
}

// IsStorage 判断错误链中是否包含 StorageError（含配额错误）。
func IsStorage(err error) bool {
	return hasCode(err, CodeStorage, CodeQuota)
}

// IsMalformedManifest 判断错误是否来自清单解析。
func IsMalformedManifest(err error) bool {
	return hasCode(err, perrors.CodeSchemaFailed)
}

// Response 生成可直接 JSON 输出的错误描述，不暴露内部错误链。
func Response(err error) *perrors.ErrorResponse {
	return perrors.ToJSON(err)
}

// hasCode 遍历错误链（含 errors.Join 的多分支），任一节点命中即返回 true。
func hasCode(err error, codes ...perrors.ErrorCode) bool {
	if err == nil {
		return false
	}
	if pe, ok := err.(perrors.PlatformError); ok {
		for _, code := range codes {
			if pe.Code() == code {
				return true
			}
		}
	}
	switch unwrapped := err.(type) {
	case interface{ Unwrap() []error }:
		for _, inner := range unwrapped.Unwrap() {
			if hasCode(inner, codes...) {
				return true
			}
		}
		return false
	case interface{ Unwrap() error }:
		return hasCode(unwrapped.Unwrap(), codes...)
	}
	return false
}

func isTimeout(err error) bool {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return stderrors.As(err, &netErr) && netErr.Timeout()
}
