// Package manifest 解析站点的应用清单（JSON 数组，每项至少包含 href），
// 并与固定的核心外壳列表合并成预缓存集合。
package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/any-hub/offline-hub/internal/cacheerr"
	"github.com/any-hub/offline-hub/internal/classify"
)

// Entry 是清单中的一项。除 href 外的字段原样保留在 Extra 中，预缓存时忽略。
type Entry struct {
	Href  string
	Extra map[string]any
}

// Parse 解析清单正文。非 JSON、非数组、元素不是对象或 href 为空都会返回
// MalformedManifestError。
func Parse(data []byte) ([]Entry, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, cacheerr.MalformedManifest(nil, "empty manifest")
	}
	if trimmed[0] != '[' {
		return nil, cacheerr.MalformedManifest(nil, "manifest must be a JSON array")
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, cacheerr.MalformedManifest(err, "invalid manifest JSON")
	}

	entries := make([]Entry, 0, len(raw))
	for idx, item := range raw {
		var fields map[string]any
		if err := json.Unmarshal(item, &fields); err != nil || fields == nil {
			return nil, cacheerr.MalformedManifest(err, fmt.Sprintf("entry %d is not an object", idx))
		}
		href, ok := fields["href"].(string)
		if !ok || strings.TrimSpace(href) == "" {
			return nil, cacheerr.MalformedManifest(nil, fmt.Sprintf("entry %d missing href", idx))
		}
		delete(fields, "href")
		entry := Entry{Href: strings.TrimSpace(href)}
		if len(fields) > 0 {
			entry.Extra = fields
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// PrecacheSet 以 base（站点 origin）解析核心外壳与清单 href，返回两组绝对 URL：
// coreURLs 保持配置顺序；extraURLs 去掉与核心外壳重复的项。跨域 href 与无法解析的
// href 会被丢弃，fragment 在比较前移除。
func PrecacheSet(base *url.URL, core []string, entries []Entry) (coreURLs, extraURLs []string) {
	seen := make(map[string]struct{}, len(core)+len(entries))
	add := func(dst []string, ref string) []string {
		abs, ok := resolve(base, ref)
		if !ok {
			return dst
		}
		if _, dup := seen[abs]; dup {
			return dst
		}
		seen[abs] = struct{}{}
		return append(dst, abs)
	}

	for _, ref := range core {
		coreURLs = add(coreURLs, ref)
	}
	for _, entry := range entries {
		extraURLs = add(extraURLs, entry.Href)
	}
	return coreURLs, extraURLs
}

// Resolve 将 ref 解析为 base 下的绝对 URL，跨域时返回 false。
func Resolve(base *url.URL, ref string) (string, bool) {
	return resolve(base, ref)
}

func resolve(base *url.URL, ref string) (string, bool) {
	if base == nil {
		return "", false
	}
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", false
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(parsed)
	if !classify.SameOrigin(base, abs) {
		return "", false
	}
	// 统一为源站写法，https://x:443/a 与 https://x/a 得到同一个缓存键。
	abs.Scheme = base.Scheme
	abs.Host = base.Host
	abs.Fragment = ""
	abs.RawFragment = ""
	if abs.Path == "" {
		abs.Path = "/"
	}
	return abs.String(), true
}
