// Package identity derives stable cache keys from page URLs.
//
// Two URLs that differ only in query parameters, fragments, session tokens or
// dynamic path segments (numeric IDs, UUIDs, long hex blobs) map to the same
// key. The key is host + normalized path; structurally different pages behind
// the same path will collide, which the cache tolerates: a failed cached
// replay falls through to pattern matching.
package identity

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	numericSeg = regexp.MustCompile(`^\d+$`)
	uuidSeg    = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	hexSeg     = regexp.MustCompile(`^[0-9a-fA-F]{16,}$`)
	tokenSeg   = regexp.MustCompile(`^[A-Za-z0-9_-]{24,}$`)
)

// FromURL normalizes raw into a PageIdentity key. An unparseable URL is
// returned trimmed as-is so the caller still gets a usable, if imperfect, key.
func FromURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	path := u.EscapedPath()
	segs := strings.Split(path, "/")
	for i, seg := range segs {
		if seg == "" {
			continue
		}
		if numericSeg.MatchString(seg) || uuidSeg.MatchString(seg) || hexSeg.MatchString(seg) || tokenSeg.MatchString(seg) {
			segs[i] = ":id"
		}
	}
	path = strings.Join(segs, "/")
	path = strings.TrimSuffix(path, "/")
	if path == "" {
		path = "/"
	}

	host := strings.ToLower(u.Host)
	host = strings.TrimPrefix(host, "www.")
	if host == "" {
		return path
	}
	return host + path
}
