package bridge

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// compilePattern turns a browser match pattern such as
// "*://*.perplexity.ai/*" into a glob over full URLs.
func compilePattern(pattern string) (glob.Glob, error) {
	if pattern == "<all_urls>" {
		return glob.Compile("{http,https,ws,wss,ftp,file}://**", '/')
	}

	scheme, rest, ok := strings.Cut(pattern, "://")
	if !ok {
		return nil, fmt.Errorf("match pattern %q: missing scheme", pattern)
	}
	host, path, ok := strings.Cut(rest, "/")
	if !ok {
		return nil, fmt.Errorf("match pattern %q: missing path", pattern)
	}

	var sb strings.Builder
	switch scheme {
	case "*":
		sb.WriteString("{http,https}")
	case "http", "https", "ws", "wss", "ftp", "file":
		sb.WriteString(scheme)
	default:
		return nil, fmt.Errorf("match pattern %q: unsupported scheme %q", pattern, scheme)
	}
	sb.WriteString("://")

	switch {
	case host == "*":
		sb.WriteString("*")
	case strings.HasPrefix(host, "*."):
		base := glob.QuoteMeta(host[2:])
		sb.WriteString("{" + base + ",*." + base + "}")
	case strings.Contains(host, "*"):
		return nil, fmt.Errorf("match pattern %q: wildcard must lead the host", pattern)
	default:
		sb.WriteString(glob.QuoteMeta(host))
	}

	sb.WriteString("/")
	parts := strings.Split(path, "*")
	for i, p := range parts {
		if i > 0 {
			sb.WriteString("**")
		}
		sb.WriteString(glob.QuoteMeta(p))
	}

	// host wildcards stop at the first slash, path wildcards do not
	return glob.Compile(sb.String(), '/')
}
