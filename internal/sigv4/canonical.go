package sigv4

import (
	"net/url"
	"sort"
	"strings"

	"github.com/ethanadams/awsreq/internal/awserr"
)

// BuildCanonicalRequest serializes a request into the fixed canonical
// form that gets hashed into the string to sign. Header names are
// case-folded to lowercase; values are used verbatim. The returned
// signed-header list is sorted and is exactly the set serialized into
// the canonical headers block.
//
// uri must be in absolute-path form. A missing leading slash is a
// caller bug and is reported, not repaired, so that the signed path and
// the path the transport sends can never drift apart.
func BuildCanonicalRequest(method, uri string, query url.Values, headers map[string]string, payloadHash string) (string, []string, error) {
	if !strings.HasPrefix(uri, "/") {
		return "", nil, &awserr.PreconditionError{Op: "sign", Message: "request path must begin with /: " + uri}
	}

	lower := make(map[string]string, len(headers))
	names := make([]string, 0, len(headers))
	for name, value := range headers {
		ln := strings.ToLower(name)
		if _, dup := lower[ln]; dup {
			return "", nil, &awserr.PreconditionError{Op: "sign", Message: "duplicate signed header: " + ln}
		}
		lower[ln] = value
		names = append(names, ln)
	}
	sort.Strings(names)

	var canonicalHeaders strings.Builder
	for _, name := range names {
		canonicalHeaders.WriteString(name)
		canonicalHeaders.WriteByte(':')
		canonicalHeaders.WriteString(lower[name])
		canonicalHeaders.WriteByte('\n')
	}

	canonical := strings.Join([]string{
		method,
		encodePath(uri),
		canonicalQueryString(query),
		canonicalHeaders.String(),
		strings.Join(names, ";"),
		payloadHash,
	}, "\n")

	return canonical, names, nil
}

// encodePath escapes each path segment, leaving the separating slashes
// intact.
func encodePath(path string) string {
	segments := strings.Split(path, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return strings.Join(segments, "/")
}

// canonicalQueryString sorts parameters by key and escapes them the
// way the service expects: spaces as %20, never +. An empty query is
// valid and serializes to the empty string.
func canonicalQueryString(query url.Values) string {
	if len(query) == 0 {
		return ""
	}

	keys := make([]string, 0, len(query))
	for key := range query {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var parts []string
	for _, key := range keys {
		for _, value := range query[key] {
			parts = append(parts, escapeQuery(key)+"="+escapeQuery(value))
		}
	}
	return strings.Join(parts, "&")
}

func escapeQuery(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
