package sigv4

import (
	"strings"
	"sync"
)

// DeriveSigningKey runs the fixed HMAC-SHA256 chain that turns the
// long-lived secret into a per-date/region/service signing key.
func DeriveSigningKey(secretKey, dateStamp, region, service string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secretKey), []byte(dateStamp))
	kRegion := hmacSHA256(kDate, []byte(region))
	kService := hmacSHA256(kRegion, []byte(service))
	return hmacSHA256(kService, []byte(terminator))
}

// keyCache memoizes derived signing keys so repeated requests within a
// day don't redo the HMAC chain. Keys are valid per
// accessKeyID/date/region/service; Flush drops everything, and must be
// called whenever credentials are refreshed or invalidated.
type keyCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newKeyCache() *keyCache {
	return &keyCache{entries: make(map[string][]byte)}
}

func (c *keyCache) get(creds Credentials, dateStamp, region, service string) []byte {
	cacheKey := strings.Join([]string{creds.AccessKeyID, dateStamp, region, service}, "/")

	c.mu.Lock()
	defer c.mu.Unlock()

	if key, ok := c.entries[cacheKey]; ok {
		return key
	}
	key := DeriveSigningKey(creds.SecretAccessKey, dateStamp, region, service)
	c.entries[cacheKey] = key
	return key
}

func (c *keyCache) flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string][]byte)
}
