// Package sigv4 implements AWS Signature Version 4 request signing,
// including the streaming chunk-signature chain used by aws-chunked
// uploads, using only the Go standard library for the crypto itself.
package sigv4

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

const (
	// Algorithm identifies the header-signing algorithm in the
	// Authorization header and the string to sign.
	Algorithm = "AWS4-HMAC-SHA256"

	// chunkAlgorithm identifies the per-chunk string to sign for
	// streaming uploads.
	chunkAlgorithm = "AWS4-HMAC-SHA256-PAYLOAD"

	terminator = "aws4_request"

	// TimeFormat is the ISO8601 basic format for x-amz-date.
	TimeFormat = "20060102T150405Z"

	// DateFormat is the short date used in the credential scope.
	DateFormat = "20060102"

	// UnsignedPayload skips payload hashing entirely.
	UnsignedPayload = "UNSIGNED-PAYLOAD"

	// StreamingPayload is the payload-hash sentinel for chunked
	// uploads whose body is signed chunk by chunk.
	StreamingPayload = "STREAMING-AWS4-HMAC-SHA256-PAYLOAD"

	// EmptyPayloadHash is SHA256 of zero bytes, used for bodiless
	// requests and in every chunk's string to sign.
	EmptyPayloadHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
)

// Credentials is an immutable snapshot of long-lived signing material.
// The signer borrows it for a single attempt and never stores it.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// HashPayload returns the lowercase hex SHA256 digest of data.
func HashPayload(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func hmacSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}
