package sigv4

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Signer signs HTTP requests for one region/service pair. Derived
// signing keys are memoized per access key and day; FlushKeys drops
// the memo whenever credentials rotate. Safe for concurrent use.
type Signer struct {
	region  string
	service string
	keys    *keyCache
}

// Signature is the result of signing one request. It carries enough
// context to seed a streaming chunk chain for the same request.
type Signature struct {
	CredentialScope string
	SignedHeaders   []string
	StringToSign    string
	Signature       string

	signingKey []byte
	timeStamp  string
}

// NewSigner creates a signer scoped to region and service.
func NewSigner(region, service string) *Signer {
	return &Signer{region: region, service: service, keys: newKeyCache()}
}

// Sign computes the SigV4 signature for req at the given time and
// attaches the x-amz-date, x-amz-content-sha256, optional
// x-amz-security-token, and Authorization headers. payloadHash is the
// hex SHA256 of the body, or one of the UnsignedPayload /
// StreamingPayload sentinels; the signer never reads the body itself.
//
// Signing is deterministic for fixed inputs. Each retry attempt must
// call Sign again with a fresh timestamp; signatures are only valid
// for the exact canonical bytes they were computed over and cannot be
// reused across attempts.
func (s *Signer) Sign(req *http.Request, creds Credentials, payloadHash string, at time.Time) (*Signature, error) {
	at = at.UTC()
	amzDate := at.Format(TimeFormat)
	dateStamp := at.Format(DateFormat)

	req.Header.Set("X-Amz-Date", amzDate)
	req.Header.Set("X-Amz-Content-Sha256", payloadHash)
	if creds.SessionToken != "" {
		req.Header.Set("X-Amz-Security-Token", creds.SessionToken)
	}

	canonical, signedHeaders, err := BuildCanonicalRequest(
		req.Method, requestPath(req), req.URL.Query(), signableHeaders(req), payloadHash)
	if err != nil {
		return nil, err
	}

	scope := strings.Join([]string{dateStamp, s.region, s.service, terminator}, "/")
	canonicalHash := sha256.Sum256([]byte(canonical))
	stringToSign := strings.Join([]string{
		Algorithm,
		amzDate,
		scope,
		hex.EncodeToString(canonicalHash[:]),
	}, "\n")

	signingKey := s.keys.get(creds, dateStamp, s.region, s.service)
	signature := hex.EncodeToString(hmacSHA256(signingKey, []byte(stringToSign)))

	req.Header.Set("Authorization", fmt.Sprintf("%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		Algorithm, creds.AccessKeyID, scope, strings.Join(signedHeaders, ";"), signature))

	return &Signature{
		CredentialScope: scope,
		SignedHeaders:   signedHeaders,
		StringToSign:    stringToSign,
		Signature:       signature,
		signingKey:      signingKey,
		timeStamp:       amzDate,
	}, nil
}

// FlushKeys drops all memoized signing keys. Must be called when
// credentials are refreshed or invalidated so stale secrets never
// produce another signature.
func (s *Signer) FlushKeys() {
	s.keys.flush()
}

func requestPath(req *http.Request) string {
	if req.URL.Path == "" {
		return "/"
	}
	return req.URL.Path
}

// signableHeaders selects the headers included in the signature: host,
// the content negotiation headers, range, and everything x-amz-*. The
// transport may add hop headers later; those are deliberately outside
// the signed set.
func signableHeaders(req *http.Request) map[string]string {
	headers := map[string]string{"host": req.Host}
	if req.ContentLength > 0 {
		headers["content-length"] = strconv.FormatInt(req.ContentLength, 10)
	}
	for name, values := range req.Header {
		if len(values) == 0 {
			continue
		}
		lower := strings.ToLower(name)
		switch {
		case strings.HasPrefix(lower, "x-amz-"),
			lower == "content-type",
			lower == "content-encoding",
			lower == "range":
			headers[lower] = values[0]
		}
	}
	return headers
}
