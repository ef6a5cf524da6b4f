package client

import (
	"bufio"
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/ethanadams/awsreq/internal/awserr"
	"github.com/ethanadams/awsreq/internal/sigv4"
)

type frame struct {
	size      int
	signature string
	data      []byte
}

// parseAwsChunked decodes the aws-chunked framing server-side.
func parseAwsChunked(t *testing.T, body io.Reader) []frame {
	t.Helper()
	br := bufio.NewReader(body)
	var frames []frame

	for {
		line, err := br.ReadString('\n')
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("read frame header: %v", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}

		sizeStr, ext, _ := strings.Cut(line, ";")
		signature := strings.TrimPrefix(ext, "chunk-signature=")
		size, err := strconv.ParseInt(sizeStr, 16, 64)
		if err != nil {
			t.Fatalf("bad chunk size %q: %v", sizeStr, err)
		}

		data := make([]byte, size)
		if size > 0 {
			if _, err := io.ReadFull(br, data); err != nil {
				t.Fatalf("read chunk payload: %v", err)
			}
		}
		frames = append(frames, frame{size: int(size), signature: signature, data: data})
		if size == 0 {
			break
		}
	}
	return frames
}

// verifyChain recomputes every chunk signature from the seed in the
// Authorization header, independently of the implementation under
// test.
func verifyChain(t *testing.T, r *http.Request, secretKey string, frames []frame) {
	t.Helper()

	auth := r.Header.Get("Authorization")
	_, rest, _ := strings.Cut(auth, "Credential=")
	credential, _, _ := strings.Cut(rest, ",")
	parts := strings.Split(credential, "/") // accessKey/date/region/service/aws4_request
	if len(parts) != 5 {
		t.Fatalf("malformed credential %q", credential)
	}
	scope := strings.Join(parts[1:], "/")

	_, sigPart, _ := strings.Cut(auth, "Signature=")
	prev := sigPart

	mac := func(key []byte, msg string) []byte {
		h := hmac.New(sha256.New, key)
		h.Write([]byte(msg))
		return h.Sum(nil)
	}
	key := []byte("AWS4" + secretKey)
	for _, msg := range []string{parts[1], parts[2], parts[3], "aws4_request"} {
		key = mac(key, msg)
	}

	for i, f := range frames {
		sum := sha256.Sum256(f.data)
		stringToSign := strings.Join([]string{
			"AWS4-HMAC-SHA256-PAYLOAD",
			r.Header.Get("X-Amz-Date"),
			scope,
			prev,
			sigv4.EmptyPayloadHash,
			hex.EncodeToString(sum[:]),
		}, "\n")
		want := hex.EncodeToString(mac(key, stringToSign))
		if f.signature != want {
			t.Errorf("chunk %d signature = %s, want %s", i, f.signature, want)
		}
		prev = want
	}
}

func TestPutStreamDelivers(t *testing.T) {
	payload := bytes.Repeat([]byte("streaming payload "), 1500) // ~26 KiB, several chunks
	provider := testProvider()

	var frames []frame
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Amz-Content-Sha256"); got != sigv4.StreamingPayload {
			t.Errorf("x-amz-content-sha256 = %q", got)
		}
		if got := r.Header.Get("Content-Encoding"); got != "aws-chunked" {
			t.Errorf("content-encoding = %q", got)
		}
		if got := r.Header.Get("X-Amz-Decoded-Content-Length"); got != strconv.Itoa(len(payload)) {
			t.Errorf("x-amz-decoded-content-length = %q", got)
		}
		if got := r.Header.Get("X-Amz-Storage-Class"); got != "STANDARD" {
			t.Errorf("x-amz-storage-class = %q", got)
		}
		if r.Header.Get("Content-Length") != "" {
			t.Error("Content-Length must be absent for streaming uploads")
		}
		if !strings.Contains(r.Header.Get("Authorization"), "x-amz-decoded-content-length") {
			t.Error("decoded length header not in signed set")
		}

		frames = parseAwsChunked(t, r.Body)
		verifyChain(t, r, provider.value.SecretAccessKey, frames)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := testClient(t, srv, provider, 0)
	open := func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(payload)), nil
	}

	if err := c.PutStream(context.Background(), "/bucket/large.bin", open, int64(len(payload)), ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(frames) == 0 {
		t.Fatal("server received no chunks")
	}
	last := frames[len(frames)-1]
	if last.size != 0 {
		t.Error("stream did not terminate with the zero-length chunk")
	}

	var decoded bytes.Buffer
	for _, f := range frames {
		decoded.Write(f.data)
	}
	if !bytes.Equal(decoded.Bytes(), payload) {
		t.Error("decoded payload does not match the input")
	}
}

func TestPutStreamPreservesContentEncoding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Content-Encoding"); got != "aws-chunked,gzip" {
			t.Errorf("content-encoding = %q, want aws-chunked,gzip", got)
		}
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := testClient(t, srv, testProvider(), 0)
	open := func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader("compressed bytes")), nil
	}
	if err := c.PutStream(context.Background(), "/bucket/file.gz", open, 16, "gzip"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPutStreamChunkSizePrecondition(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	defer srv.Close()

	c := testClient(t, srv, testProvider(), 3)
	c.cfg.ChunkSize = 4096

	opens := 0
	open := func() (io.ReadCloser, error) {
		opens++
		return io.NopCloser(strings.NewReader("data")), nil
	}

	err := c.PutStream(context.Background(), "/bucket/key", open, 4, "")
	var preErr *awserr.PreconditionError
	if !errors.As(err, &preErr) {
		t.Fatalf("expected PreconditionError for 4096-byte chunks, got %v", err)
	}
	if hits != 0 {
		t.Error("an HTTP call was made despite the precondition failure")
	}
	if opens != 0 {
		t.Error("the payload stream was opened despite the precondition failure")
	}
}

// A failed streaming attempt is not resumable: the retry must reopen
// the payload from byte 0 and seed a brand-new signature chain.
func TestPutStreamRetryRestartsFromZero(t *testing.T) {
	payload := bytes.Repeat([]byte("y"), 2*sigv4.MinChunkSize)

	attempt := 0
	var decoded [][]byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempt++
		frames := parseAwsChunked(t, r.Body)
		var buf bytes.Buffer
		for _, f := range frames {
			buf.Write(f.data)
		}
		decoded = append(decoded, buf.Bytes())

		if attempt == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"__type":"InternalFailure"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := testClient(t, srv, testProvider(), 1)

	opens := 0
	open := func() (io.ReadCloser, error) {
		opens++
		return io.NopCloser(bytes.NewReader(payload)), nil
	}

	if err := c.PutStream(context.Background(), "/bucket/key", open, int64(len(payload)), ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if opens != 2 {
		t.Errorf("payload opened %d times, want once per attempt", opens)
	}
	if len(decoded) != 2 {
		t.Fatalf("server saw %d attempts, want 2", len(decoded))
	}
	if !bytes.Equal(decoded[1], payload) {
		t.Error("retried upload did not restart from byte 0")
	}
}
