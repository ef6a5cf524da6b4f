package sigv4

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"testing"

	"github.com/ethanadams/awsreq/internal/awserr"
)

// Streaming upload example from the public SigV4 documentation:
// 66560 bytes of 'a' in 64 KiB chunks, REDUCED_REDUNDANCY, 20130524.
func buildStreamingSeed(t *testing.T) *Signature {
	t.Helper()
	req, err := http.NewRequest(http.MethodPut, "https://s3.amazonaws.com/examplebucket/chunkObject.txt", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.ContentLength = 66824
	req.Header.Set("Content-Encoding", "aws-chunked")
	req.Header.Set("X-Amz-Decoded-Content-Length", "66560")
	req.Header.Set("X-Amz-Storage-Class", "REDUCED_REDUNDANCY")

	signer := NewSigner("us-east-1", "s3")
	sig, err := signer.Sign(req, exampleCredentials(), StreamingPayload, exampleTime)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return sig
}

func TestChunkSignatureChainReferenceVector(t *testing.T) {
	sig := buildStreamingSeed(t)

	if want := "4f232c4386841ef735655705268965c44a0e4690baa4adea153f7db9fa80a0a9"; sig.Signature != want {
		t.Fatalf("seed signature = %s, want %s", sig.Signature, want)
	}

	cs := sig.ChunkSigner()
	chunk1 := cs.SignChunk(HashPayload(bytes.Repeat([]byte("a"), 65536)))
	chunk2 := cs.SignChunk(HashPayload(bytes.Repeat([]byte("a"), 1024)))
	final := cs.SignChunk(EmptyPayloadHash)

	if want := "ad80c730a21e5b8d04586a2213dd63b9a0e99e0e2307b0ade35a65485a288648"; chunk1 != want {
		t.Errorf("chunk 1 signature = %s, want %s", chunk1, want)
	}
	if want := "0055627c9e194cb4542bae2aa5492e3c1575bbb81b612b7d234b86a503ef5497"; chunk2 != want {
		t.Errorf("chunk 2 signature = %s, want %s", chunk2, want)
	}
	if want := "b6c6ea8a5354eaf15b3cb7646744f4275b71ea724fed81ceb9323e279d449df9"; final != want {
		t.Errorf("final chunk signature = %s, want %s", final, want)
	}
}

// Reordering chunks without recomputing the chain must be detectable:
// each signature depends on both the chunk payload and the previous
// signature.
func TestChunkSignatureChainOrderDependence(t *testing.T) {
	chunkA := HashPayload([]byte("first chunk"))
	chunkB := HashPayload([]byte("second chunk"))

	forward := buildStreamingSeed(t).ChunkSigner()
	fwdA := forward.SignChunk(chunkA)
	fwdB := forward.SignChunk(chunkB)

	swapped := buildStreamingSeed(t).ChunkSigner()
	swpB := swapped.SignChunk(chunkB)
	swpA := swapped.SignChunk(chunkA)

	if fwdA == swpB || fwdB == swpA {
		t.Error("reordered chunks produced matching signatures")
	}

	// Same payload, different previous signature.
	if fwdB == fwdA {
		t.Error("chain position did not affect the signature")
	}
	repeat := buildStreamingSeed(t).ChunkSigner()
	if got := repeat.SignChunk(chunkA); got != fwdA {
		t.Error("identical chain prefix produced a different signature")
	}
}

func TestChunkedReaderFraming(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 3*MinChunkSize+100)
	sig := buildStreamingSeed(t)

	reader, err := NewChunkedReader(bytes.NewReader(payload), MinChunkSize, sig.ChunkSigner())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	encoded, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("read encoded stream: %v", err)
	}
	if int64(len(encoded)) != EncodedLength(int64(len(payload)), MinChunkSize) {
		t.Errorf("encoded length = %d, want %d", len(encoded), EncodedLength(int64(len(payload)), MinChunkSize))
	}

	sizes, decoded := decodeChunks(t, encoded)

	if !bytes.Equal(decoded, payload) {
		t.Error("decoded payload does not match the input")
	}
	wantSizes := []int{MinChunkSize, MinChunkSize, MinChunkSize, 100, 0}
	if fmt.Sprint(sizes) != fmt.Sprint(wantSizes) {
		t.Errorf("chunk sizes = %v, want %v", sizes, wantSizes)
	}
}

func TestChunkedReaderEmptyPayload(t *testing.T) {
	sig := buildStreamingSeed(t)
	reader, err := NewChunkedReader(bytes.NewReader(nil), MinChunkSize, sig.ChunkSigner())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	encoded, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("read encoded stream: %v", err)
	}

	// Even an empty payload terminates with the signed zero chunk.
	sizes, _ := decodeChunks(t, encoded)
	if len(sizes) != 1 || sizes[0] != 0 {
		t.Errorf("chunk sizes = %v, want [0]", sizes)
	}
}

func TestChunkedReaderMinimumSize(t *testing.T) {
	sig := buildStreamingSeed(t)
	src := &failingReader{}

	_, err := NewChunkedReader(src, 4096, sig.ChunkSigner())
	var preErr *awserr.PreconditionError
	if !errors.As(err, &preErr) {
		t.Fatalf("expected PreconditionError for 4096-byte chunks, got %v", err)
	}
	if src.reads != 0 {
		t.Error("source was read before the precondition check")
	}
}

func TestEncodedLengthReferenceVector(t *testing.T) {
	// 66560 decoded bytes in 64 KiB chunks frame to 66824 wire bytes.
	if got := EncodedLength(66560, 65536); got != 66824 {
		t.Errorf("EncodedLength(66560, 65536) = %d, want 66824", got)
	}
}

type failingReader struct {
	reads int
}

func (r *failingReader) Read([]byte) (int, error) {
	r.reads++
	return 0, errors.New("should not be read")
}

// decodeChunks parses aws-chunked framing, verifying every frame
// carries a 64-hex-digit chunk-signature extension.
func decodeChunks(t *testing.T, encoded []byte) ([]int, []byte) {
	t.Helper()

	br := bufio.NewReader(bytes.NewReader(encoded))
	var sizes []int
	var decoded bytes.Buffer

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

		sizeStr, ext, found := strings.Cut(line, ";")
		if !found {
			t.Fatalf("frame header %q missing chunk extension", line)
		}
		sigHex, ok := strings.CutPrefix(ext, "chunk-signature=")
		if !ok || len(sigHex) != 64 {
			t.Fatalf("malformed chunk-signature extension %q", ext)
		}

		size, err := strconv.ParseInt(sizeStr, 16, 64)
		if err != nil {
			t.Fatalf("bad chunk size %q: %v", sizeStr, err)
		}
		sizes = append(sizes, int(size))

		if size == 0 {
			break
		}
		data := make([]byte, size)
		if _, err := io.ReadFull(br, data); err != nil {
			t.Fatalf("read chunk payload: %v", err)
		}
		decoded.Write(data)
	}

	return sizes, decoded.Bytes()
}
