package sigv4

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/ethanadams/awsreq/internal/awserr"
)

// MinChunkSize is the smallest allowed streaming chunk. Smaller blocks
// would spend more bytes and HMACs on framing than on payload, so they
// are rejected before any I/O happens.
const MinChunkSize = 8 * 1024

const chunkSignatureHeader = ";chunk-signature="

// ChunkSigner computes the signature chain for a streaming upload.
// Chunk i's string to sign includes chunk i-1's signature, so chunks
// are order-dependent and must be signed and emitted strictly in
// sequence. The only state carried between chunks is the previous
// signature. Not safe for concurrent use; a chain belongs to exactly
// one upload attempt.
type ChunkSigner struct {
	signingKey []byte
	timeStamp  string
	scope      string
	prev       string
}

// ChunkSigner seeds a chain from the signature of the upload's own
// headers; that seed acts as chunk 0's previous signature. A retried
// upload must re-sign its headers and seed a new chain.
func (sig *Signature) ChunkSigner() *ChunkSigner {
	return &ChunkSigner{
		signingKey: sig.signingKey,
		timeStamp:  sig.timeStamp,
		scope:      sig.CredentialScope,
		prev:       sig.Signature,
	}
}

// SignChunk signs one chunk's payload hash and advances the chain.
// The terminal zero-length chunk is signed by passing EmptyPayloadHash.
func (cs *ChunkSigner) SignChunk(chunkPayloadHash string) string {
	stringToSign := strings.Join([]string{
		chunkAlgorithm,
		cs.timeStamp,
		cs.scope,
		cs.prev,
		EmptyPayloadHash,
		chunkPayloadHash,
	}, "\n")
	cs.prev = hex.EncodeToString(hmacSHA256(cs.signingKey, []byte(stringToSign)))
	return cs.prev
}

// ChunkedReader turns a plain payload reader into the aws-chunked wire
// stream: each frame is "hex(size);chunk-signature=<sig>\r\n<data>\r\n"
// and a signed zero-length frame always terminates the stream. Memory
// use is one chunk regardless of payload size.
type ChunkedReader struct {
	src       io.Reader
	signer    *ChunkSigner
	chunkSize int
	buf       bytes.Buffer
	data      []byte
	done      bool
}

// NewChunkedReader wraps src in the signed chunk framing. chunkSize
// below MinChunkSize is a precondition violation reported before any
// byte of src is read.
func NewChunkedReader(src io.Reader, chunkSize int, signer *ChunkSigner) (*ChunkedReader, error) {
	if chunkSize < MinChunkSize {
		return nil, &awserr.PreconditionError{
			Op:      "stream",
			Message: fmt.Sprintf("chunk size %d below minimum %d", chunkSize, MinChunkSize),
		}
	}
	return &ChunkedReader{
		src:       src,
		signer:    signer,
		chunkSize: chunkSize,
		data:      make([]byte, chunkSize),
	}, nil
}

func (r *ChunkedReader) Read(p []byte) (int, error) {
	for r.buf.Len() == 0 {
		if r.done {
			return 0, io.EOF
		}
		if err := r.nextFrame(); err != nil {
			return 0, err
		}
	}
	return r.buf.Read(p)
}

// nextFrame reads one chunk of payload, signs it, and stages the
// framed bytes. On source EOF it stages the terminal zero-length
// frame instead.
func (r *ChunkedReader) nextFrame() error {
	n, err := io.ReadFull(r.src, r.data)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return err
	}

	if n > 0 {
		sum := sha256.Sum256(r.data[:n])
		signature := r.signer.SignChunk(hex.EncodeToString(sum[:]))
		fmt.Fprintf(&r.buf, "%x%s%s\r\n", n, chunkSignatureHeader, signature)
		r.buf.Write(r.data[:n])
		r.buf.WriteString("\r\n")
		return nil
	}

	signature := r.signer.SignChunk(EmptyPayloadHash)
	fmt.Fprintf(&r.buf, "0%s%s\r\n\r\n", chunkSignatureHeader, signature)
	r.done = true
	return nil
}

// EncodedLength returns the exact wire length of an aws-chunked stream
// carrying decodedLength payload bytes in chunkSize blocks, framing
// and terminal chunk included.
func EncodedLength(decodedLength int64, chunkSize int) int64 {
	frame := func(size int64) int64 {
		header := int64(len(fmt.Sprintf("%x", size))) + int64(len(chunkSignatureHeader)) + 64 + 2
		return header + size + 2
	}

	var total int64
	remaining := decodedLength
	for remaining > 0 {
		size := int64(chunkSize)
		if remaining < size {
			size = remaining
		}
		total += frame(size)
		remaining -= size
	}
	return total + frame(0)
}
