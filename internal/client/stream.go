package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/ethanadams/awsreq/internal/awserr"
	"github.com/ethanadams/awsreq/internal/sigv4"
)

// BodyFunc opens a fresh payload stream. It is called once per
// attempt: a failed upload is never resumed mid-stream, each retry
// restarts from byte 0 with a new seed signature and chunk chain.
type BodyFunc func() (io.ReadCloser, error)

// PutStream uploads size payload bytes to key as a chain of signed
// aws-chunked frames, never buffering more than one chunk. The seed
// signature comes from the request headers; each chunk's signature
// feeds the next, and a signed zero-length chunk terminates the
// stream. contentEncoding, if non-empty, is the payload's own encoding
// and is preserved after aws-chunked.
func (c *Client) PutStream(ctx context.Context, key string, open BodyFunc, size int64, contentEncoding string) error {
	// Reject bad block sizes before any I/O, network or disk.
	if c.cfg.ChunkSize.Int() < sigv4.MinChunkSize {
		return &awserr.PreconditionError{
			Op:      "stream",
			Message: "chunk size " + c.cfg.ChunkSize.String() + " below minimum " + strconv.Itoa(sigv4.MinChunkSize),
		}
	}

	encoding := "aws-chunked"
	if contentEncoding != "" {
		encoding += "," + contentEncoding
	}

	_, err := c.execute(ctx, "PutObjectStream", func(ctx context.Context, cr sigv4.Credentials) (*Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.objectURL(key), nil)
		if err != nil {
			return nil, err
		}

		req.Header.Set("Content-Encoding", encoding)
		req.Header.Set("X-Amz-Decoded-Content-Length", strconv.FormatInt(size, 10))
		req.Header.Set("X-Amz-Storage-Class", c.cfg.StorageClass)
		// The encoded length is knowable (sigv4.EncodedLength) but the
		// wire contract for this path is chunked transfer framing:
		// Content-Length must not be sent, even if the caller set one.
		req.Header.Del("Content-Length")
		req.ContentLength = -1

		return c.attempt(ctx, "PutObjectStream", req, sigv4.StreamingPayload, cr, func(sig *sigv4.Signature) error {
			src, err := open()
			if err != nil {
				return fmt.Errorf("open payload stream: %w", err)
			}
			chunked, err := sigv4.NewChunkedReader(src, c.cfg.ChunkSize.Int(), sig.ChunkSigner())
			if err != nil {
				src.Close()
				return err
			}
			req.Body = &chunkedBody{Reader: chunked, src: src}
			return nil
		})
	})
	if err != nil {
		return err
	}

	c.metrics.RecordUpload("PutObjectStream", size)
	return nil
}

// chunkedBody pairs the framed reader with the underlying stream's
// closer so the transport can release the source when the attempt
// ends.
type chunkedBody struct {
	io.Reader
	src io.Closer
}

func (b *chunkedBody) Close() error {
	return b.src.Close()
}
