// awscurl generates signed curl commands for AWS-compatible APIs
package main

import (
	"bytes"
	"crypto/rand"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ethanadams/awsreq/internal/sigv4"
)

func main() {
	endpoint := flag.String("endpoint", os.Getenv("AWS_ENDPOINT"), "Endpoint URL")
	accessKey := flag.String("access-key", os.Getenv("AWS_ACCESS_KEY_ID"), "Access key")
	secretKey := flag.String("secret-key", os.Getenv("AWS_SECRET_ACCESS_KEY"), "Secret key")
	sessionToken := flag.String("session-token", os.Getenv("AWS_SESSION_TOKEN"), "Session token (optional)")
	region := flag.String("region", "us-east-1", "AWS region")
	service := flag.String("service", "s3", "Service name for the credential scope")
	path := flag.String("path", "/", "Request path (must begin with /)")
	method := flag.String("method", http.MethodGet, "HTTP method")
	target := flag.String("target", "", "x-amz-target operation for JSON-RPC services")
	data := flag.String("data", "", "Request body")
	size := flag.Int("size", 0, "Random body size in bytes (overrides -data)")
	flag.Parse()

	if *endpoint == "" || *accessKey == "" || *secretKey == "" {
		fmt.Fprintln(os.Stderr, "Usage: awscurl -endpoint URL -access-key KEY -secret-key SECRET [-method PUT] [-path /bucket/key] [-data content]")
		fmt.Fprintln(os.Stderr, "\nEnvironment variables: AWS_ENDPOINT, AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY, AWS_SESSION_TOKEN")
		fmt.Fprintln(os.Stderr, "\nExamples:")
		fmt.Fprintln(os.Stderr, "  awscurl -path /mybucket/test.txt -method PUT -data 'Hello World'")
		fmt.Fprintln(os.Stderr, "  awscurl -path /mybucket/test.txt -method GET")
		fmt.Fprintln(os.Stderr, "  awscurl -service kinesis -target Kinesis_20131202.ListStreams -method POST -data '{}'")
		os.Exit(1)
	}

	creds := sigv4.Credentials{
		AccessKeyID:     *accessKey,
		SecretAccessKey: *secretKey,
		SessionToken:    *sessionToken,
	}

	var payload []byte
	switch {
	case *size > 0:
		payload = make([]byte, *size)
		rand.Read(payload)
		fmt.Fprintf(os.Stderr, "# Generated %d bytes of random data\n", *size)
	case *data != "":
		payload = []byte(*data)
	}

	url := strings.TrimSuffix(*endpoint, "/") + *path

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(*method, url, body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating request: %v\n", err)
		os.Exit(1)
	}

	payloadHash := sigv4.EmptyPayloadHash
	if payload != nil {
		req.ContentLength = int64(len(payload))
		payloadHash = sigv4.HashPayload(payload)
	}
	if *target != "" {
		req.Header.Set("X-Amz-Target", *target)
		req.Header.Set("Content-Type", "application/x-amz-json-1.1")
	} else if payload != nil {
		req.Header.Set("Content-Type", "application/octet-stream")
	}

	signer := sigv4.NewSigner(*region, *service)
	if _, err := signer.Sign(req, creds, payloadHash, time.Now()); err != nil {
		fmt.Fprintf(os.Stderr, "Error signing request: %v\n", err)
		os.Exit(1)
	}

	// Generate curl command
	fmt.Printf("curl -v -X %s \\\n", *method)
	fmt.Printf("  -H 'Host: %s' \\\n", req.Host)
	for name, values := range req.Header {
		for _, value := range values {
			fmt.Printf("  -H '%s: %s' \\\n", name, value)
		}
	}
	if *size > 0 {
		if err := os.WriteFile("payload.bin", payload, 0644); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing payload.bin: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("  --data-binary @payload.bin \\\n")
	} else if payload != nil {
		fmt.Printf("  --data-binary '%s' \\\n", string(payload))
	}
	fmt.Printf("  '%s'\n", url)
}
