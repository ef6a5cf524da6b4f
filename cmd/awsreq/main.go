// awsreq runs a single signed operation against an AWS-compatible
// endpoint, with retries and optional Prometheus metrics.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ethanadams/awsreq/internal/client"
	"github.com/ethanadams/awsreq/internal/config"
	"github.com/ethanadams/awsreq/internal/creds"
	"github.com/ethanadams/awsreq/internal/logging"
	"github.com/ethanadams/awsreq/internal/metrics"
)

func main() {
	configPath := flag.String("config", envOr("CONFIG_PATH", "configs/config.yaml"), "Path to YAML config")
	op := flag.String("op", "", "Operation: call, upload, download, delete")
	target := flag.String("target", "", "Operation name for -op call (x-amz-target)")
	payload := flag.String("payload", "{}", "JSON payload for -op call")
	file := flag.String("file", "", "File to upload for -op upload")
	key := flag.String("key", "", "Object key for upload/download/delete")
	serveMetrics := flag.Bool("metrics", false, "Expose Prometheus metrics while running")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logging.SetLevel(cfg.Logging.Level)

	ctx := context.Background()

	provider, err := credentialProvider(ctx)
	if err != nil {
		log.Fatalf("Failed to load credentials: %v", err)
	}

	collector := metrics.NewCollector()
	c := client.New(cfg.Client, provider, client.WithMetrics(collector))

	if *serveMetrics {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.Handler())
		go func() {
			addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
			log.Printf("Serving metrics on %s%s", addr, cfg.Metrics.Path)
			if err := http.ListenAndServe(addr, mux); err != nil {
				log.Printf("Metrics server error: %v", err)
			}
		}()
	}

	switch *op {
	case "call":
		if *target == "" {
			log.Fatal("-target is required for -op call")
		}
		resp, err := c.Do(ctx, *target, []byte(*payload))
		if err != nil {
			log.Fatalf("%s failed: %v", *target, err)
		}
		os.Stdout.Write(resp.Body)
		fmt.Println()

	case "upload":
		if *file == "" || *key == "" {
			log.Fatal("-file and -key are required for -op upload")
		}
		info, err := os.Stat(*file)
		if err != nil {
			log.Fatalf("Failed to stat %s: %v", *file, err)
		}
		open := func() (io.ReadCloser, error) { return os.Open(*file) }

		start := time.Now()
		if err := c.PutStream(ctx, *key, open, info.Size(), ""); err != nil {
			log.Fatalf("Upload failed: %v", err)
		}
		log.Printf("Uploaded %s (%d bytes) to %s in %v", *file, info.Size(), *key, time.Since(start))

	case "download":
		if *key == "" {
			log.Fatal("-key is required for -op download")
		}
		resp, err := c.Get(ctx, *key)
		if err != nil {
			log.Fatalf("Download failed: %v", err)
		}
		os.Stdout.Write(resp.Body)

	case "delete":
		if *key == "" {
			log.Fatal("-key is required for -op delete")
		}
		if err := c.Delete(ctx, *key); err != nil {
			log.Fatalf("Delete failed: %v", err)
		}
		log.Printf("Deleted %s", *key)

	default:
		fmt.Fprintln(os.Stderr, "Usage: awsreq -config config.yaml -op call|upload|download|delete ...")
		flag.PrintDefaults()
		os.Exit(1)
	}
}

// credentialProvider prefers static keys from the environment and
// falls back to the SDK's default chain (profiles, IMDS, SSO). Either
// way the result goes through an aws.CredentialsCache so that an
// authorization failure can invalidate and force a refresh.
func credentialProvider(ctx context.Context) (creds.Provider, error) {
	accessKey := os.Getenv("AWS_ACCESS_KEY_ID")
	secretKey := os.Getenv("AWS_SECRET_ACCESS_KEY")

	if accessKey != "" && secretKey != "" {
		static := credentials.NewStaticCredentialsProvider(accessKey, secretKey, os.Getenv("AWS_SESSION_TOKEN"))
		return &creds.SDKProvider{Source: aws.NewCredentialsCache(static)}, nil
	}

	sdkCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	return &creds.SDKProvider{Source: sdkCfg.Credentials}, nil
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
