// Package artifact writes exported documents to their destination: a local
// directory, an S3 bucket or an Azure Blob container.
package artifact

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/paperpolish/polish-int/internal/config"
	"github.com/paperpolish/polish-int/internal/core"
)

// Kind is the type of a destination.
type Kind int

const (
	KindDir Kind = iota
	KindS3
	KindAzure
)

func (k Kind) String() string {
	switch k {
	case KindS3:
		return "s3"
	case KindAzure:
		return "azblob"
	default:
		return "dir"
	}
}

// Destination is a parsed export target.
type Destination struct {
	Kind   Kind
	Dir    string // KindDir
	Bucket string // bucket or container name
	Prefix string // object key prefix, no leading or trailing slash
}

// ParseDestination parses a directory path, s3://bucket/prefix or
// azblob://container/prefix. Empty means the current directory.
func ParseDestination(raw string) (Destination, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Destination{Kind: KindDir, Dir: "."}, nil
	}

	scheme, _, found := strings.Cut(raw, "://")
	if !found {
		return Destination{Kind: KindDir, Dir: raw}, nil
	}

	var kind Kind
	switch strings.ToLower(scheme) {
	case "s3":
		kind = KindS3
	case "azblob":
		kind = KindAzure
	default:
		return Destination{}, fmt.Errorf("unsupported export destination scheme %q (use a directory, s3:// or azblob://)", scheme)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Destination{}, fmt.Errorf("invalid export destination %q: %w", raw, err)
	}
	if u.Host == "" {
		noun := "bucket"
		if kind == KindAzure {
			noun = "container"
		}
		return Destination{}, fmt.Errorf("export destination %q has no %s name", raw, noun)
	}
	return Destination{Kind: kind, Bucket: u.Host, Prefix: strings.Trim(u.Path, "/")}, nil
}

func (d Destination) String() string {
	switch d.Kind {
	case KindS3, KindAzure:
		if d.Prefix == "" {
			return d.Kind.String() + "://" + d.Bucket
		}
		return d.Kind.String() + "://" + d.Bucket + "/" + d.Prefix
	default:
		return d.Dir
	}
}

// Sink stores an artifact and returns where it went.
type Sink interface {
	Write(ctx context.Context, a *core.Artifact) (string, error)
}

// Open creates the sink for dest. httpClient carries the proxy settings and
// may be nil.
func Open(ctx context.Context, dest Destination, cfg config.ExportConfig, httpClient *http.Client) (Sink, error) {
	switch dest.Kind {
	case KindDir:
		return NewFileSink(dest.Dir), nil
	case KindS3:
		return NewS3Sink(ctx, dest, S3Options{
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			HTTPClient:      httpClient,
		})
	case KindAzure:
		return NewAzureSink(dest, cfg.AzureConnectionString, httpClient)
	default:
		return nil, fmt.Errorf("unsupported destination kind: %s", dest.Kind)
	}
}

// objectKey joins the prefix and the artifact's file name.
func objectKey(prefix, filename string) string {
	if prefix == "" {
		return filename
	}
	return prefix + "/" + filename
}

// contentType returns the MIME type of an export format.
func contentType(format string) string {
	switch format {
	case "docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case "pdf":
		return "application/pdf"
	default:
		return "text/plain; charset=utf-8"
	}
}
