// Package feedsource opens supplier feeds by URI: http(s) URLs, s3://
// objects and, when allowed, local files. It also spools uploaded bodies
// to disk so a run can outlive the request that delivered them.
package feedsource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/JonMunkholm/feedpipe/internal/config"
)

var (
	// ErrFetch wraps every failure to open a remote or local feed.
	ErrFetch = errors.New("fetch feed")

	// ErrUnsupportedScheme is returned for URIs no opener handles.
	ErrUnsupportedScheme = errors.New("unsupported uri scheme")
)

// DefaultFetchTimeout bounds a whole download when none is configured.
const DefaultFetchTimeout = 5 * time.Minute

// Feed is an opened feed body plus the hints the format detector uses.
type Feed struct {
	Body        io.ReadCloser
	Name        string
	ContentType string
	Size        int64 // 0 when unknown
}

// objectGetter is the part of the S3 client the opener uses.
type objectGetter interface {
	GetObjectWithContext(ctx aws.Context, input *s3.GetObjectInput, opts ...request.Option) (*s3.GetObjectOutput, error)
}

// Opener resolves feed URIs.
type Opener struct {
	client     *http.Client
	s3         objectGetter
	timeout    time.Duration
	allowLocal bool
}

// Option customizes an Opener.
type Option func(*Opener)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opener) { o.client = c }
}

// WithS3 sets the client used for s3:// URIs.
func WithS3(c objectGetter) Option {
	return func(o *Opener) { o.s3 = c }
}

// WithLocalFiles allows file:// URIs and bare paths. Off by default, as
// API callers must not read the server's filesystem.
func WithLocalFiles() Option {
	return func(o *Opener) { o.allowLocal = true }
}

// New returns an Opener whose downloads are bounded by timeout.
func New(timeout time.Duration, opts ...Option) *Opener {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	o := &Opener{
		client:  &http.Client{},
		timeout: timeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// NewS3Client builds an S3 client from cfg. Credentials come from the
// default AWS chain (environment, shared config, instance role).
func NewS3Client(cfg config.S3Config) (*s3.S3, error) {
	awsCfg := &aws.Config{
		Region:           aws.String(cfg.Region),
		S3ForcePathStyle: aws.Bool(cfg.ForcePathStyle),
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("create AWS session: %w", err)
	}
	return s3.New(sess), nil
}

// Open starts reading the feed at uri. The download is detached from ctx's
// cancellation so the body outlives the caller's request; it is bounded by
// the fetch timeout instead and released by Body.Close.
func (o *Opener) Open(ctx context.Context, uri string) (*Feed, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return nil, fmt.Errorf("%w: empty uri", ErrFetch)
	}

	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: parse %q: %v", ErrFetch, uri, err)
	}

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.timeout)

	var opened *Feed
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		opened, err = o.openHTTP(fctx, u)
	case "s3":
		opened, err = o.openS3(fctx, u)
	case "file", "":
		opened, err = o.openLocal(u, uri)
	default:
		err = fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	if err != nil {
		cancel()
		return nil, err
	}

	opened.Body = &cancelOnClose{ReadCloser: opened.Body, cancel: cancel}
	return opened, nil
}

func (o *Opener) openHTTP(ctx context.Context, u *url.URL) (*Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s returned status %s", ErrFetch, u.Redacted(), resp.Status)
	}

	return &Feed{
		Body:        resp.Body,
		Name:        path.Base(u.Path),
		ContentType: resp.Header.Get("Content-Type"),
		Size:        max(resp.ContentLength, 0),
	}, nil
}

func (o *Opener) openS3(ctx context.Context, u *url.URL) (*Feed, error) {
	if o.s3 == nil {
		return nil, fmt.Errorf("%w: s3 sources are not configured", ErrUnsupportedScheme)
	}

	bucket, key := u.Host, strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("%w: s3 uri needs bucket and key: %s", ErrFetch, u)
	}

	out, err := o.s3.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: s3://%s/%s: %v", ErrFetch, bucket, key, err)
	}

	return &Feed{
		Body:        out.Body,
		Name:        path.Base(key),
		ContentType: aws.StringValue(out.ContentType),
		Size:        aws.Int64Value(out.ContentLength),
	}, nil
}

func (o *Opener) openLocal(u *url.URL, raw string) (*Feed, error) {
	if !o.allowLocal {
		return nil, fmt.Errorf("%w: local files are disabled", ErrUnsupportedScheme)
	}

	p := u.Path
	if u.Scheme == "" {
		p = raw
	}
	f, err := os.Open(filepath.Clean(p))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}

	var size int64
	if info, err := f.Stat(); err == nil {
		size = info.Size()
	}
	return &Feed{Body: f, Name: filepath.Base(p), Size: size}, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
