package rosebuild

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ArchiveIndex is a remote listing of published source archives.
type ArchiveIndex interface {
	// List returns the archive file names known to the index.
	List(ctx context.Context) ([]string, error)
	// Fetch downloads the named archive to dest.
	Fetch(ctx context.Context, name, dest string) error
}

// newArchiveIndex picks the backend from the index location: s3://bucket/prefix
// lists an S3-compatible bucket, anything else is an HTTP download page.
func newArchiveIndex(ctx context.Context, cfg *Config, pat *archivePattern) (ArchiveIndex, error) {
	loc := cfg.ArchiveIndex
	if strings.HasPrefix(loc, "s3://") {
		idx, err := newS3Index(ctx, cfg, pat)
		if err != nil {
			return nil, err
		}
		return idx, nil
	}
	u, err := url.Parse(loc)
	if err != nil || u.Scheme == "" {
		return nil, fmt.Errorf("invalid archive index %q", loc)
	}
	return &httpIndex{base: u, pattern: pat, client: newHttpClient()}, nil
}

// newestArchive returns the archive with the highest revision number. Equal
// revisions resolve to the lexicographically greatest name.
func newestArchive(names []string, pat *archivePattern) (string, bool) {
	var best string
	var bestRev int64 = -1
	for _, name := range names {
		if !pat.Match(name) {
			continue
		}
		rev, err := strconv.ParseInt(pat.Revision(name), 10, 64)
		if err != nil {
			continue
		}
		if rev > bestRev || (rev == bestRev && name > best) {
			best, bestRev = name, rev
		}
	}
	return best, bestRev >= 0
}

var hrefRe = regexp.MustCompile(`(?i)href\s*=\s*["']([^"']+)["']`)

// httpIndex scrapes archive links from a download page.
type httpIndex struct {
	base    *url.URL
	pattern *archivePattern
	client  *http.Client
	opts    downloadOptions

	links map[string]string // archive name -> absolute URL
}

func (h *httpIndex) List(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.base.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch archive index: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch archive index: %s", resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read archive index: %w", err)
	}

	h.links = make(map[string]string)
	for _, m := range hrefRe.FindAllStringSubmatch(string(body), -1) {
		ref, err := url.Parse(m[1])
		if err != nil {
			continue
		}
		abs := h.base.ResolveReference(ref)
		name := path.Base(abs.Path)
		if !h.pattern.Match(name) {
			continue
		}
		h.links[name] = abs.String()
	}

	names := make([]string, 0, len(h.links))
	for name := range h.links {
		names = append(names, name)
	}
	sort.Strings(names)
	debugf("Archive index %s lists %d matching archives\n", h.base, len(names))
	return names, nil
}

func (h *httpIndex) Fetch(ctx context.Context, name, dest string) error {
	if h.links == nil {
		if _, err := h.List(ctx); err != nil {
			return err
		}
	}
	link, ok := h.links[name]
	if !ok {
		return fmt.Errorf("archive %s is not listed by %s", name, h.base)
	}
	return downloadFile(ctx, link, dest, h.opts)
}

// s3Index lists archives stored under a prefix of an S3-compatible bucket.
type s3Index struct {
	Client  *s3.Client
	Bucket  string
	Prefix  string
	pattern *archivePattern
}

func newS3Index(ctx context.Context, cfg *Config, pat *archivePattern) (*s3Index, error) {
	rest := strings.TrimPrefix(cfg.ArchiveIndex, "s3://")
	bucket, prefix, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return nil, fmt.Errorf("invalid archive index %q: missing bucket", cfg.ArchiveIndex)
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	options := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.S3Region),
	}
	if cfg.S3AccessKeyID != "" {
		options = append(options, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretAccessKey, "")))
	}
	if Debug {
		options = append(options, awsconfig.WithClientLogMode(aws.LogRetries|aws.LogRequest))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to load S3 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})
	return &s3Index{Client: client, Bucket: bucket, Prefix: prefix, pattern: pat}, nil
}

func (s *s3Index) List(ctx context.Context) ([]string, error) {
	var names []string
	paginator := s3.NewListObjectsV2Paginator(s.Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.Bucket),
		Prefix: aws.String(s.Prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list s3://%s/%s: %w", s.Bucket, s.Prefix, err)
		}
		for _, obj := range page.Contents {
			name := path.Base(aws.ToString(obj.Key))
			if s.pattern.Match(name) {
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *s3Index) Fetch(ctx context.Context, name, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	unlock, err := lockFile(dest + ".lock")
	if err != nil {
		return err
	}
	defer unlock()
	if _, err := os.Stat(dest); err == nil {
		return nil
	}

	out, err := s.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Prefix + name),
	})
	if err != nil {
		return fmt.Errorf("get s3://%s/%s%s: %w", s.Bucket, s.Prefix, name, err)
	}
	defer out.Body.Close()

	partial := dest + ".part"
	defer os.Remove(partial)
	f, err := os.Create(partial)
	if err != nil {
		return err
	}
	size := int64(-1)
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	if err := copyWithProgress(f, out.Body, size, name, false); err != nil {
		f.Close()
		return fmt.Errorf("download %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(partial, dest)
}
