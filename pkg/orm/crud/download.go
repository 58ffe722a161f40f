package crud

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"path"
	"reflect"
	"strings"

	"go.uber.org/zap"

	"github.com/openbrain/entitymanagement/internal/blob/fs"
	"github.com/openbrain/entitymanagement/pkg/orm/entity"
	"github.com/openbrain/entitymanagement/pkg/orm/schema"
)

// Sink receives downloaded content
type Sink interface {
	// Put stores r under key and returns the location it was written to
	Put(ctx context.Context, key string, r io.Reader, contentType string) (string, error)
	// Delete removes the content stored under key
	Delete(ctx context.Context, key string) error
}

// Download streams a distribution into sink. When the distribution records
// a SHA-256 digest the content is verified and removed again on mismatch.
// It returns the location reported by the sink.
func (s *Store) Download(ctx context.Context, dist entity.DataDownload, sink Sink) (string, error) {
	src := dist.URL()
	if src == "" {
		return "", fmt.Errorf("%w: distribution has no URL", ErrNoDistribution)
	}

	blob, err := s.client.Download(ctx, src)
	if err != nil {
		return "", ConvertRemoteError(err)
	}
	defer blob.Body.Close()

	var body io.Reader = blob.Body
	var h hash.Hash
	if dist.Digest != nil && isSHA256(dist.Digest.Algorithm) {
		h = sha256.New()
		body = io.TeeReader(body, h)
	}

	contentType := dist.EncodingFormat
	if contentType == "" {
		contentType = blob.ContentType
	}

	key := fileName(dist)
	location, err := sink.Put(ctx, key, body, contentType)
	if err != nil {
		return "", fmt.Errorf("failed to store %s: %w", key, err)
	}

	if h != nil {
		got := hex.EncodeToString(h.Sum(nil))
		if !strings.EqualFold(got, dist.Digest.Value) {
			if derr := sink.Delete(ctx, key); derr != nil {
				s.logger.Warn("failed to remove corrupt download", zap.String("key", key), zap.Error(derr))
			}
			return "", fmt.Errorf("%w: %s has sha256 %s, expected %s", ErrDigestMismatch, key, got, dist.Digest.Value)
		}
	}

	s.logger.Info("downloaded file", zap.String("url", src), zap.String("location", location))
	return location, nil
}

// DownloadFile downloads a distribution into a local directory
func (s *Store) DownloadFile(ctx context.Context, dist entity.DataDownload, dir string) (string, error) {
	sink, err := fs.New(dir)
	if err != nil {
		return "", err
	}
	return s.Download(ctx, dist, sink)
}

// Distributions returns the distributions recorded on an entity, reading
// the field declared under DistributionKey through the materialization gate
func Distributions(ctx context.Context, e entity.Entity) ([]entity.DataDownload, error) {
	v, err := schema.FieldValue(ctx, e, DistributionKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoDistribution, err)
	}

	var out []entity.DataDownload
	rv := reflect.ValueOf(v)
	switch {
	case !rv.IsValid():
	case rv.Kind() == reflect.Slice:
		for i := 0; i < rv.Len(); i++ {
			if d, ok := asDataDownload(rv.Index(i)); ok {
				out = append(out, d)
			}
		}
	default:
		if d, ok := asDataDownload(rv); ok {
			out = append(out, d)
		}
	}

	if len(out) == 0 {
		return nil, ErrNoDistribution
	}
	return out, nil
}

func asDataDownload(v reflect.Value) (entity.DataDownload, bool) {
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return entity.DataDownload{}, false
		}
		v = v.Elem()
	}
	d, ok := v.Interface().(entity.DataDownload)
	return d, ok && d.URL() != ""
}

func isSHA256(algorithm string) bool {
	a := strings.ToLower(strings.ReplaceAll(algorithm, "-", ""))
	return a == "sha256"
}

func fileName(dist entity.DataDownload) string {
	if dist.OriginalFileName != "" {
		return path.Base(dist.OriginalFileName)
	}
	name := path.Base(strings.SplitN(dist.URL(), "?", 2)[0])
	if name == "" || name == "/" || name == "." {
		return "download"
	}
	return name
}
