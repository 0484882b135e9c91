package media

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// stageConcurrency bounds parallel copies when a send references several
// picked files at once.
const stageConcurrency = 4

// Stager copies externally-referenced media into the profile's own media
// directory before a send is queued. The original file may disappear (or
// its read grant may be revoked) the moment the picker goes away; the
// staged copy is what the upload job reads, possibly much later.
type Stager struct {
	dir    string
	logger *zap.Logger
}

// NewStager creates a stager writing into dir.
func NewStager(dir string, logger *zap.Logger) *Stager {
	return &Stager{dir: dir, logger: logger}
}

// Stage resolves each URI to something durable: remote http(s) URLs pass
// through untouched, local files are copied under a fresh name. A URI that
// cannot be staged is dropped from the result rather than failing the whole
// batch; order of the survivors is preserved.
func (s *Stager) Stage(ctx context.Context, uris []string) []string {
	if len(uris) == 0 {
		return nil
	}

	results := make([]string, len(uris))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(stageConcurrency)

	for i, uri := range uris {
		g.Go(func() error {
			if IsRemoteURL(uri) {
				results[i] = uri
				return nil
			}
			staged, err := s.copyLocal(ctx, uri)
			if err != nil {
				// Drop just this item; the send proceeds with the rest.
				s.logger.Warn("failed to stage media, dropping item",
					zap.String("uri", uri), zap.Error(err))
				return nil
			}
			results[i] = staged
			return nil
		})
	}
	_ = g.Wait()

	staged := make([]string, 0, len(results))
	for _, r := range results {
		if r != "" {
			staged = append(staged, r)
		}
	}
	if len(staged) == 0 {
		return nil
	}
	return staged
}

func (s *Stager) copyLocal(ctx context.Context, uri string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	src := strings.TrimPrefix(uri, "file://")

	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open source: %w", err)
	}
	defer func() { _ = in.Close() }()

	dst := filepath.Join(s.dir, fmt.Sprintf("upload_media_%s%s", uuid.NewString(), extensionFor(src)))
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if err != nil {
		return "", fmt.Errorf("create staged file: %w", err)
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return "", fmt.Errorf("copy: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return "", err
	}
	return dst, nil
}

// IsRemoteURL reports whether uri already points at uploaded content.
func IsRemoteURL(uri string) bool {
	return strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://")
}

// extensionFor picks a file extension by content sniffing, falling back to
// the source's own extension, then ".bin".
func extensionFor(path string) string {
	if mt, err := mimetype.DetectFile(path); err == nil && mt.Extension() != "" {
		return mt.Extension()
	}
	if ext := filepath.Ext(path); ext != "" {
		return ext
	}
	return ".bin"
}
