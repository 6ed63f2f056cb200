package snapshot

import (
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"segstats/errs"
)

const (
	contentType  = "application/zstd"
	formatKey    = "Segstats-Format"
	formatBackup = "badger-backup"
	suffix       = ".snap"
)

// Source is a store that can stream a full backup of itself.
type Source interface {
	Backup(w io.Writer) error
}

// Target is a store that can restore a backup stream.
type Target interface {
	Load(r io.Reader) error
}

type Config struct {
	Bucket string
	// Prefix is prepended to every object name, e.g. "snapshots/".
	Prefix string
}

// Store keeps zstd-compressed DB snapshots in an S3-compatible bucket.
type Store struct {
	client *minio.Client
	config Config
	logger zerolog.Logger
}

type Option func(*Store)

func WithLogger(logger zerolog.Logger) Option {
	return func(store *Store) {
		store.logger = logger
	}
}

func NewStore(client *minio.Client, config Config, opts ...Option) *Store {
	store := &Store{client: client, config: config, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

func (store *Store) key(name string) string {
	return path.Join(store.config.Prefix, name+suffix)
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

// writeCompressed writes the backup of src to w through a zstd encoder.
func writeCompressed(w io.Writer, src Source) error {
	encoder, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}
	if err := src.Backup(encoder); err != nil {
		_ = encoder.Close()
		return err
	}
	return encoder.Close()
}

// readCompressed restores dst from a stream written by writeCompressed.
func readCompressed(r io.Reader, dst Target) error {
	decoder, err := zstd.NewReader(r)
	if err != nil {
		return err
	}
	defer decoder.Close()
	return dst.Load(decoder)
}

// Export uploads a snapshot of src under name. The backup is streamed into
// the upload without being buffered.
func (store *Store) Export(ctx context.Context, src Source, name string) (minio.UploadInfo, error) {
	const op = "snapshot.Export"
	if name == "" {
		return minio.UploadInfo{}, errs.Config(op, "no snapshot name")
	}
	key := store.key(name)
	pr, pw := io.Pipe()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := writeCompressed(pw, src)
		_ = pw.CloseWithError(err)
		return err
	})
	var info minio.UploadInfo
	g.Go(func() error {
		var err error
		info, err = store.client.PutObject(ctx, store.config.Bucket, key, pr, -1, minio.PutObjectOptions{
			ContentType:  contentType,
			UserMetadata: map[string]string{formatKey: formatBackup},
		})
		_ = pr.CloseWithError(err)
		return err
	})
	if err := g.Wait(); err != nil {
		return minio.UploadInfo{}, errs.IO(op, err)
	}
	store.logger.Info().Str("op", op).Str("key", key).Int64("bytes", info.Size).Msg("exported snapshot")
	return info, nil
}

// Import restores the snapshot name into dst.
func (store *Store) Import(ctx context.Context, dst Target, name string) error {
	const op = "snapshot.Import"
	key := store.key(name)
	info, err := store.Stat(ctx, name)
	if err != nil {
		return err
	}
	if format := info.UserMetadata[formatKey]; format != "" && format != formatBackup {
		return errs.Data(op, "object %s holds %q, not a snapshot", key, format)
	}
	obj, err := store.client.GetObject(ctx, store.config.Bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return errs.IO(op, err)
	}
	defer obj.Close()
	if err := readCompressed(obj, dst); err != nil {
		return errs.IO(op, err)
	}
	store.logger.Info().Str("op", op).Str("key", key).Int64("bytes", info.Size).Msg("imported snapshot")
	return nil
}

// Stat returns the object info of snapshot name, or an error wrapping
// errs.ErrNotFound.
func (store *Store) Stat(ctx context.Context, name string) (minio.ObjectInfo, error) {
	key := store.key(name)
	info, err := store.client.StatObject(ctx, store.config.Bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return minio.ObjectInfo{}, fmt.Errorf("snapshot %s: %w", key, errs.ErrNotFound)
		}
		return minio.ObjectInfo{}, errs.IO("snapshot.Stat", err)
	}
	return info, nil
}

// Delete removes snapshot name. Deleting a missing snapshot is not an error.
func (store *Store) Delete(ctx context.Context, name string) error {
	err := store.client.RemoveObject(ctx, store.config.Bucket, store.key(name), minio.RemoveObjectOptions{})
	if err != nil && !isNotFound(err) {
		return errs.IO("snapshot.Delete", err)
	}
	return nil
}

// List returns the sorted names of the stored snapshots.
func (store *Store) List(ctx context.Context) ([]string, error) {
	prefix := store.config.Prefix
	var names []string
	for obj := range store.client.ListObjects(ctx, store.config.Bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, errs.IO("snapshot.List", obj.Err)
		}
		name := strings.TrimPrefix(strings.TrimPrefix(obj.Key, prefix), "/")
		if !strings.HasSuffix(name, suffix) {
			continue
		}
		names = append(names, strings.TrimSuffix(name, suffix))
	}
	sort.Strings(names)
	return names, nil
}
