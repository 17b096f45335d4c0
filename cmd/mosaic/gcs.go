package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/airbusgeo/godal"
	"github.com/airbusgeo/osio"
	"github.com/airbusgeo/osio/gcs"
)

func isGCS(name string) bool {
	return strings.HasPrefix(name, "gs://")
}

func anyGCS(names []string) bool {
	for _, n := range names {
		if isGCS(n) {
			return true
		}
	}
	return false
}

// parseGCS splits gs://bucket/object
func parseGCS(uri string) (bucket, object string, err error) {
	if !isGCS(uri) {
		return "", "", fmt.Errorf("%s: not a gs:// uri", uri)
	}
	bucket, object, _ = strings.Cut(strings.TrimPrefix(uri, "gs://"), "/")
	if bucket == "" || object == "" {
		return "", "", fmt.Errorf("%s: expecting gs://bucket/object", uri)
	}
	return bucket, object, nil
}

// setupGCS makes gs:// datasets readable by gdal through a block cache
func setupGCS(ctx context.Context, blocksize string, numBlocks int) (*storage.Client, error) {
	stcl, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage.newclient: %w", err)
	}
	gcsh, err := gcs.Handle(ctx, gcs.GCSClient(stcl))
	if err != nil {
		return nil, fmt.Errorf("gcs.handle: %w", err)
	}
	gcsa, err := osio.NewAdapter(gcsh, osio.BlockSize(blocksize), osio.NumCachedBlocks(numBlocks))
	if err != nil {
		return nil, fmt.Errorf("osio.new: %w", err)
	}
	if err := godal.RegisterVSIHandler("gs://", gcsa); err != nil {
		return nil, fmt.Errorf("register osio: %w", err)
	}
	return stcl, nil
}

func upload(ctx context.Context, stcl *storage.Client, src, dst string) error {
	bucket, object, err := parseGCS(dst)
	if err != nil {
		return err
	}
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer f.Close()
	w := stcl.Bucket(bucket).Object(object).NewWriter(ctx)
	if _, err = io.Copy(w, f); err != nil {
		w.Close()
		return fmt.Errorf("upload %s: %w", dst, err)
	}
	if err = w.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dst, err)
	}
	return nil
}
