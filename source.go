package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const blobScheme = "azblob://"

// BlobLocation addresses a workbook stored in Azure Blob Storage.
type BlobLocation struct {
	Container string
	Key       string
}

// parseBlobLocation splits "azblob://container/key". ok is false for local paths.
func parseBlobLocation(location string) (BlobLocation, bool, error) {
	if !strings.HasPrefix(location, blobScheme) {
		return BlobLocation{}, false, nil
	}
	rest := strings.TrimPrefix(location, blobScheme)
	container, key, found := strings.Cut(rest, "/")
	if !found || container == "" || key == "" {
		return BlobLocation{}, true, fmt.Errorf("invalid blob location %q: want %scontainer/key", location, blobScheme)
	}
	for _, segment := range strings.Split(key, "/") {
		if segment == ".." {
			return BlobLocation{}, true, fmt.Errorf("invalid blob location %q: path traversal", location)
		}
	}
	return BlobLocation{Container: container, Key: key}, true, nil
}

// Loader reads datasets from local paths or Azure blobs.
type Loader struct {
	Options        LoadOptions
	BlobConnection string
	Logger         *zap.Logger

	mu         sync.Mutex
	blobClient *azblob.Client
}

func (l *Loader) Load(ctx context.Context, location string) (*Dataset, error) {
	data, err := l.read(ctx, location)
	if err != nil {
		return nil, err
	}
	ds, err := ParseDataset(location, data, l.Options)
	if err != nil {
		return nil, err
	}
	l.logger().Debug("dataset loaded",
		zap.String("source", location),
		zap.String("sheet", ds.Sheet),
		zap.Int("records", len(ds.Records)),
		zap.Int("headers", len(ds.Headers)),
	)
	for _, w := range ds.Warnings {
		l.logger().Debug("load warning", zap.String("source", location), zap.Int("row", w.Row), zap.String("message", w.Message))
	}
	return ds, nil
}

// LoadAll loads every location concurrently. The first failure cancels the rest.
func (l *Loader) LoadAll(ctx context.Context, locations []string) ([]*Dataset, error) {
	datasets := make([]*Dataset, len(locations))
	g, ctx := errgroup.WithContext(ctx)
	for i, location := range locations {
		i, location := i, location
		g.Go(func() error {
			ds, err := l.Load(ctx, location)
			if err != nil {
				return err
			}
			datasets[i] = ds
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return datasets, nil
}

func (l *Loader) read(ctx context.Context, location string) ([]byte, error) {
	blob, isBlob, err := parseBlobLocation(location)
	if err != nil {
		return nil, err
	}
	if !isBlob {
		data, err := os.ReadFile(location)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrUnreadable, location, err)
		}
		return data, nil
	}
	return l.readBlob(ctx, blob)
}

func (l *Loader) readBlob(ctx context.Context, blob BlobLocation) ([]byte, error) {
	client, err := l.client()
	if err != nil {
		return nil, err
	}
	resp, err := client.DownloadStream(ctx, blob.Container, blob.Key, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return nil, fmt.Errorf("%w: %s%s/%s: blob not found", ErrUnreadable, blobScheme, blob.Container, blob.Key)
		}
		return nil, fmt.Errorf("%w: download blob %s: %v", ErrUnreadable, blob.Key, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read blob %s: %v", ErrUnreadable, blob.Key, err)
	}
	return data, nil
}

func (l *Loader) client() (*azblob.Client, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.blobClient != nil {
		return l.blobClient, nil
	}
	if l.BlobConnection == "" {
		return nil, errors.New("blob connection string missing; set " + envBlobConnection)
	}
	client, err := azblob.NewClientFromConnectionString(l.BlobConnection, nil)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	l.blobClient = client
	return client, nil
}

func (l *Loader) logger() *zap.Logger {
	if l.Logger == nil {
		return zap.NewNop()
	}
	return l.Logger
}
