// Package archive stores transfer receipts and completed files in Lode.
//
// Receipts go to a JSONL dataset partitioned by day, mode and role.
// Completed uploads are copied as plain objects under
// files/<name>/<version>, bypassing the dataset segment/manifest
// machinery. Lode paths are write-once, so every upload of a name gets
// its own version key.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/ferry/iox"
	"github.com/pithecene-io/ferry/types"
)

// DefaultDataset is the dataset ID used when none is configured.
const DefaultDataset = "ferry"

// FilesPrefix is the store prefix holding archived file copies.
const FilesPrefix = "files/"

// partitionKeys is the Hive layout shared by the write and read paths.
var partitionKeys = []string{"day", "mode", "role"}

// Archive writes receipts and file copies to one Lode store.
type Archive struct {
	dataset lode.Dataset
	backend string

	factory   lode.StoreFactory
	storeOnce sync.Once
	store     lode.Store
	storeErr  error
}

// New creates an archive over factory. backend labels metrics and logs.
func New(datasetID, backend string, factory lode.StoreFactory) (*Archive, error) {
	if datasetID == "" {
		datasetID = DefaultDataset
	}
	ds, err := lode.NewDataset(
		lode.DatasetID(datasetID),
		factory,
		lode.WithHiveLayout(partitionKeys...),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
	if err != nil {
		return nil, Wrap(err, "init", datasetID)
	}
	return &Archive{dataset: ds, backend: backend, factory: factory}, nil
}

// NewFS creates an archive rooted at a local directory.
func NewFS(datasetID, root string) (*Archive, error) {
	return New(datasetID, "fs", lode.NewFSFactory(root))
}

// Backend names the storage backend ("fs", "s3", "memory").
func (a *Archive) Backend() string { return a.backend }

// RecordReceipt appends one receipt to the dataset.
func (a *Archive) RecordReceipt(ctx context.Context, r *types.Receipt) error {
	record, err := receiptRecord(r)
	if err != nil {
		return err
	}
	if _, err := a.dataset.Write(ctx, []any{record}, lode.Metadata{}); err != nil {
		return Wrap(err, "write", string(a.dataset.ID()))
	}
	return nil
}

// Receipts reads every archived receipt, oldest snapshot first.
func (a *Archive) Receipts(ctx context.Context) ([]*types.Receipt, error) {
	snapshots, err := a.dataset.Snapshots(ctx)
	if err != nil {
		return nil, Wrap(err, "read", "snapshots")
	}
	var out []*types.Receipt
	for _, snap := range snapshots {
		data, err := a.dataset.Read(ctx, snap.ID)
		if err != nil {
			return nil, Wrap(err, "read", fmt.Sprintf("snapshot/%s", snap.ID))
		}
		for _, item := range data {
			record, ok := item.(map[string]any)
			if !ok {
				continue
			}
			r, err := recordReceipt(record)
			if err != nil {
				return nil, err
			}
			out = append(out, r)
		}
	}
	return out, nil
}

// versionLayout sorts lexically in time order.
const versionLayout = "20060102T150405.000000000Z"

// PutFile copies the file at path into the store as a new version of
// name and returns its key. sessionID disambiguates same-instant copies.
func (a *Archive) PutFile(ctx context.Context, name, sessionID, path string) (string, error) {
	if err := checkFileName(name); err != nil {
		return "", err
	}
	if sessionID == "" || strings.ContainsAny(sessionID, `/\`) {
		return "", fmt.Errorf("invalid archive session id %q", sessionID)
	}
	store, err := a.getOrCreateStore()
	if err != nil {
		return "", Wrap(err, "init", "store")
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer iox.DiscardClose(f)

	key := fileKey(name, time.Now().UTC().Format(versionLayout)+"-"+sessionID)
	if err := store.Put(ctx, key, f); err != nil {
		return "", Wrap(err, "put", key)
	}
	return key, nil
}

// FileVersions lists the stored keys for name, oldest first.
func (a *Archive) FileVersions(ctx context.Context, name string) ([]string, error) {
	if err := checkFileName(name); err != nil {
		return nil, err
	}
	store, err := a.getOrCreateStore()
	if err != nil {
		return nil, Wrap(err, "init", "store")
	}
	prefix := fileKey(name, "")
	keys, err := store.List(ctx, prefix)
	if err != nil {
		return nil, Wrap(err, "list", prefix)
	}
	sort.Strings(keys)
	return keys, nil
}

// OpenFile returns the newest archived copy of name.
func (a *Archive) OpenFile(ctx context.Context, name string) (io.ReadCloser, error) {
	keys, err := a.FileVersions(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, &StorageError{Kind: ErrNotFound, Op: "get", Path: fileKey(name, ""), Err: lode.ErrNotFound}
	}
	key := keys[len(keys)-1]
	rc, err := a.store.Get(ctx, key)
	if err != nil {
		return nil, Wrap(err, "get", key)
	}
	return rc, nil
}

func checkFileName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid archive file name %q", name)
	}
	return nil
}

func fileKey(name, version string) string {
	return FilesPrefix + name + "/" + version
}

// getOrCreateStore lazily initializes the Store from the factory.
func (a *Archive) getOrCreateStore() (lode.Store, error) {
	a.storeOnce.Do(func() {
		a.store, a.storeErr = a.factory()
	})
	return a.store, a.storeErr
}

// receiptRecord flattens a receipt into a dataset record carrying the partition keys.
func receiptRecord(r *types.Receipt) (map[string]any, error) {
	if r == nil {
		return nil, errors.New("nil receipt")
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode receipt: %w", err)
	}
	var record map[string]any
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("encode receipt: %w", err)
	}
	record["day"] = r.Day()
	return record, nil
}

func recordReceipt(record map[string]any) (*types.Receipt, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("decode receipt: %w", err)
	}
	var r types.Receipt
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode receipt: %w", err)
	}
	return &r, nil
}
