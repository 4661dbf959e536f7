package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/cuemby/burrow/pkg/errdefs"
)

// maxUpdateRetries bounds compare-and-swap retries of UpdateRow
const maxUpdateRetries = 16

// EtcdStore implements Store on etcd, for tracking state shared between
// several burrow installations. A table is a marker key plus one key per row
// under the table's prefix.
type EtcdStore struct {
	client *clientv3.Client
	prefix string
	owned  bool
}

// EtcdConfig configures an EtcdStore
type EtcdConfig struct {
	Endpoints   []string
	Prefix      string
	DialTimeout time.Duration
}

// NewEtcdStore connects to etcd
func NewEtcdStore(cfg EtcdConfig) (*EtcdStore, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, errdefs.Connection("connect etcd", err, "failed to connect to %s", strings.Join(cfg.Endpoints, ","))
	}
	s := NewEtcdStoreFromClient(client, cfg.Prefix)
	s.owned = true
	return s, nil
}

// NewEtcdStoreFromClient wraps an existing client. Close does not close it.
func NewEtcdStoreFromClient(client *clientv3.Client, prefix string) *EtcdStore {
	if prefix == "" {
		prefix = "/burrow"
	}
	return &EtcdStore{client: client, prefix: strings.TrimSuffix(prefix, "/")}
}

// Close closes the client if the store created it
func (s *EtcdStore) Close() error {
	if s.owned {
		return s.client.Close()
	}
	return nil
}

func (s *EtcdStore) tableKey(table string) string {
	return s.prefix + "/tables/" + table
}

func (s *EtcdStore) rowsPrefix(table string) string {
	return s.tableKey(table) + "/rows/"
}

func (s *EtcdStore) rowKey(table, key string) string {
	return s.rowsPrefix(table) + key
}

func (s *EtcdStore) blobKey(key string) string {
	return s.prefix + "/blobs/" + key
}

func etcdError(op string, err error) error {
	return errdefs.Connection(op, err, "etcd request failed")
}

// Table operations
func (s *EtcdStore) CreateTable(ctx context.Context, table string) error {
	marker := s.tableKey(table)
	_, err := s.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(marker), "=", 0)).
		Then(clientv3.OpPut(marker, "")).
		Commit()
	if err != nil {
		return etcdError("create table", err)
	}
	return nil
}

func (s *EtcdStore) DeleteTable(ctx context.Context, table string) (bool, error) {
	marker := s.tableKey(table)
	resp, err := s.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(marker), ">", 0)).
		Then(
			clientv3.OpDelete(marker),
			clientv3.OpDelete(s.rowsPrefix(table), clientv3.WithPrefix()),
		).
		Commit()
	if err != nil {
		return false, etcdError("delete table", err)
	}
	return resp.Succeeded, nil
}

func (s *EtcdStore) TableExists(ctx context.Context, table string) (bool, error) {
	resp, err := s.client.Get(ctx, s.tableKey(table), clientv3.WithCountOnly())
	if err != nil {
		return false, etcdError("table exists", err)
	}
	return resp.Count > 0, nil
}

func (s *EtcdStore) missingRow(ctx context.Context, op, table, key string) error {
	exists, err := s.TableExists(ctx, table)
	if err != nil {
		return err
	}
	if !exists {
		return tableNotFound(op, table)
	}
	return errdefs.NotFound(op, "row %s not found in table %s", key, table)
}

// Row operations
func (s *EtcdStore) InsertRow(ctx context.Context, table, key string, value []byte) error {
	marker := s.tableKey(table)
	resp, err := s.client.Txn(ctx).
		If(
			clientv3.Compare(clientv3.CreateRevision(marker), ">", 0),
			clientv3.Compare(clientv3.CreateRevision(s.rowKey(table, key)), "=", 0),
		).
		Then(clientv3.OpPut(s.rowKey(table, key), string(value))).
		Else(clientv3.OpGet(marker, clientv3.WithCountOnly())).
		Commit()
	if err != nil {
		return etcdError("insert row", err)
	}
	if resp.Succeeded {
		return nil
	}
	if resp.Responses[0].GetResponseRange().Count == 0 {
		return tableNotFound("insert row", table)
	}
	return errdefs.Conflict("insert row", "row %s already exists in table %s", key, table)
}

func (s *EtcdStore) UpdateRow(ctx context.Context, table, key string, fn UpdateFunc) error {
	rowKey := s.rowKey(table, key)
	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		resp, err := s.client.Get(ctx, rowKey)
		if err != nil {
			return etcdError("update row", err)
		}
		if len(resp.Kvs) == 0 {
			return s.missingRow(ctx, "update row", table, key)
		}
		kv := resp.Kvs[0]

		next, err := fn(kv.Value)
		if err != nil {
			return err
		}

		txn, err := s.client.Txn(ctx).
			If(clientv3.Compare(clientv3.ModRevision(rowKey), "=", kv.ModRevision)).
			Then(clientv3.OpPut(rowKey, string(next))).
			Commit()
		if err != nil {
			return etcdError("update row", err)
		}
		if txn.Succeeded {
			return nil
		}
	}
	return errdefs.Conflict("update row", "row %s in table %s kept changing", key, table)
}

func (s *EtcdStore) GetRow(ctx context.Context, table, key string) ([]byte, error) {
	resp, err := s.client.Get(ctx, s.rowKey(table, key))
	if err != nil {
		return nil, etcdError("get row", err)
	}
	if len(resp.Kvs) == 0 {
		return nil, s.missingRow(ctx, "get row", table, key)
	}
	return resp.Kvs[0].Value, nil
}

func (s *EtcdStore) ListRows(ctx context.Context, table string) ([]Row, error) {
	exists, err := s.TableExists(ctx, table)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, tableNotFound("list rows", table)
	}

	prefix := s.rowsPrefix(table)
	resp, err := s.client.Get(ctx, prefix, clientv3.WithPrefix(), clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend))
	if err != nil {
		return nil, etcdError("list rows", err)
	}
	rows := make([]Row, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		rows = append(rows, Row{Key: strings.TrimPrefix(string(kv.Key), prefix), Value: kv.Value})
	}
	return rows, nil
}

// Blob operations
func (s *EtcdStore) PutBlob(ctx context.Context, key string, data []byte) error {
	if _, err := s.client.Put(ctx, s.blobKey(key), string(data)); err != nil {
		return etcdError("put blob", err)
	}
	return nil
}

func (s *EtcdStore) GetBlob(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.client.Get(ctx, s.blobKey(key))
	if err != nil {
		return nil, etcdError("get blob", err)
	}
	if len(resp.Kvs) == 0 {
		return nil, errdefs.NotFound("get blob", "blob %s not found", key)
	}
	return resp.Kvs[0].Value, nil
}

func (s *EtcdStore) DeleteBlob(ctx context.Context, key string) error {
	if _, err := s.client.Delete(ctx, s.blobKey(key)); err != nil {
		return etcdError("delete blob", err)
	}
	return nil
}

// Open opens the backend named by backend
func Open(backend, dataDir string, etcd EtcdConfig) (Store, error) {
	switch backend {
	case "", "bolt":
		return NewBoltStore(dataDir)
	case "etcd":
		return NewEtcdStore(etcd)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}
