package tokens

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var cacheLog = logrus.WithField("component", "token_cache")

// cacheTTL 缓存条目有效期。代币元数据基本不变，给个宽松的 TTL。
const cacheTTL = 24 * time.Hour

// CachedDirectory badger 读穿缓存
// 引擎本身是内存态的，缓存只为减少注册表请求，不构成持久化边界。
type CachedDirectory struct {
	db       *badger.DB
	upstream Directory
}

// OpenCachedDirectory 打开缓存目录
func OpenCachedDirectory(dir string, upstream Directory) (*CachedDirectory, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "打开代币缓存失败")
	}
	return &CachedDirectory{db: db, upstream: upstream}, nil
}

// Close 关闭底层 badger
func (c *CachedDirectory) Close() error {
	return c.db.Close()
}

func cacheKey(addr common.Address) []byte {
	return []byte("token:" + strings.ToLower(addr.Hex()))
}

// Metadata 实现 Directory：先查缓存，未命中回源并写回
func (c *CachedDirectory) Metadata(ctx context.Context, addr common.Address) (*Metadata, error) {
	var cached *Metadata
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(cacheKey(addr))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var meta Metadata
			if err := json.Unmarshal(val, &meta); err != nil {
				return err
			}
			cached = &meta
			return nil
		})
	})
	if err == nil && cached != nil {
		return cached, nil
	}
	if err != nil && err != badger.ErrKeyNotFound {
		cacheLog.WithError(err).Warn("读取代币缓存失败，回源")
	}

	meta, err := c.upstream.Metadata(ctx, addr)
	if err != nil {
		return nil, err
	}

	if payload, err := json.Marshal(meta); err == nil {
		updateErr := c.db.Update(func(txn *badger.Txn) error {
			entry := badger.NewEntry(cacheKey(addr), payload).WithTTL(cacheTTL)
			return txn.SetEntry(entry)
		})
		if updateErr != nil {
			cacheLog.WithError(updateErr).Warn("写入代币缓存失败")
		}
	}
	return meta, nil
}
