package tokens

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// DefaultDecimals 未知代币的默认精度
const DefaultDecimals = 18

// ErrUnknownToken 代币目录中不存在该地址
var ErrUnknownToken = errors.New("unknown token")

// Metadata 代币元数据
type Metadata struct {
	Address     common.Address `json:"address"`
	Name        string         `json:"name"`
	Symbol      string         `json:"symbol"`
	Decimals    int            `json:"decimals"`
	TotalSupply *big.Int       `json:"totalSupply,omitempty"`
	Issuer      string         `json:"issuer,omitempty"`
}

// Directory 代币目录（外部协作方）
type Directory interface {
	// Metadata 查询代币元数据；未知代币返回 ErrUnknownToken
	Metadata(ctx context.Context, addr common.Address) (*Metadata, error)
}

// Decimals 查询代币精度，未知代币回退到默认 18 位
func Decimals(ctx context.Context, dir Directory, addr common.Address) int {
	if dir == nil {
		return DefaultDecimals
	}
	meta, err := dir.Metadata(ctx, addr)
	if err != nil || meta == nil || meta.Decimals <= 0 {
		return DefaultDecimals
	}
	return meta.Decimals
}

// StaticDirectory 进程内静态目录（测试和引导场景）
type StaticDirectory struct {
	mu     sync.RWMutex
	tokens map[string]*Metadata
}

// NewStaticDirectory 创建静态目录
func NewStaticDirectory() *StaticDirectory {
	return &StaticDirectory{tokens: make(map[string]*Metadata)}
}

// Register 登记一个代币
func (d *StaticDirectory) Register(meta *Metadata) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tokens[strings.ToLower(meta.Address.Hex())] = meta
}

// Metadata 实现 Directory
func (d *StaticDirectory) Metadata(_ context.Context, addr common.Address) (*Metadata, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	meta, ok := d.tokens[strings.ToLower(addr.Hex())]
	if !ok {
		return nil, ErrUnknownToken
	}
	return meta, nil
}
