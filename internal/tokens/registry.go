package tokens

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

// RegistryClient 远端代币注册表客户端
// 注册表暴露 GET /tokens/{address}，返回 JSON 元数据。
type RegistryClient struct {
	client *resty.Client
}

// registryToken 注册表返回的代币结构
type registryToken struct {
	Address     string `json:"address"`
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Decimals    int    `json:"decimals"`
	TotalSupply string `json:"totalSupply,omitempty"`
	Issuer      string `json:"issuer,omitempty"`
}

// NewRegistryClient 创建注册表客户端
func NewRegistryClient(baseURL string) *RegistryClient {
	if strings.HasSuffix(baseURL, "/") {
		baseURL = baseURL[:len(baseURL)-1]
	}

	// resty 会自动读取环境变量中的代理配置
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second)

	return &RegistryClient{client: client}
}

// Metadata 实现 Directory
func (c *RegistryClient) Metadata(ctx context.Context, addr common.Address) (*Metadata, error) {
	var body registryToken
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&body).
		Get(fmt.Sprintf("/tokens/%s", strings.ToLower(addr.Hex())))
	if err != nil {
		return nil, errors.Wrap(err, "请求代币注册表失败")
	}
	if resp.StatusCode() == 404 {
		return nil, ErrUnknownToken
	}
	if resp.IsError() {
		return nil, errors.Errorf("代币注册表返回 %d: %s", resp.StatusCode(), resp.String())
	}

	meta := &Metadata{
		Address:  addr,
		Name:     body.Name,
		Symbol:   body.Symbol,
		Decimals: body.Decimals,
		Issuer:   body.Issuer,
	}
	if body.TotalSupply != "" {
		supply, ok := new(big.Int).SetString(body.TotalSupply, 10)
		if ok {
			meta.TotalSupply = supply
		}
	}
	return meta, nil
}
