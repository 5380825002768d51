package client

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"

	"github.com/dexbot/godex/dex/types"
)

var clientLog = logrus.WithField("component", "exchange_client")

// ContractOrder 合约视角的订单结构
// 字段名与 ABI tuple 组件一一对应，abi.Pack 依赖这个映射。
type ContractOrder struct {
	Maker            common.Address
	TokenGet         common.Address
	AmountGet        *big.Int
	TokenGive        common.Address
	AmountGive       *big.Int
	Nonce            *big.Int
	Expiry           *big.Int
	OrderType        uint8
	TimeInForce      uint8
	Side             uint8
	StopPrice        *big.Int
	MinFillAmount    *big.Int
	AllowPartialFill bool
	FeeRecipient     common.Address
	FeeAmount        *big.Int
}

// FromOrder 把规范订单转成合约视图
func FromOrder(o *types.Order) ContractOrder {
	return ContractOrder{
		Maker:            o.Maker,
		TokenGet:         o.TokenGet,
		AmountGet:        o.AmountGet,
		TokenGive:        o.TokenGive,
		AmountGive:       o.AmountGive,
		Nonce:            o.NonceOrZero(),
		Expiry:           o.ExpiryOrZero(),
		OrderType:        o.OrderType.Index(),
		TimeInForce:      o.TimeInForce.Index(),
		Side:             o.Side.Index(),
		StopPrice:        o.StopPriceOrZero(),
		MinFillAmount:    o.MinFillOrZero(),
		AllowPartialFill: o.AllowPartialFill,
		FeeRecipient:     o.FeeRecipient,
		FeeAmount:        o.FeeAmountOrZero(),
	}
}

// ExchangeClient 交易所合约客户端
type ExchangeClient struct {
	client      *ethclient.Client
	exchange    common.Address
	privateKey  *ecdsa.PrivateKey
	chainID     *big.Int
	exchangeABI abi.ABI
}

// NewExchangeClient 创建交易所合约客户端
// privateKey 为结算签名人，可为 nil（只读模式）。
func NewExchangeClient(rpcURL string, chainID types.Chain, exchange common.Address, privateKey *ecdsa.PrivateKey) (*ExchangeClient, error) {
	conn, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接RPC节点失败: %w", err)
	}

	exchangeABI, err := abi.JSON(strings.NewReader(ExchangeABI))
	if err != nil {
		return nil, fmt.Errorf("解析交易所 ABI 失败: %w", err)
	}

	return &ExchangeClient{
		client:      conn,
		exchange:    exchange,
		privateKey:  privateKey,
		chainID:     big.NewInt(int64(chainID)),
		exchangeABI: exchangeABI,
	}, nil
}

// SignerAddress 结算签名人地址
func (c *ExchangeClient) SignerAddress() (common.Address, error) {
	if c.privateKey == nil {
		return common.Address{}, fmt.Errorf("未配置结算签名人")
	}
	return crypto.PubkeyToAddress(c.privateKey.PublicKey), nil
}

// GetNonce 查询 maker 当前的链上 nonce
func (c *ExchangeClient) GetNonce(ctx context.Context, user common.Address) (*big.Int, error) {
	data, err := c.exchangeABI.Pack("getNonce", user)
	if err != nil {
		return nil, fmt.Errorf("打包getNonce参数失败: %w", err)
	}
	result, err := c.client.CallContract(ctx, ethereum.CallMsg{To: &c.exchange, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("调用getNonce失败: %w", err)
	}
	var nonce *big.Int
	if err := c.exchangeABI.UnpackIntoInterface(&nonce, "getNonce", result); err != nil {
		return nil, fmt.Errorf("解析getNonce结果失败: %w", err)
	}
	return nonce, nil
}

// BalanceOf 查询用户在交易所内的代币余额
func (c *ExchangeClient) BalanceOf(ctx context.Context, user, token common.Address) (*big.Int, error) {
	data, err := c.exchangeABI.Pack("balanceOf", user, token)
	if err != nil {
		return nil, fmt.Errorf("打包balanceOf参数失败: %w", err)
	}
	result, err := c.client.CallContract(ctx, ethereum.CallMsg{To: &c.exchange, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("调用balanceOf失败: %w", err)
	}
	var balance *big.Int
	if err := c.exchangeABI.UnpackIntoInterface(&balance, "balanceOf", result); err != nil {
		return nil, fmt.Errorf("解析balanceOf结果失败: %w", err)
	}
	return balance, nil
}

// ExecuteOrder 提交订单执行交易
func (c *ExchangeClient) ExecuteOrder(ctx context.Context, order ContractOrder, signature []byte, fillAmount *big.Int) (*ethtypes.Transaction, error) {
	data, err := c.exchangeABI.Pack("executeOrder", order, signature, fillAmount)
	if err != nil {
		return nil, fmt.Errorf("打包executeOrder参数失败: %w", err)
	}
	return c.sendTx(ctx, data)
}

// ExecuteMarketOrder 提交市价单执行交易
func (c *ExchangeClient) ExecuteMarketOrder(ctx context.Context, order ContractOrder, signature []byte, maxSlippage *big.Int) (*ethtypes.Transaction, error) {
	data, err := c.exchangeABI.Pack("executeMarketOrder", order, signature, maxSlippage)
	if err != nil {
		return nil, fmt.Errorf("打包executeMarketOrder参数失败: %w", err)
	}
	return c.sendTx(ctx, data)
}

// CancelOrder 链上取消单个订单
func (c *ExchangeClient) CancelOrder(ctx context.Context, order ContractOrder) (*ethtypes.Transaction, error) {
	data, err := c.exchangeABI.Pack("cancelOrder", order)
	if err != nil {
		return nil, fmt.Errorf("打包cancelOrder参数失败: %w", err)
	}
	return c.sendTx(ctx, data)
}

// CancelOrders 链上批量取消订单
func (c *ExchangeClient) CancelOrders(ctx context.Context, orders []ContractOrder) (*ethtypes.Transaction, error) {
	data, err := c.exchangeABI.Pack("cancelOrders", orders)
	if err != nil {
		return nil, fmt.Errorf("打包cancelOrders参数失败: %w", err)
	}
	return c.sendTx(ctx, data)
}

// IncrementNonce 递增签名人自己的链上 nonce
func (c *ExchangeClient) IncrementNonce(ctx context.Context) (*ethtypes.Transaction, error) {
	data, err := c.exchangeABI.Pack("incrementNonce")
	if err != nil {
		return nil, fmt.Errorf("打包incrementNonce参数失败: %w", err)
	}
	return c.sendTx(ctx, data)
}

// sendTx 构建、签名并发送交易
func (c *ExchangeClient) sendTx(ctx context.Context, data []byte) (*ethtypes.Transaction, error) {
	if c.privateKey == nil {
		return nil, fmt.Errorf("未配置结算签名人")
	}
	from := crypto.PubkeyToAddress(c.privateKey.PublicKey)

	nonce, err := c.client.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("获取nonce失败: %w", err)
	}
	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取gas价格失败: %w", err)
	}
	gasLimit, err := c.client.EstimateGas(ctx, ethereum.CallMsg{
		From:  from,
		To:    &c.exchange,
		Data:  data,
		Value: big.NewInt(0),
	})
	if err != nil {
		return nil, fmt.Errorf("估算gas失败: %w", err)
	}

	tx := ethtypes.NewTransaction(nonce, c.exchange, big.NewInt(0), gasLimit, gasPrice, data)
	signedTx, err := ethtypes.SignTx(tx, ethtypes.NewEIP155Signer(c.chainID), c.privateKey)
	if err != nil {
		return nil, fmt.Errorf("签名交易失败: %w", err)
	}
	if err := c.client.SendTransaction(ctx, signedTx); err != nil {
		return nil, fmt.Errorf("发送交易失败: %w", err)
	}

	clientLog.WithFields(logrus.Fields{"tx": signedTx.Hash().Hex(), "nonce": nonce}).Info("transaction sent")
	return signedTx, nil
}
