package signing

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/dexbot/godex/dex/types"
)

// Domain EIP712 域参数
type Domain struct {
	Name              string
	Version           string
	ChainID           types.Chain
	VerifyingContract common.Address
}

// DefaultDomain 返回交易所合约使用的标准域
func DefaultDomain(chainID types.Chain, verifyingContract common.Address) Domain {
	return Domain{
		Name:              DomainName,
		Version:           DomainVersion,
		ChainID:           chainID,
		VerifyingContract: verifyingContract,
	}
}

// orderTypeDefs Order 主类型定义
// 字段顺序必须与合约的 getOrderHash 完全一致
var orderTypeDefs = []apitypes.Type{
	{Name: "maker", Type: "address"},
	{Name: "tokenGet", Type: "address"},
	{Name: "amountGet", Type: "uint256"},
	{Name: "tokenGive", Type: "address"},
	{Name: "amountGive", Type: "uint256"},
	{Name: "nonce", Type: "uint256"},
	{Name: "expiry", Type: "uint256"},
	{Name: "orderType", Type: "uint8"},
	{Name: "timeInForce", Type: "uint8"},
	{Name: "side", Type: "uint8"},
	{Name: "stopPrice", Type: "uint256"},
	{Name: "minFillAmount", Type: "uint256"},
	{Name: "allowPartialFill", Type: "bool"},
	{Name: "feeRecipient", Type: "address"},
	{Name: "feeAmount", Type: "uint256"},
}

// BuildTypedData 构建订单的 EIP712 TypedData
func BuildTypedData(domain Domain, order *types.Order) apitypes.TypedData {
	typeDefs := apitypes.Types{
		"EIP712Domain": {
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
			{Name: "verifyingContract", Type: "address"},
		},
		"Order": orderTypeDefs,
	}

	// 地址使用字符串格式，数值使用 big.Int
	message := map[string]interface{}{
		"maker":            order.Maker.Hex(),
		"tokenGet":         order.TokenGet.Hex(),
		"amountGet":        order.AmountGet,
		"tokenGive":        order.TokenGive.Hex(),
		"amountGive":       order.AmountGive,
		"nonce":            order.NonceOrZero(),
		"expiry":           order.ExpiryOrZero(),
		"orderType":        big.NewInt(int64(order.OrderType.Index())),
		"timeInForce":      big.NewInt(int64(order.TimeInForce.Index())),
		"side":             big.NewInt(int64(order.Side.Index())),
		"stopPrice":        order.StopPriceOrZero(),
		"minFillAmount":    order.MinFillOrZero(),
		"allowPartialFill": order.AllowPartialFill,
		"feeRecipient":     order.FeeRecipient.Hex(),
		"feeAmount":        order.FeeAmountOrZero(),
	}

	return apitypes.TypedData{
		Types:       typeDefs,
		PrimaryType: "Order",
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           math.NewHexOrDecimal256(int64(domain.ChainID)),
			VerifyingContract: domain.VerifyingContract.Hex(),
		},
		Message: message,
	}
}

// HashOrder 计算订单的 EIP712 摘要
// digest = keccak256(0x1901 ‖ domainSeparator ‖ hashStruct(order))
func HashOrder(domain Domain, order *types.Order) (common.Hash, error) {
	typedData := BuildTypedData(domain, order)
	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return common.Hash{}, fmt.Errorf("计算 EIP712 哈希失败: %w", err)
	}
	return common.BytesToHash(hash), nil
}

// SignOrder 用私钥对订单摘要签名，返回 65 字节签名（v ∈ {27,28}）
func SignOrder(privateKey *ecdsa.PrivateKey, domain Domain, order *types.Order) ([]byte, error) {
	digest, err := HashOrder(domain, order)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(digest.Bytes(), privateKey)
	if err != nil {
		return nil, fmt.Errorf("签名失败: %w", err)
	}
	// crypto.Sign 返回 v ∈ {0,1}，链上约定 v ∈ {27,28}
	sig[64] += 27
	return sig, nil
}

// Recover 从摘要和签名恢复签名人地址
// 接受 v ∈ {0,1,27,28}；拒绝 high-s 签名（EIP-2）
func Recover(digest common.Hash, signature []byte) (common.Address, error) {
	if len(signature) != 65 {
		return common.Address{}, fmt.Errorf("%w: 签名长度 %d", ErrInvalidSignature, len(signature))
	}

	sig := make([]byte, 65)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	if sig[64] != 0 && sig[64] != 1 {
		return common.Address{}, fmt.Errorf("%w: 非法的恢复标识 v=%d", ErrInvalidSignature, signature[64])
	}

	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:64])
	if !crypto.ValidateSignatureValues(sig[64], r, s, true) {
		return common.Address{}, fmt.Errorf("%w: 签名值越界（high-s 或 r/s 为零）", ErrInvalidSignature)
	}

	pubKey, err := crypto.SigToPub(digest.Bytes(), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pubKey), nil
}

// VerifyOrder 校验订单签名是否出自期望的 maker
func VerifyOrder(domain Domain, order *types.Order, signature []byte, expectedMaker common.Address) (bool, error) {
	digest, err := HashOrder(domain, order)
	if err != nil {
		return false, err
	}
	signer, err := Recover(digest, signature)
	if err != nil {
		return false, err
	}
	return signer == expectedMaker, nil
}
