package signing

import "errors"

const (
	// DomainName EIP712 域名名称
	DomainName = "DEX"

	// DomainVersion EIP712 版本
	DomainVersion = "1"
)

// ErrInvalidSignature 签名不合法（长度、v 值、high-s 或无法恢复）
var ErrInvalidSignature = errors.New("invalid signature")

// ErrMakerMismatch 签名人与 maker 不一致
var ErrMakerMismatch = errors.New("signature does not match maker")
