package client

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	hdwallet "github.com/miguelmota/go-ethereum-hdwallet"
)

// DefaultDerivationPath 助记词推导路径
const DefaultDerivationPath = "m/44'/60'/0'/0/0"

// SignerFromMnemonic 从助记词推导结算签名人私钥
func SignerFromMnemonic(mnemonic, path string) (*ecdsa.PrivateKey, error) {
	if strings.TrimSpace(mnemonic) == "" {
		return nil, fmt.Errorf("助记词为空")
	}
	if path == "" {
		path = DefaultDerivationPath
	}

	wallet, err := hdwallet.NewFromMnemonic(mnemonic)
	if err != nil {
		return nil, fmt.Errorf("解析助记词失败: %w", err)
	}
	derivationPath, err := hdwallet.ParseDerivationPath(path)
	if err != nil {
		return nil, fmt.Errorf("解析推导路径失败: %w", err)
	}
	account, err := wallet.Derive(derivationPath, false)
	if err != nil {
		return nil, fmt.Errorf("推导账户失败: %w", err)
	}
	return wallet.PrivateKey(account)
}
