package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dexbot/godex/pkg/logger"
)

// SignerConfig 结算签名人配置
// 私钥和助记词二选一，私钥优先。
type SignerConfig struct {
	PrivateKey     string `yaml:"private_key"`
	Mnemonic       string `yaml:"mnemonic"`
	DerivationPath string `yaml:"derivation_path"`
}

// FeedConfig 外部参考价推送配置
type FeedConfig struct {
	URL     string `yaml:"url"`     // websocket 地址，为空则不启动
	Enabled bool   `yaml:"enabled"`
}

// Config 服务配置
type Config struct {
	Listen string `yaml:"listen"`

	ChainID         int64  `yaml:"chain_id"`
	RPCURL          string `yaml:"rpc_url"`
	ExchangeAddress string `yaml:"exchange_address"`

	RegistryURL   string `yaml:"registry_url"`    // 代币注册表，为空则只用静态目录
	TokenCacheDir string `yaml:"token_cache_dir"` // badger 缓存目录，为空则不启用缓存

	// ImpactRate 市价买单冲击系数
	ImpactRate float64 `yaml:"impact_rate"`

	Signer SignerConfig  `yaml:"signer"`
	Feed   FeedConfig    `yaml:"feed"`
	Log    logger.Config `yaml:"log"`
}

// Load 从 YAML 文件加载配置，环境变量覆盖关键字段
func Load(path string) (*Config, error) {
	cfg := &Config{
		Listen:     ":8080",
		ChainID:    31337,
		ImpactRate: 1,
		Log:        logger.Config{Level: "info"},
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("解析配置文件失败: %w", err)
		}
	}

	// 环境变量覆盖（.env 已由入口加载）
	if v := os.Getenv("GODEX_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("GODEX_RPC_URL"); v != "" {
		cfg.RPCURL = v
	}
	if v := os.Getenv("GODEX_EXCHANGE_ADDRESS"); v != "" {
		cfg.ExchangeAddress = v
	}
	if v := os.Getenv("GODEX_SIGNER_PRIVATE_KEY"); v != "" {
		cfg.Signer.PrivateKey = v
	}
	if v := os.Getenv("GODEX_SIGNER_MNEMONIC"); v != "" {
		cfg.Signer.Mnemonic = v
	}
	if v := os.Getenv("GODEX_REGISTRY_URL"); v != "" {
		cfg.RegistryURL = v
	}

	return cfg, nil
}
