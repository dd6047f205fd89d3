package conf

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// 配置加载（API密钥等）
// 各交易所的密钥和地址都是显式配置，不走环境变量全局状态

type Binance struct {
	ApiKey    string `yaml:"apiKey"`
	SecretKey string `yaml:"secretKey"`

	SpotURL          string `yaml:"spot-url"`
	SpotWsURL        string `yaml:"spot-ws-url"`
	UsdtFuturesURL   string `yaml:"usdt-futures-url"`
	UsdtFuturesWsURL string `yaml:"usdt-futures-ws-url"`
	CoinFuturesURL   string `yaml:"coin-futures-url"`
	CoinFuturesWsURL string `yaml:"coin-futures-ws-url"`
}

type Okx struct {
	ApiKey    string `yaml:"apiKey"`
	SecretKey string `yaml:"secretKey"`
	Password  string `yaml:"password"`
	WsURL     string `yaml:"ws-url"`
	Simulated bool   `yaml:"simulated"`
}

type Coinbase struct {
	ApiKey     string `yaml:"apiKey"`
	SecretKey  string `yaml:"secretKey"`
	Passphrase string `yaml:"passphrase"`
	URL        string `yaml:"url"`
	WsURL      string `yaml:"ws-url"`
}

// Deribit 支持子账户，MAIN 账户用来查询手续费率
type DeribitKey struct {
	ApiKey    string `yaml:"apiKey"`
	SecretKey string `yaml:"secretKey"`
}

type Deribit struct {
	WsURL    string                `yaml:"ws-url"`
	Accounts map[string]DeribitKey `yaml:"accounts"`
}

type Telegram struct {
	Token  string `yaml:"token" validate:"required"`
	ChatID int64  `yaml:"chat-id" validate:"required"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	FileName   string `yaml:"file-name"`
	TimeFormat string `yaml:"time-format"`
	MaxSize    int    `yaml:"max-size"`
	MaxBackups int    `yaml:"max-backups"`
	MaxAge     int    `yaml:"max-age"`
	Compress   bool   `yaml:"compress"`
	LocalTime  bool   `yaml:"local-time"`
	Console    bool   `yaml:"console"`
}

type Config struct {
	AppName string `yaml:"app_name"`
	// 状态/控制HTTP服务监听地址，留空则不启动
	Listen string `yaml:"listen"`
	// sqlite 执行记录文件存放目录
	DataDir string `yaml:"data-dir"`

	Binance  Binance   `yaml:"binance"`
	Okx      Okx       `yaml:"okx"`
	Coinbase Coinbase  `yaml:"coinbase"`
	Deribit  Deribit   `yaml:"deribit"`
	Telegram Telegram  `yaml:"telegram"`
	Log      LogConfig `yaml:"log"`
}

var AppConfig Config

func LoadConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("Read config file error %w", err)
	}
	if err := yaml.Unmarshal(data, &AppConfig); err != nil {
		return fmt.Errorf("Unmarshal config yaml error: %w", err)
	}
	if err := validator.New().Struct(&AppConfig); err != nil {
		return fmt.Errorf("Validate config error: %w", err)
	}
	return nil
}
