package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"twapexecution/conf"
	"twapexecution/internal/consts"
	"twapexecution/internal/dao"
	"twapexecution/internal/exchange"
	"twapexecution/internal/handler/status"
	"twapexecution/internal/model"
	"twapexecution/internal/router"
	"twapexecution/internal/service/execution"
	"twapexecution/pkg/db"
	"twapexecution/pkg/logger"
	"twapexecution/pkg/tgbot"

	"github.com/gin-gonic/gin"
	goex "github.com/nntaoli-project/goex/v2"
)

func main() {
	var (
		confPath  = flag.String("conf", "conf/config.yaml", "配置文件路径")
		exchName  = flag.String("exchange", "", "交易所: BINANCE/OKEX/COINBASE/DERIBIT")
		market    = flag.String("market", consts.MarketSpot, "市场: SPOT/USDT-FUTURES/COIN-FUTURES/FUTURES")
		coin      = flag.String("coin", "", "标的，如 BTC-USDT、BTC-250926、BTC-PERP")
		qty       = flag.Float64("qty", 0, "目标执行数量")
		threshold = flag.Float64("price-threshold", 0, "价格阈值，0表示不设闸门")
		side      = flag.String("side", "", "方向: BUY/SELL/LONG-BUY/LONG-SELL/SHORT-BUY/SHORT-SELL")
		minutes   = flag.Float64("minutes", 0, "执行窗口（分钟）")
		freq      = flag.Float64("freq", 1, "每分钟下单次数")
		cont      = flag.Bool("continue", false, "接续上一次未完成的执行")
		leverage  = flag.Int("leverage", 1, "合约杠杆倍数")
		account   = flag.String("account", "SUB1", "deribit子账户")
		paper     = flag.Bool("paper", false, "纸面模式，不发真实请求")
		price     = flag.Float64("paper-price", 100, "纸面模式的初始价格")
	)
	flag.Parse()

	if err := conf.LoadConfig(*confPath); err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	cfg := conf.AppConfig

	logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		FileName:   cfg.Log.FileName,
		TimeFormat: cfg.Log.TimeFormat,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
		LocalTime:  cfg.Log.LocalTime,
		Console:    cfg.Log.Console,
	})
	defer logger.Sync()

	venue, err := buildVenue(*exchName, *market, *account, *paper, *price, cfg)
	if err != nil {
		logger.Error("初始化交易所失败", logger.Pair("err", err.Error()))
		os.Exit(1)
	}

	gdb, err := db.Open(cfg.DataDir, db.FileName(venue.Exchange(), *coin, venue.Market(), deribitAccount(venue, *account)))
	if err != nil {
		logger.Error("打开执行记录数据库失败", logger.Pair("err", err.Error()))
		os.Exit(1)
	}
	store, err := dao.NewExecutionDao(gdb)
	if err != nil {
		logger.Error("初始化执行记录表失败", logger.Pair("err", err.Error()))
		os.Exit(1)
	}

	gateway := execution.NewTelegramGateway(tgbot.New(cfg.Telegram.Token), cfg.Telegram.ChatID)

	ctrl, err := execution.NewController(venue, store, gateway, gateway, execution.Params{
		Coin:             *coin,
		Qty:              *qty,
		PriceThreshold:   *threshold,
		Side:             model.OrderSide(strings.ToUpper(*side)),
		ExecutionMinutes: *minutes,
		FreqPerMinute:    *freq,
		Continue:         *cont,
		Leverage:         *leverage,
		Account:          *account,
	})
	if err != nil {
		logger.Error("创建控制器失败", logger.Pair("err", err.Error()))
		os.Exit(1)
	}

	// 本地控制面，留空不启动
	if cfg.Listen != "" {
		engine := gin.Default()
		router.NewApiRouter(status.NewHandler(ctrl)).Load(engine)
		go func() {
			if err := engine.Run(cfg.Listen); err != nil {
				logger.Warn("控制面退出", logger.Pair("err", err.Error()))
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Info("收到退出信号，停止执行")
		ctrl.Stop()
	}()

	if err := ctrl.Run(ctx); err != nil {
		logger.Error("执行异常结束", logger.Pair("err", err.Error()))
		os.Exit(1)
	}
	logger.Info("执行结束", logger.Pair("phase", ctrl.Phase().String()))
}

func buildVenue(exchName, market, account string, paper bool, paperPrice float64, cfg conf.Config) (exchange.Venue, error) {
	exchName = strings.ToUpper(exchName)
	market = strings.ToUpper(market)

	if paper {
		return exchange.NewSimulated(exchName, market, paperPrice, 2, 0.001), nil
	}

	switch exchName {
	case consts.ExchangeOkex:
		if cfg.Okx.Simulated {
			goex.DefaultHttpCli.SetHeaders("x-simulated-trading", "1")
		}
		rest := exchange.NewOkexGoexRest(market, cfg.Okx)
		return exchange.NewOkex(market, cfg.Okx, rest), nil
	case consts.ExchangeBinance, consts.ExchangeCoinbase, consts.ExchangeDeribit:
		return nil, fmt.Errorf("%s 的REST签名协作方未接入，实盘请走OKEX或使用 --paper", exchName)
	default:
		return nil, fmt.Errorf("不支持的交易所 %q", exchName)
	}
}

func deribitAccount(venue exchange.Venue, account string) string {
	if venue.Exchange() == consts.ExchangeDeribit {
		return account
	}
	return ""
}
