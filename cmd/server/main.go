package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"driftbottle/internal/assets"
	"driftbottle/internal/bulletin"
	"driftbottle/internal/config"
	"driftbottle/internal/db"
	"driftbottle/internal/delivery"
	"driftbottle/internal/platform"
	"driftbottle/internal/scheduler"
	"driftbottle/internal/store"
	"driftbottle/internal/utils"
	"driftbottle/internal/web"
)

const sentCacheSize = 2048

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "配置文件路径（默认 ./driftbottle.yaml）")
	flag.Parse()

	// 加载 .env（如果存在），再读配置
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("加载配置失败")
	}

	level := zerolog.InfoLevel
	if cfg.Debug {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	gdb, err := db.Open(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("打开数据库失败")
	}
	st := store.New(gdb)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 老数据的 comment_count 可能还是哨兵值，启动时补齐
	if n, err := st.BackfillCommentCounts(ctx); err != nil {
		log.Fatal().Err(err).Msg("回填评论计数失败")
	} else if n > 0 {
		log.Info().Int("bottles", n).Msg("评论计数回填完成")
	}

	cache := utils.NewSentCache(sentCacheSize)
	engine := delivery.New(cfg, log)
	sched := scheduler.New(st, engine, cache, cfg, log)
	svc := bulletin.NewService(st, assets.New(cfg, log), engine, cache, cfg, nil, log)

	// 编译进来的平台适配器在这里拿到核心服务：
	// 会话注册走 sched.Register，指令走 svc.Dispatch
	deps := platform.Deps{Bulletin: svc, Scheduler: sched}
	for _, a := range platform.All() {
		go func(a platform.Adapter) {
			log.Info().Str("adapter", a.Name()).Msg("平台适配器启动")
			if err := a.Run(ctx, deps); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Str("adapter", a.Name()).Err(err).Msg("平台适配器退出")
			}
		}(a)
	}

	srv := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: web.New(cfg, st, sched, log).Handler(),
	}
	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("HTTP 服务启动")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP 服务异常退出")
		}
	}()

	if cfg.Broadcast.Enable {
		go sched.Run(ctx)
	}

	<-ctx.Done()
	log.Info().Msg("收到退出信号，正在关闭")

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP 服务关闭超时")
	}
}
