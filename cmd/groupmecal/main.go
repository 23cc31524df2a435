package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"groupmecal/internal/cache"
	"groupmecal/internal/config"
	"groupmecal/internal/groupme"
	"groupmecal/internal/ics"
	appLog "groupmecal/internal/log"
	"groupmecal/internal/metrics"
	"groupmecal/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	defer appLog.Sync()

	// CLI --listen overrides config file and environment.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	appLog.Info("groupmecal starting",
		"listen", conf.Listen,
		"group_id", conf.GroupID,
		"timezone", conf.Timezone,
		"cache_minutes", conf.CacheMinutes,
		"static_name", conf.StaticName,
		"proxy_url", conf.ProxyURL,
		"basic_auth", conf.BasicAuth != nil,
	)
	if err := conf.RequireUpstream(); err != nil {
		// Keep serving so visitors see what is missing.
		appLog.Error("configuration incomplete", err)
	}

	metrics.Register()

	client := groupme.NewClient(conf.APIBaseURL, conf.UpstreamTimeout())
	controller := cache.NewController(cache.Options{
		AccessToken:  conf.APIKey,
		GroupID:      conf.GroupID,
		Interval:     conf.CacheDuration(),
		Timezone:     conf.Timezone,
		StaticName:   conf.StaticName,
		FetchTimeout: 2 * conf.UpstreamTimeout(),
	}, client, ics.NewBuilder())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := web.NewServer(conf, controller)
	if err := srv.Run(ctx); err != nil {
		appLog.Error("http server failed", err)
		appLog.Sync()
		os.Exit(1)
	}
	appLog.Info("groupmecal exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "groupmecal.yaml", "Path to optional YAML config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")

	flag.Parse()

	return cfg
}
