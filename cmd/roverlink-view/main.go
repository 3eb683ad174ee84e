package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/viper"

	"github.com/tsunogaya/roverlink/core"
	"github.com/tsunogaya/roverlink/logger"
	"github.com/tsunogaya/roverlink/protocols/sora"
)

// roverlink-view is the read-only client: it subscribes to the state
// channel, reconstructs the trajectory and prints frames and health
// transitions. It registers no control channel and sends nothing.
func main() {
	configPath := flag.String("c", "", "Path to config file")
	room := flag.String("room", "", "Signaling channel id (overrides config)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *room != "" {
		cfg.Signaling.ChannelID = *room
	}
	if *debug {
		cfg.System.Debug = true
	}
	cfg.System.Role = core.RoleViewer

	logCfg := logger.Config{Level: cfg.Logging.Level, Outputs: cfg.Logging.Outputs}
	if cfg.System.Debug {
		logCfg.Level = "debug"
	}
	if err := logger.Init(logCfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	log := logger.Logger()

	metadata := map[string]any{}
	if cfg.Signaling.Password != "" {
		metadata["password"] = cfg.Signaling.Password
	}
	connector := sora.NewConnector(sora.Config{
		SignalingURLs: cfg.Signaling.URLs,
		ChannelID:     cfg.Signaling.ChannelID,
		Metadata:      metadata,
	}, log.With("component", "sora"))

	client, err := core.NewClient(cfg, connector, nil, nil, log)
	if err != nil {
		log.Error("failed to create client", "error", err)
		os.Exit(1)
	}

	var lastPrint time.Time
	client.OnFrame = func(f core.Frame) {
		if time.Since(lastPrint) < 500*time.Millisecond {
			return
		}
		lastPrint = time.Now()
		mode := "interp"
		if f.Extrapolated {
			mode = "extrap"
		}
		fmt.Printf("pose x=%7.2f z=%7.2f yaw=%6.2f vx=%5.2f wz=%5.2f [%s seq=%d]\n",
			f.Pose.X, f.Pose.Z, f.Pose.Yaw, f.Vel.VX, f.Vel.WZ, mode, f.Seq)
	}

	lastLevel := core.HealthLevel("")
	client.OnHealth = func(reason string, snap core.HealthSnapshot) {
		if snap.Level == lastLevel {
			return
		}
		lastLevel = snap.Level
		fmt.Printf("health: %s (%s)\n", snap.Level, reason)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	if err := client.Run(ctx); err != nil {
		log.Error("client runtime error", "error", err)
		os.Exit(1)
	}
}

func loadConfig(configPath string) (core.Config, error) {
	viper.SetConfigType("yaml")
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/roverlink")
	}
	viper.SetEnvPrefix("roverlink")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	_ = viper.BindEnv("signaling.urls")
	_ = viper.BindEnv("signaling.channel_id")

	cfg := core.DefaultConfig()
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return cfg, err
		}
	}
	if err := viper.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if urls := viper.GetString("signaling.urls"); urls != "" && len(cfg.Signaling.URLs) == 0 {
		for _, u := range strings.Split(urls, ",") {
			if u = strings.TrimSpace(u); u != "" {
				cfg.Signaling.URLs = append(cfg.Signaling.URLs, u)
			}
		}
	}
	return cfg, nil
}
