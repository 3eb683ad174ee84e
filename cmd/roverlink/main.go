package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/viper"

	"github.com/tsunogaya/roverlink/core"
	"github.com/tsunogaya/roverlink/logger"
	"github.com/tsunogaya/roverlink/protocols/sora"
)

func main() {
	configPath := flag.String("c", "", "Path to config file (default searches ./config.yaml, /etc/roverlink/config.yaml)")
	room := flag.String("room", "", "Signaling channel id (overrides config)")
	password := flag.String("password", "", "Room password (injected into signaling metadata)")
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
	if *password != "" {
		cfg.Signaling.Password = *password
	}
	if *debug {
		cfg.System.Debug = true
	}
	cfg.System.Role = core.RoleOperator

	if err := initLogger(cfg); err != nil {
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

	input := &consoleInput{}
	client, err := core.NewClient(cfg, connector, input, nil, log)
	if err != nil {
		log.Error("failed to create client", "error", err)
		os.Exit(1)
	}

	lastLevel := core.HealthLevel("")
	client.OnHealth = func(reason string, snap core.HealthSnapshot) {
		if snap.Level != lastLevel {
			lastLevel = snap.Level
			log.Info("health changed", "level", snap.Level, "reason", reason)
		}
	}
	client.OnFrame = func(f core.Frame) {
		log.Debug("frame",
			"x", f.Pose.X, "z", f.Pose.Z, "yaw", f.Pose.Yaw,
			"extrapolated", f.Extrapolated)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	go readCommands(input, client, cancel)

	if err := client.Run(ctx); err != nil {
		log.Error("client runtime error", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
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
	_ = viper.BindEnv("signaling.password")

	cfg := core.DefaultConfig()
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return cfg, err
		}
		// No config file found on the search path: defaults plus
		// environment still make a valid configuration.
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

func initLogger(cfg core.Config) error {
	logCfg := logger.Config{
		Level:   cfg.Logging.Level,
		Outputs: cfg.Logging.Outputs,
	}
	if cfg.System.Debug {
		logCfg.Level = "debug"
	}
	return logger.Init(logCfg)
}

// consoleInput holds the latest axis values set from the command reader.
// Sample is pulled from the client run loop.
type consoleInput struct {
	mu    sync.Mutex
	cur   core.Input
	valid bool
}

func (p *consoleInput) Sample() (core.Input, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cur, p.valid
}

func (p *consoleInput) update(fn func(*core.Input)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.cur)
	p.cur.Keyboard = true
	p.valid = true
}

// readCommands is a minimal stdin shim standing in for a real input device:
//
//	t <v>   throttle [-1,1]
//	s <v>   steer    [-1,1]
//	b <v>   brake    [0,1]
//	m <x>   drive mode
//	x       zero all axes
//	estop   force brake
//	q       quit
func readCommands(input *consoleInput, client *core.Client, cancel context.CancelFunc) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "t", "s", "b":
			if len(fields) < 2 {
				continue
			}
			v, err := strconv.ParseFloat(fields[1], 64)
			if err != nil {
				fmt.Fprintf(os.Stderr, "bad value: %v\n", err)
				continue
			}
			input.update(func(in *core.Input) {
				switch fields[0] {
				case "t":
					in.Throttle = v
				case "s":
					in.Steer = v
				case "b":
					in.Brake = v
				}
			})
		case "m":
			if len(fields) < 2 {
				continue
			}
			input.update(func(in *core.Input) { in.Mode = fields[1] })
		case "x":
			input.update(func(in *core.Input) {
				in.Throttle, in.Steer, in.Brake = 0, 0, 0
			})
		case "estop":
			client.ForceBrake()
		case "q", "quit":
			cancel()
			return
		default:
			fmt.Fprintln(os.Stderr, "commands: t/s/b <v>, m <mode>, x, estop, q")
		}
	}
}
