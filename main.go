package main

import (
	"errors"
	"io/fs"
	"os"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/danpilch/mrtbot/internal/config"
)

var CLI struct {
	Config   string `help:"Path to config file" default:"config.yaml" type:"path"`
	EnvFile  string `help:"Path to a .env file with secrets" default:".env" type:"path"`
	LogLevel string `help:"Log level" default:"info" enum:"debug,info,warn,error"`

	Serve    ServeCmd    `cmd:"" default:"1" help:"Run the Telegram bot"`
	Stations StationsCmd `cmd:"" help:"Print the stations and their bot commands"`
}

// app carries what every command needs.
type app struct {
	cfg    *config.Config
	logger *logrus.Logger
}

func main() {
	kctx := kong.Parse(&CLI,
		kong.Name("mrtbot"),
		kong.Description("Telegram bot for live MRT train arrival times."),
	)

	// Setup structured logging with logfmt
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetFormatter(&logrus.TextFormatter{
		DisableColors: true,
		FullTimestamp: true,
	})
	level, err := logrus.ParseLevel(CLI.LogLevel)
	if err != nil {
		logger.WithField("error", err).Fatal("invalid log level")
	}
	logger.SetLevel(level)

	// Secrets live in the environment, optionally seeded from a .env file
	if err := godotenv.Load(CLI.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.WithField("error", err).Fatal("failed to load env file")
	}

	cfg, err := config.Load(CLI.Config)
	if err != nil {
		logger.WithField("error", err).Fatal("failed to load config")
	}

	if err := kctx.Run(&app{cfg: cfg, logger: logger}); err != nil {
		logger.WithField("error", err).Fatal("mrtbot failed")
	}
}
