package flags

import (
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/resource-store/common"
	"github.com/ruteri/resource-store/config"
	"github.com/ruteri/resource-store/httpserver"
	"github.com/urfave/cli/v2"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String(LogServiceFlag.Name)

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

// LoadRuntime reads the settings file named by --settings and builds the
// resource store it describes. A missing flag value yields the default
// settings rooted at the working directory.
func LoadRuntime(cCtx *cli.Context, logger *slog.Logger) (*config.Runtime, error) {
	var (
		settings *config.Settings
		err      error
	)
	if path := cCtx.String(SettingsFlag.Name); path != "" {
		settings, err = config.LoadSettings(path)
	} else {
		settings, err = config.ParseSettings(nil)
	}
	if err != nil {
		return nil, err
	}
	if root := cCtx.String(InstallRootFlag.Name); root != "" {
		settings.InstallRoot = filepath.Clean(root)
	}
	return config.Build(settings, logger)
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger, listenAddr string) *httpserver.HTTPServerConfig {
	metricsAddr := cCtx.String(MetricsAddrFlag.Name)
	enablePprof := cCtx.Bool(PprofFlag.Name)
	drainDuration := time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second

	return &httpserver.HTTPServerConfig{
		ListenAddr:               listenAddr,
		MetricsAddr:              metricsAddr,
		Log:                      logger,
		EnablePprof:              enablePprof,
		DrainDuration:            drainDuration,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}
}

var SettingsFlag = &cli.StringFlag{
	Name:    "settings",
	Aliases: []string{"c"},
	EnvVars: []string{"RESOURCE_STORE_SETTINGS"},
	Usage:   "YAML settings file describing storages, targets, collections and caches",
}

var InstallRootFlag = &cli.StringFlag{
	Name:  "install-root",
	Usage: "override install_root of the settings file",
}

var ListenAddrFlag = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:8080",
	Usage: "address to listen on for API",
}

var CollectionFlag = &cli.StringFlag{
	Name:  "collection",
	Value: config.DefaultCollection,
	Usage: "collection to operate on",
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}
var LogServiceFlag = &cli.StringFlag{
	Name:  "log-service",
	Value: common.PackageName,
	Usage: "add 'service' tag to logs",
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Value: "127.0.0.1:8090",
	Usage: "address to listen on for Prometheus metrics",
}

var CommonFlags = []cli.Flag{
	SettingsFlag,
	InstallRootFlag,
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	LogServiceFlag,
}

var ServerFlags = []cli.Flag{
	ListenAddrFlag,
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
}
