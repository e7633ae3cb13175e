package common

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/weaveworks/promrus"

	commonconfig "github.com/G-Research/flotilla/internal/common/config"
	"github.com/G-Research/flotilla/internal/common/health"
	"github.com/G-Research/flotilla/internal/common/logging"
)

const baseConfigFileName = "config"

// LoadConfig reads the application config from defaultPath (and, if present,
// from ~/.flotilla), merges any user-specified override files on top, applies
// FLOTILLA_* environment variables and unmarshals the result into config.
// A missing base config file is not an error; overrides must exist.
func LoadConfig(config interface{}, defaultPath string, overrideConfigs []string) *viper.Viper {
	v := viper.New()
	v.SetConfigName(baseConfigFileName)
	v.AddConfigPath(defaultPath)
	if home, err := homedir.Dir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".flotilla"))
	}

	if err := v.ReadInConfig(); err != nil {
		switch err.(type) {
		case viper.ConfigFileNotFoundError:
			// Built-in defaults apply.
		default:
			log.Error(err)
			os.Exit(-1)
		}
	}

	for _, overrideConfig := range overrideConfigs {
		v.SetConfigFile(overrideConfig)
		err := v.MergeInConfig()
		if err != nil {
			log.Error(err)
			os.Exit(-1)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("FLOTILLA")
	v.AutomaticEnv()

	err := v.Unmarshal(config, commonconfig.CustomHooks...)
	if err != nil {
		log.Error(err)
		os.Exit(-1)
	}

	return v
}

// ConfigureCommandLineLogging sets up logging for CLI commands whose log
// output is the command's user-facing output.
func ConfigureCommandLineLogging() {
	commandLineFormatter := new(logging.CommandLineFormatter)
	log.SetFormatter(commandLineFormatter)
	log.SetOutput(os.Stdout)
}

// ConfigureLogging sets up logging for long-running commands, with level and
// format read from the environment.
func ConfigureLogging() {
	log.SetLevel(readEnvironmentLogLevel())
	log.SetFormatter(readEnvironmentLogFormat())
	log.SetOutput(os.Stdout)
}

func readEnvironmentLogLevel() log.Level {
	level, ok := os.LookupEnv("LOG_LEVEL")
	if ok {
		logLevel, err := log.ParseLevel(level)
		if err == nil {
			return logLevel
		}
	}
	return log.InfoLevel
}

func readEnvironmentLogFormat() log.Formatter {
	formatStr, ok := os.LookupEnv("LOG_FORMAT")
	if !ok {
		formatStr = "colourful"
	}
	switch strings.ToLower(formatStr) {
	case "json":
		return &log.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z"}
	case "colourful":
		return &log.TextFormatter{ForceColors: true, FullTimestamp: true, TimestampFormat: "2006-01-02T15:04:05.000Z"}
	case "text":
		return &log.TextFormatter{DisableColors: true, FullTimestamp: true, TimestampFormat: "2006-01-02T15:04:05.000Z"}
	default:
		fmt.Fprintf(os.Stderr, "Unknown log format %s, defaulting to colourful format\n", formatStr)
		return &log.TextFormatter{ForceColors: true, FullTimestamp: true, TimestampFormat: "2006-01-02T15:04:05.000Z"}
	}
}

// ServeMetrics exposes the prometheus metrics and health endpoints on the
// given port and registers a logrus hook counting log lines by level. The
// returned function shuts the listener down.
func ServeMetrics(port uint16, healthChecks health.Checker) (shutdown func()) {
	hook := promrus.MustNewPrometheusHook()
	log.AddHook(hook)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if healthChecks != nil {
		health.SetupHttpMux(mux, healthChecks)
	}
	return ServeHttp(port, mux)
}

// ServeHttp starts an HTTP server listening on the given port.
// The returned function shuts the server down gracefully.
func ServeHttp(port uint16, mux http.Handler) (shutdown func()) {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		log.Infof("Starting http server listening on %d", port)
		e := srv.ListenAndServe()
		if e != nil && e != http.ErrServerClosed {
			panic(e)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		log.Infof("Stopping http server listening on %d", port)
		e := srv.Shutdown(ctx)
		if e != nil {
			panic(e)
		}
	}
}
