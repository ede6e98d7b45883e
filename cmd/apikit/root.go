package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lgc202/apikit/config"
	"github.com/lgc202/apikit/metrics"
)

// errReported marks failures that were already printed.
var errReported = errors.New("apikit: failure reported")

type app struct {
	configPath string
	service    string
	verbose    bool
	output     string
	origin     string

	stdout io.Writer
	stderr io.Writer

	cfg     *config.Config[config.File]
	log     *logrus.Logger
	slog    *slog.Logger
	metrics *metrics.Collector
	srv     *http.Server
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:           "apikit",
		Short:         "Call configured APIs with typed errors and automatic re-authentication",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init()
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.close()
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	f := root.PersistentFlags()
	f.StringVarP(&a.configPath, "config", "c", "", "config file (yaml, json or toml)")
	f.StringVarP(&a.service, "service", "s", "api", "service name from the config file")
	f.BoolVarP(&a.verbose, "verbose", "v", false, "log client activity to stderr")
	f.StringVarP(&a.output, "output", "o", "text", "output format: text or json (version also accepts short)")
	f.StringVar(&a.origin, "origin", "", "override the service origin: internal or external")

	root.AddCommand(
		newRequestCmd(a, http.MethodGet),
		newRequestCmd(a, http.MethodDelete),
		newRequestCmd(a, http.MethodPost),
		newRequestCmd(a, http.MethodPut),
		newLoginCmd(a),
		newLogoutCmd(a),
		newMockCmd(a),
		newVersionCmd(a),
	)
	return root
}

func (a *app) init() error {
	cfg, err := config.LoadFile(a.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.cfg = cfg

	file := cfg.Get()
	a.log = newLogger(a.stderr, file.Log.Level, a.verbose)
	a.slog = slogBridge(a.log, a.verbose)

	if file.Metrics.Addr != "" {
		if err := a.serveMetrics(file.Metrics.Addr); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) serveMetrics(addr string) error {
	reg := prometheus.NewRegistry()
	col, err := metrics.NewCollector(reg, "apikit")
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	a.metrics = col

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	a.srv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.WithError(err).Error("metrics server stopped")
		}
	}()
	a.log.WithField("addr", addr).Info("serving metrics")
	return nil
}

func (a *app) close() error {
	if a.srv != nil {
		return a.srv.Close()
	}
	return nil
}
