package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	log "github.com/sirupsen/logrus"

	"github.com/debojyoti452/shorebird/common"
	"github.com/debojyoti452/shorebird/configs"
	"github.com/debojyoti452/shorebird/internal/pkg/metrics"
	"github.com/debojyoti452/shorebird/internal/pkg/utils/logutils"
	"github.com/debojyoti452/shorebird/pkg/updater"
)

type cliArgs struct {
	ConfigPath      string
	CacheDir        string
	LogLevel        string
	LogFormat       string
	MetricsTextfile string

	Install struct {
		ResponsePath string
		URL          string
		Version      string
		Hash         string
		Activate     bool
	}
	ActivateIndex int
	CheckBootCmd  []string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, argv []string, out io.Writer) error {
	var args cliArgs
	app := kingpin.New("patchslot", "Manage the patch slots of an over-the-air updater")
	app.HelpFlag.Short('h')
	app.Flag("config", "Path to the YAML config file").Short('c').Envar("PATCHSLOT_CONFIG").StringVar(&args.ConfigPath)
	app.Flag("cache-dir", "Directory holding the state file and the slots, overrides the config").Envar("PATCHSLOT_CACHE_DIR").StringVar(&args.CacheDir)
	app.Flag("log-level", "Log-Level, must be one of [DEBUG, INFO, WARN, ERROR]").Default("INFO").Envar("LOG_LEVEL").EnumVar(&args.LogLevel, "DEBUG", "INFO", "WARN", "ERROR", "debug", "info", "warn", "error")
	app.Flag("log-format", "Log-Format, must be one of [TEXT, JSON]").Default("TEXT").Envar("LOG_FORMAT").EnumVar(&args.LogFormat, "TEXT", "JSON", "text", "json")
	app.Flag("metrics-textfile", "Write updater metrics to this file on exit").Envar("PATCHSLOT_METRICS_TEXTFILE").StringVar(&args.MetricsTextfile)

	status := app.Command("status", "Print the updater state").Default()
	install := app.Command("install", "Download a patch into an unused slot")
	install.Flag("response", "Path to a patch check response (JSON), - reads stdin").StringVar(&args.Install.ResponsePath)
	install.Flag("url", "Download URL of the patch").StringVar(&args.Install.URL)
	install.Flag("version", "Version of the patch").StringVar(&args.Install.Version)
	install.Flag("hash", "Digest of the patch, e.g. sha256:<hex>").StringVar(&args.Install.Hash)
	install.Flag("activate", "Make the new slot current").BoolVar(&args.Install.Activate)
	activate := app.Command("activate", "Make a slot current")
	activate.Arg("index", "Index of the slot").Required().IntVar(&args.ActivateIndex)
	reportSuccess := app.Command("report-success", "Mark the current patch as good")
	reportFailure := app.Command("report-failure", "Mark the current patch as bad")
	nextBoot := app.Command("next-boot", "Print the payload path that should be booted next")
	checkBoot := app.Command("check-boot", "Run a health check and report the outcome for the current patch")
	checkBoot.Arg("cmd", "Health check command, a zero exit code is healthy").StringsVar(&args.CheckBootCmd)
	version := app.Command("version", "Print the version")

	cmd, err := app.Parse(argv)
	if err != nil {
		return err
	}
	if err := logutils.SetLogLevel(args.LogLevel); err != nil {
		return err
	}
	logutils.SetLogFormat(args.LogFormat)

	if cmd == version.FullCommand() {
		_, err := fmt.Fprintln(out, common.Version())
		return err
	}

	u, err := args.newUpdater()
	if err != nil {
		return err
	}
	defer args.writeMetrics()

	switch cmd {
	case status.FullCommand():
		return printStatus(out, u)
	case install.FullCommand():
		return args.install(ctx, u, out)
	case activate.FullCommand():
		return u.Activate(args.ActivateIndex)
	case reportSuccess.FullCommand():
		return u.ReportLaunchSuccess()
	case reportFailure.FullCommand():
		return u.ReportLaunchFailure()
	case nextBoot.FullCommand():
		return printNextBoot(out, u)
	case checkBoot.FullCommand():
		return args.checkBoot(ctx, u)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (args *cliArgs) newUpdater() (*updater.Updater, error) {
	cfg := configs.Defaults()
	if args.ConfigPath != "" {
		var err error
		if cfg, err = configs.Load(args.ConfigPath); err != nil {
			return nil, err
		}
	}
	if args.CacheDir != "" {
		cfg.CacheDir = args.CacheDir
	}
	return updater.New(cfg)
}

func (args *cliArgs) writeMetrics() {
	if args.MetricsTextfile == "" {
		return
	}
	if err := metrics.WriteTextfile(args.MetricsTextfile); err != nil {
		log.WithError(err).Warn("failed to write metrics")
	}
}
