// ntp-pester pokes an NTP/NTS server with well-formed and deliberately
// malformed requests and reports how it held up.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"example.com/ntp-pester/base/zaplog"
	"example.com/ntp-pester/benchmark"
	"example.com/ntp-pester/cases"
	"example.com/ntp-pester/core/pester"
)

var log *zap.Logger

func initLogger(verbose bool) {
	c := zap.NewDevelopmentConfig()
	c.DisableStacktrace = true
	c.EncoderConfig.EncodeCaller = func(
		caller zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
		// See https://github.com/scionproto/scion/blob/master/pkg/log/log.go
		p := caller.TrimmedPath()
		if len(p) > 30 {
			p = "..." + p[len(p)-27:]
		}
		enc.AppendString(fmt.Sprintf("%30s", p))
	}
	if !verbose {
		c.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	var err error
	log, err = c.Build()
	if err != nil {
		panic(err)
	}
	zaplog.SetLogger(log)
}

func exitWithUsage() {
	fmt.Fprintf(os.Stderr, "usage: %s [flags] [host]\n", os.Args[0])
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	var (
		port           int
		nts            bool
		kePort         int
		caFile         string
		timeout        time.Duration
		configFile     string
		verbose        bool
		benchmarkCount int
	)

	flag.IntVar(&port, "port", 123, "NTP port of the target server")
	flag.BoolVar(&nts, "nts", false, "enable NTS and run the key exchange before testing")
	flag.IntVar(&kePort, "ke-port", 4460, "NTS-KE port of the target server")
	flag.StringVar(&caFile, "ca-file", "", "PEM file with additional trusted CA certificates")
	flag.DurationVar(&timeout, "timeout", pester.DefaultTimeout, "timeout per network operation")
	flag.StringVar(&configFile, "config", "", "TOML configuration file, overridden by flags")
	flag.BoolVar(&verbose, "verbose", false, "verbose logging")
	flag.IntVar(&benchmarkCount, "benchmark", 0, "run a latency benchmark with this many polls instead of the test cases")
	flag.Parse()

	initLogger(verbose)
	defer func() { _ = log.Sync() }()

	var cfg pester.Config
	if configFile != "" {
		var err error
		cfg, err = pester.LoadConfig(configFile)
		if err != nil {
			log.Fatal("failed to load configuration", zap.Error(err))
		}
	} else {
		cfg = pester.Config{Host: "localhost"}
	}

	switch flag.NArg() {
	case 0:
	case 1:
		cfg.Host = flag.Arg(0)
	default:
		exitWithUsage()
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = port
		case "nts":
			cfg.NTS = nts
		case "ke-port":
			cfg.KEPort = kePort
		case "ca-file":
			cfg.CAFile = caFile
		case "timeout":
			cfg.Timeout = timeout
		}
	})
	if cfg.Port == 0 {
		cfg.Port = port
	}
	if cfg.KEPort == 0 {
		cfg.KEPort = kePort
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = timeout
	}
	if caFile != "" && !cfg.NTS {
		log.Fatal("-ca-file requires -nts")
	}

	target, err := pester.NewTarget(cfg, log)
	if err != nil {
		log.Fatal("failed to set up target", zap.Error(err))
	}

	if benchmarkCount > 0 {
		err = benchmark.Run(log, target, benchmarkCount, os.Stdout)
		if err != nil {
			log.Fatal("benchmark failed", zap.Error(err))
		}
		return
	}

	report := pester.Run(log, target, cases.All())
	err = report.WriteText(os.Stdout)
	if err != nil {
		log.Fatal("failed to write report", zap.Error(err))
	}
	if !report.Clean() {
		os.Exit(1)
	}
}
