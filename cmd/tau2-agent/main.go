// Command tau2-agent runs the conversational-agent evaluation service and
// its companion tooling.
//
// Usage:
//
//	tau2-agent serve --config config.yaml
//	tau2-agent evaluate --domain mock --endpoint http://localhost:9999
//	tau2-agent domains
//	tau2-agent card --endpoint http://localhost:8080
package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"

	"github.com/wuTims/tau2-bench-agent/pkg/config"
)

// CLI defines the command-line interface.
type CLI struct {
	Serve    ServeCmd    `cmd:"" help:"Start the evaluation service."`
	Evaluate EvaluateCmd `cmd:"" help:"Run one evaluation from the command line."`
	Domains  DomainsCmd  `cmd:"" help:"List the benchmark domain catalogue."`
	Card     CardCmd     `cmd:"" help:"Discover and print a remote agent card."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`

	Config          string   `short:"c" help:"Config file path, or key path for remote sources."`
	ConfigSource    string   `name:"config-source" help:"Config source (file, consul, etcd, zookeeper)." default:"file"`
	ConfigEndpoints []string `name:"config-endpoints" help:"Remote config store endpoints."`
	LogLevel        string   `help:"Log level (debug, info, warn, error)."`
	LogFormat       string   `help:"Log format (text or json)."`
	LogFile         string   `help:"Log file path (empty = stderr)."`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run(cli *CLI) error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("tau2-agent version %s\n", version)
	return nil
}

func main() {
	_ = config.LoadEnvFiles()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("tau2-agent"),
		kong.Description("Conversational-agent evaluation service speaking the Agent Protocol"),
		kong.UsageOnError(),
	)

	cleanup, err := initLogger(cli.LogLevel, cli.LogFile, cli.LogFormat, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	if cleanup != nil {
		defer cleanup()
	}

	err = ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
