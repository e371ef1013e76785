package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/palantir/compute-module-originality/internal/analysis"
	"github.com/palantir/compute-module-originality/internal/config"
	"github.com/palantir/compute-module-originality/internal/logging"
	"github.com/palantir/compute-module-originality/pkg/redact"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(os.Stdout)
	if err := root.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error: %s\n", redact.Secrets(err.Error()))
		stop()
		os.Exit(exitCode(err))
	}
}

// exitCode maps input problems to 2 and everything else to 1.
func exitCode(err error) int {
	var ve *analysis.ValidationError
	if errors.As(err, &ve) {
		return 2
	}
	return 1
}

// cli carries state shared by every subcommand once the root pre-run has loaded it.
type cli struct {
	v       *viper.Viper
	cfgFile string
	cfg     config.Config
	logger  *zap.Logger
	out     io.Writer
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{v: viper.New(), out: out, logger: zap.NewNop()}

	root := &cobra.Command{
		Use:   "originality",
		Short: "Score text originality with web search, pairwise similarity, or an external report service",
		Long: `originality checks text for prior publication.

Engines:
  primary   Gemini with Google Search grounding (GEMINI_API_KEY)
  external  PlagiarismSearch reports through a CORS relay (PLAGIARISMSEARCH_USER, PLAGIARISMSEARCH_API_KEY)
  compare   Dandelion semantic similarity of two texts (DANDELION_TOKEN)

Configuration is read from originality.yaml in the working directory or
~/.config/originality/, then ORIGINALITY_* environment variables, then flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.init(cmd)
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			_ = c.logger.Sync()
		},
	}
	root.SetOut(out)

	pf := root.PersistentFlags()
	pf.StringVar(&c.cfgFile, "config", "", "config file (default: ./originality.yaml or ~/.config/originality/originality.yaml)")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.String("log-format", "json", "log format: json or console")
	pf.StringP("format", "o", "text", "output format: text, json or yaml")
	mustBind(c.v, "log.level", pf.Lookup("log-level"))
	mustBind(c.v, "log.format", pf.Lookup("log-format"))
	mustBind(c.v, "format", pf.Lookup("format"))

	root.AddCommand(
		newAnalyzeCmd(c),
		newCompareCmd(c),
		newBatchCmd(c),
		newModuleCmd(c),
		newVersionCmd(c),
	)
	return root
}

func (c *cli) init(cmd *cobra.Command) error {
	if err := config.Prepare(c.v, c.cfgFile); err != nil {
		return err
	}
	cfg, err := config.Load(c.v)
	if err != nil {
		return err
	}
	c.cfg = cfg

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	c.logger = logger.With(zap.String("command", cmd.Name()))
	return nil
}
