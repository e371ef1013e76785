package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/palantir/compute-module-originality/internal/app"
	"github.com/palantir/compute-module-originality/internal/keepalive"
)

func newModuleCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "module",
		Short: "Serve analyze jobs from the compute-module runtime until interrupted",
		Long: `module polls GET_JOB_URI for jobs and posts each JSON result to POST_RESULT_URI.

Job query:  {"mode":"WEB|COMPARE","engine":"PRIMARY|EXTERNAL","text":"...","compareText":"..."}
Job result: {"result":{...}} or {"error":"...","errorKind":"validation|timeout|engine|cancelled|internal"}

Environment:
  GET_JOB_URI        runtime job endpoint
  POST_RESULT_URI    runtime result endpoint
  MODULE_AUTH_TOKEN  token value or a file path containing it
  DEFAULT_CA_PATH    CA bundle for the runtime endpoints`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m := c.cfg.Module
			kc, enabled, err := keepalive.NewConfig(m.GetJobURI, m.PostResultURI, m.ModuleAuthToken, m.DefaultCAPath)
			if err != nil {
				return err
			}
			if !enabled {
				return fmt.Errorf("GET_JOB_URI and POST_RESULT_URI are required for module mode")
			}
			kc.Logger = c.logger

			o, err := buildOrchestrator(cmd.Context(), c.cfg, c.logger)
			if err != nil {
				return err
			}
			err = keepalive.RunLoop(cmd.Context(), kc, app.JobHandler(o, c.cfg.Verdict))
			if errors.Is(err, context.Canceled) {
				c.logger.Info("shutting down")
				return nil
			}
			return err
		},
	}
}
