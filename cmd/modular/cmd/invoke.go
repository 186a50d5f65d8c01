package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/nfrund/modular/internal/host"
	"github.com/nfrund/modular/internal/module"
	"github.com/nfrund/modular/internal/script"
)

var invokeTimeout time.Duration

var invokeCmd = &cobra.Command{
	Use:   "invoke <script> <action> [payload]",
	Short: "Run a single script module once",
	Long: `Load one script as a module and invoke an action on it. The result is
written to stdout; errors are reported with their outcome.

Examples:
  modular invoke scripts/math/add.tengo add '{"a": 1, "b": 2}'`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, action := args[0], args[1]
		var payload []byte
		if len(args) == 3 {
			payload = []byte(args[2])
		}

		content, err := afero.ReadFile(afero.NewOsFs(), path)
		if err != nil {
			return err
		}

		limits := script.GetDefaultSecurityLimits()
		limits.MaxExecutionTime = invokeTimeout
		name := strings.TrimSuffix(filepath.Base(path), script.Extension)

		prog, err := script.NewTengoEngine(limits, nil).Compile(&script.Script{
			Module:  name,
			Path:    path,
			Content: string(content),
		})
		if err != nil {
			return err
		}

		h := host.New()
		defer h.Shutdown(context.Background())
		if err := h.RegisterModule(name, prog); err != nil {
			return err
		}

		resp, err := h.Invoke(cmd.Context(), name, module.Request{Action: action, Body: payload})
		if err != nil {
			return fmt.Errorf("%s.%s: %w", name, action, err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(resp.Data))
		return nil
	},
}

func init() {
	invokeCmd.Flags().DurationVar(&invokeTimeout, "timeout", 5*time.Second, "maximum script execution time")
	rootCmd.AddCommand(invokeCmd)
}
