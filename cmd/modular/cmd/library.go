package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nfrund/modular/internal/abi"
	"github.com/nfrund/modular/internal/config"
	"github.com/nfrund/modular/internal/library"
	"github.com/nfrund/modular/internal/module"
	"github.com/nfrund/modular/internal/native"
)

const probeTopic = "$probe.echo"

var libraryInProcess bool

var libraryCmd = &cobra.Command{
	Use:   "library",
	Short: "Exercise a host library through its vtable",
}

var libraryProbeCmd = &cobra.Command{
	Use:   "probe [path]",
	Short: "Check that a host library loads and round-trips calls and events",
	Long: `Load the host library at path (or MODULAR_LIBRARY_PATH), create a host
through its vtable, register a module, invoke it and publish an event to
it. With --in-process the host linked into this binary is used instead.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		vt, source, err := resolveVTable(args)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		if err := probe(ctx, vt); err != nil {
			return fmt.Errorf("probe %s: %w", source, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✅ %s: module calls and events round-trip\n", source)
		return nil
	},
}

func resolveVTable(args []string) (*abi.HostVTable, string, error) {
	if libraryInProcess {
		return native.VTable(), "in-process host", nil
	}

	path := ""
	if len(args) == 1 {
		path = args[0]
	} else {
		cfg, err := config.Load(envFile)
		if err != nil {
			return nil, "", err
		}
		path = cfg.LibraryPath
	}
	if path == "" {
		return nil, "", errors.New("no library path given and MODULAR_LIBRARY_PATH is not set")
	}

	vt, err := library.Resolve(path)
	return vt, path, err
}

func probe(ctx context.Context, vt *abi.HostVTable) error {
	client := library.New(vt, 1)
	defer client.Close(ctx)

	echo := module.Actions{
		"echo": func(_ context.Context, req module.Request) (module.Response, error) {
			return module.Response{Data: req.Body}, nil
		},
	}
	if err := client.RegisterModule("probe", echo); err != nil {
		return err
	}

	ref, ok := client.GetModule("probe")
	if !ok {
		return errors.New("registered module is not visible")
	}
	defer ref.Close()

	out, err := ref.Call(module.Request{Action: "echo", Body: []byte("ping")}).Wait(ctx)
	if err != nil {
		return fmt.Errorf("invoke: %w", err)
	}
	if string(out) != "ping" {
		return fmt.Errorf("invoke returned %q", out)
	}

	sub, err := client.Subscribe(probeTopic)
	if err != nil {
		return err
	}
	defer sub.Close()

	if err := client.Publish(probeTopic, []byte("pong")); err != nil {
		return err
	}
	ev, err := sub.Next(ctx)
	if err != nil {
		return fmt.Errorf("event: %w", err)
	}
	if string(ev.Payload) != "pong" {
		return fmt.Errorf("event carried %q", ev.Payload)
	}
	return nil
}

func init() {
	libraryProbeCmd.Flags().BoolVar(&libraryInProcess, "in-process", false, "probe the host linked into this binary")
	libraryCmd.AddCommand(libraryProbeCmd)
	rootCmd.AddCommand(libraryCmd)
}
