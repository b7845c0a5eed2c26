package main

import (
    "fmt"
    "os"
    "os/signal"
    "syscall"

    "github.com/spf13/cobra"
    "go.uber.org/zap"
    "gopkg.in/yaml.v3"

    "ttsock/pkg/config"
    "ttsock/pkg/observability"
)

// version is set at build time via -ldflags "-X main.version=x.y.z"
var version = "0.1.0"

// cliState is shared by the subcommands after PersistentPreRunE.
type cliState struct {
    cfgFile string
    kind    string
    cfg     *config.Config
    logger  *zap.Logger
}

func newRootCmd() *cobra.Command {
    st := &cliState{}
    root := &cobra.Command{
        Use:           "ttsock",
        Short:         "Serve and dial plain or secured byte streams through one transport handle",
        SilenceUsage:  true,
        SilenceErrors: true,
        PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
            if cmd.Name() == "version" { return nil }
            cfg, err := config.Load(st.cfgFile)
            if err != nil { return fmt.Errorf("failed to load config: %w", err) }
            if st.kind != "" {
                cfg.Transport.Kind = st.kind
                if err := cfg.Validate(); err != nil { return err }
            }
            st.cfg = cfg
            if cmd.Name() == "config" { return nil }
            logger, err := observability.SetupLogger(cfg.Log)
            if err != nil { return fmt.Errorf("failed to setup logger: %w", err) }
            st.logger = logger
            return nil
        },
        PersistentPostRun: func(cmd *cobra.Command, args []string) {
            if st.logger != nil { _ = st.logger.Sync() }
        },
    }
    root.PersistentFlags().StringVar(&st.cfgFile, "config", "", "config file (default searches ./ttsock.yaml, ./configs, ~/.ttsock)")
    root.PersistentFlags().StringVar(&st.kind, "kind", "", "override transport.kind: "+fmt.Sprint(config.Kinds))

    root.AddCommand(newServeCmd(st), newDialCmd(st), newConfigCmd(st), newVersionCmd())
    return root
}

func newServeCmd(st *cliState) *cobra.Command {
    var listen string
    cmd := &cobra.Command{
        Use:   "serve",
        Short: "Listen and echo every accepted stream until end-of-stream",
        RunE: func(cmd *cobra.Command, args []string) error {
            if listen != "" { st.cfg.Transport.Listen = listen }
            ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
            defer stop()
            return runServe(ctx, st.cfg, func(addr string) {
                fmt.Fprintf(cmd.OutOrStdout(), "listening on %s (%s)\n", addr, st.cfg.Transport.Kind)
            })
        },
    }
    cmd.Flags().StringVar(&listen, "listen", "", "override transport.listen")
    return cmd
}

func newDialCmd(st *cliState) *cobra.Command {
    var addr, message string
    var attempts int
    cmd := &cobra.Command{
        Use:   "dial",
        Short: "Dial, send a message and print the echo",
        RunE: func(cmd *cobra.Command, args []string) error {
            if addr != "" { st.cfg.Transport.Dial = addr }
            ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
            defer stop()
            return runDial(ctx, st.cfg, message, attempts, cmd.OutOrStdout())
        },
    }
    cmd.Flags().StringVar(&addr, "addr", "", "override transport.dial")
    cmd.Flags().StringVarP(&message, "message", "m", "hello", "payload to send")
    cmd.Flags().IntVar(&attempts, "attempts", 3, "dial attempts before giving up (0 retries forever)")
    return cmd
}

func newConfigCmd(st *cliState) *cobra.Command {
    return &cobra.Command{
        Use:   "config",
        Short: "Print the effective configuration as YAML",
        RunE: func(cmd *cobra.Command, args []string) error {
            enc := yaml.NewEncoder(cmd.OutOrStdout())
            enc.SetIndent(2)
            if err := enc.Encode(st.cfg); err != nil { return err }
            return enc.Close()
        },
    }
}

func newVersionCmd() *cobra.Command {
    return &cobra.Command{
        Use:   "version",
        Short: "Show the ttsock version",
        Run: func(cmd *cobra.Command, args []string) {
            fmt.Fprintf(cmd.OutOrStdout(), "ttsock version %s\n", version)
        },
    }
}
