package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"fakenet/internal/capture"
	"fakenet/internal/config"
	"fakenet/internal/link"
	"fakenet/internal/log"
	"fakenet/internal/slaac"
	"fakenet/internal/status"
)

var (
	// These variables can be set at build time using -ldflags
	version   = "dev"
	commit    = ""
	buildDate = ""
)

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "fakenet %s\n", version)
	if commit != "" {
		fmt.Fprintf(w, "commit: %s\n", commit)
	}
	if buildDate != "" {
		fmt.Fprintf(w, "built: %s\n", buildDate)
	}
}

func main() {
	// Support -v/--version anywhere on the command line
	for _, a := range os.Args[1:] {
		if a == "-v" || a == "--version" {
			printVersion(os.Stdout)
			return
		}
	}
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "fakenet",
		Short: "Userspace IPv6 host that autoconfigures its addresses on a TAP or raw link",
		Long: "fakenet attaches a simulated IPv6 host to an Ethernet link, forms its link-local\n" +
			"and autoconfigured addresses with duplicate address detection, and writes its\n" +
			"address state to stdout as JSON lines.",
		SilenceUsage: true,
	}
	root.AddCommand(newRunCommand(), newConfigCommand(), newAddrsCommand(), newVersionCommand())
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}

func newRunCommand() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "run [-f config.toml | config.toml]",
		Short: "Attach to the link and run address autoconfiguration until interrupted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" && len(args) == 1 {
				configPath = args[0]
			}
			if configPath == "" {
				return errors.New("missing required argument: -f or --config")
			}
			return handleRunCommand(cmd.Context(), configPath, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "f", "", "Configuration file path (TOML format).")
	return cmd
}

// handleRunCommand implements the node: open the device, run the interface
// and stream its status to out.
func handleRunCommand(ctx context.Context, configFile string, out io.Writer) error {
	cfg, absConfigFile, err := config.ReadConfig(configFile)
	if err != nil {
		return err
	}
	if err := log.Init(cfg.Log.Output, cfg.Log.Level); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	nd, manual, err := cfg.Engine()
	if err != nil {
		return err
	}

	dev, err := openDevice(cfg)
	if err != nil {
		return err
	}
	if cfg.Capture.Pcap != "" {
		w, err := capture.Create(cfg.Capture.Pcap)
		if err != nil {
			dev.Close()
			return err
		}
		defer w.Close()
		dev = capture.Wrap(dev, w)
		log.Info("Capturing frames to %s", cfg.Capture.Pcap)
	}

	sink, closeSink, err := newSink(cfg.Status, out)
	if err != nil {
		dev.Close()
		return err
	}
	defer closeSink()

	ifc, err := slaac.New(slaac.Options{
		Config: nd,
		Device: dev,
		Sink:   sink,
		Manual: manual,
		IPv4:   cfg.IPv4(),
	})
	if err != nil {
		dev.Close()
		return err
	}
	log.Info("fakenet %s on %s (mac %s, interface id %s, config %s)",
		version, ifc.Name(), ifc.HardwareAddr(), nd.IIDMode, absConfigFile)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ifc.Run(ctx)
	})
	g.Go(func() error {
		dumpOnSignal(ctx, ifc)
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("Interface %s stopped", ifc.Name())
	return nil
}

func openDevice(cfg config.Config) (link.Device, error) {
	mac := cfg.MAC()
	switch cfg.Node.Backend {
	case config.BackendPacket:
		log.Debug("Attaching to %s with an AF_PACKET socket", cfg.Node.Interface)
		warnKernelConflicts(cfg)
		p, err := link.OpenPacket(cfg.Node.Interface, mac)
		if err != nil {
			return nil, fmt.Errorf("failed to attach to %s: %w", cfg.Node.Interface, err)
		}
		return p, nil
	default:
		t, err := link.OpenTap(cfg.Node.Interface, mac)
		if err != nil {
			return nil, fmt.Errorf("failed to create TAP device: %w", err)
		}
		log.Success("Created TAP device %s", t.Name())
		return t, nil
	}
}

// warnKernelConflicts reports manual addresses the host kernel already holds
// on the link we attach to; detection would fail for them.
func warnKernelConflicts(cfg config.Config) {
	kernel, err := link.KernelIPv6(cfg.Node.Interface)
	if err != nil {
		log.Warning("Could not list kernel addresses on %s: %v", cfg.Node.Interface, err)
		return
	}
	held := make(map[netip.Addr]bool, len(kernel))
	for _, k := range kernel {
		if a, ok := netip.AddrFromSlice(k.IP); ok {
			held[a.Unmap()] = true
		}
	}
	_, manual, _ := cfg.Engine()
	for _, m := range manual {
		if held[m.Address] {
			log.Warning("Address %s is already configured by the kernel on %s", m.Address, cfg.Node.Interface)
		}
	}
}

func formatSink(format string, w io.Writer) status.Sink {
	if format == config.FormatSnapshot {
		return status.NewSnapshot(w)
	}
	return status.NewStream(w)
}

// newSink writes status to out and, when status.file is set, to that file
// as well.
func newSink(cfg config.StatusConfig, out io.Writer) (status.Sink, func(), error) {
	sink := formatSink(cfg.Format, out)
	if cfg.File == "" {
		return sink, func() {}, nil
	}
	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open status file: %w", err)
	}
	log.Debug("Writing status to %s", cfg.File)
	return status.Multi{sink, formatSink(cfg.Format, f)}, func() { f.Close() }, nil
}

// dumpOnSignal logs the address table whenever SIGUSR1 arrives.
func dumpOnSignal(ctx context.Context, ifc *slaac.Interface) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGUSR1)
	defer signal.Stop(sig)
	for {
		select {
		case <-ctx.Done():
			return
		case <-sig:
			err := ifc.Do(ctx, func(now time.Time) {
				for _, e := range ifc.Addresses() {
					log.WithFields(log.Fields{
						"iface":     ifc.Name(),
						"state":     e.State,
						"source":    e.Source,
						"preferred": e.RemainingPreferred(now),
						"valid":     e.RemainingValid(now),
					}).Infof("%s/%d", e.Address, e.PrefixLen)
				}
			})
			if err != nil {
				return
			}
		}
	}
}

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or check configuration files",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init <path>",
		Short: "Write a default configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite", path)
			}
			if err := config.WriteConfig(path, config.Default()); err != nil {
				return err
			}
			log.Success("Wrote default configuration to %s", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")

	checkCmd := &cobra.Command{
		Use:   "check <path>",
		Short: "Validate a configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, file, err := config.ReadConfig(args[0])
			if err != nil {
				return err
			}
			nd, manual, err := cfg.Engine()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s: ok\n", file)
			fmt.Fprintf(w, "backend %s, interface id %s, %d probe(s) every %s, %d manual address(es)\n",
				cfg.Node.Backend, nd.IIDMode, nd.DupAddrDetectTransmits, nd.RetransTimer, len(manual))
			return nil
		},
	}

	cmd.AddCommand(initCmd, checkCmd)
	return cmd
}

func newAddrsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "addrs <interface>",
		Short: "Show the IPv6 addresses the host kernel holds on an interface",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := link.LookupLink(args[0])
			if err != nil {
				return err
			}
			addrs, err := link.KernelIPv6(args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s index %d mtu %d mac %s up %t\n", info.Name, info.Index, info.MTU, info.HardwareAddr, info.Up)
			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ADDRESS\tPREFERRED\tVALID\tTENTATIVE")
			for _, a := range addrs {
				fmt.Fprintf(tw, "%s/%d\t%s\t%s\t%t\n", a.IP, a.PrefixLen, a.PreferredLifetime, a.ValidLifetime, a.Tentative)
			}
			return tw.Flush()
		},
	}
}
