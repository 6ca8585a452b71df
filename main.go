package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Meander-Cloud/go-pairsync/admin"
	"github.com/Meander-Cloud/go-pairsync/bridge"
	"github.com/Meander-Cloud/go-pairsync/config"
	"github.com/Meander-Cloud/go-pairsync/console"
	"github.com/Meander-Cloud/go-pairsync/peer"
)

const version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:          "pairsync",
	Short:        "Keep one counter in sync between a paired primary and companion",
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one peer with an interactive console",
	RunE:  run,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of pairsync",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("pairsync version %s\n", version)
	},
}

func init() {
	runCmd.Flags().String("config", "", "TOML config file")
	runCmd.Flags().String("preset", "", "local test preset, phone or watch, used without --config")
	runCmd.Flags().String("admin", "", "admin listen address, overrides config")
	runCmd.Flags().Bool("debug", false, "verbose logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func preset(name string) (*config.Config, error) {
	c := &config.Config{
		Instance:  "1",
		Transport: config.TransportTcp,

		TcpKeepAliveInterval: 17,
		TcpKeepAliveCount:    2,
		TcpDialTimeout:       3,
		TcpReconnectInterval: 5,
		TcpReconnectLogEvery: 12,

		ActivationSettleWait: 1000,
		SendReplyWait:        0,

		LogPrefix: name,
		LogDebug:  false,
	}

	switch name {
	case "phone":
		c.Host = "phone"
		c.Role = config.RolePrimary
		c.SelfAddress = "localhost:8911"
		c.PairedHost = "watch"
		c.AdminAddress = "localhost:9911"
	case "watch":
		c.Host = "watch"
		c.Role = config.RoleCompanion
		c.PeerAddress = "localhost:8911"
		c.PairedHost = "phone"
		c.AdminAddress = "localhost:9912"
	default:
		return nil, fmt.Errorf("must specify --config or --preset phone/watch")
	}

	return c, nil
}

func run(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	presetName, _ := cmd.Flags().GetString("preset")
	adminAddress, _ := cmd.Flags().GetString("admin")
	debug, _ := cmd.Flags().GetBool("debug")

	var c *config.Config
	var err error
	if configPath != "" {
		c, err = config.Load(configPath)
	} else {
		c, err = preset(presetName)
	}
	if err != nil {
		return err
	}
	if adminAddress != "" {
		c.AdminAddress = adminAddress
	}
	if debug {
		c.LogDebug = true
	}

	p, err := peer.NewPeer(c)
	if err != nil {
		return err
	}
	defer p.Shutdown() // wait

	con := console.NewConsole(os.Stdout)
	b, err := bridge.NewBridge(c, p.Session(), con)
	if err != nil {
		return err
	}

	if c.AdminAddress != "" {
		srv, err := admin.NewServer(c, p.Session(), p.Metrics())
		if err != nil {
			return err
		}
		defer srv.Shutdown() // wait
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err = con.Run(ctx, os.Stdin, b)
	if ctx.Err() != nil {
		log.Printf("%s: received signal, exiting", c.LogPrefix)
		return nil
	}
	return err
}

func main() {
	// enable microsecond and file line logging
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
