// Package cli is the notisyncd command tree.
package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"notisync/internal/api"
	"notisync/internal/config"
)

var (
	version = "dev"
	commit  = "none"
)

type rootFlags struct {
	configPath string
	envFiles   []string
	addr       string
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}
	cmd := &cobra.Command{
		Use:           "notisyncd",
		Short:         "Keep a local view of server notifications in sync",
		Long:          "notisyncd merges server notifications with extra feeds, keeps them fresh over a push channel with adaptive polling, and serves the result on a local API.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.LoadEnv(f.envFiles...)
			return err
		},
	}
	cmd.PersistentFlags().StringVarP(&f.configPath, "config", "c", "./notisync.yaml", "path to config (yaml or json)")
	cmd.PersistentFlags().StringSliceVar(&f.envFiles, "env-file", []string{".env"}, "dotenv files loaded before the config is resolved")
	cmd.PersistentFlags().StringVar(&f.addr, "addr", "", "daemon API address (default: api.addr from config)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newRunCmd(f))
	cmd.AddCommand(newCheckCmd(f))
	cmd.AddCommand(newPrefsCmd(f))
	cmd.AddCommand(newSoundCmd(f))
	cmd.AddCommand(newStatusCmd(f))
	return cmd
}

// client resolves the daemon address from --addr, then the config file.
func (f *rootFlags) client() *api.Client {
	addr := strings.TrimSpace(f.addr)
	if addr == "" {
		if cfg, err := config.NewManager(f.configPath).Parse(); err == nil {
			addr = strings.TrimSpace(cfg.API.Addr)
		}
	}
	if addr == "" {
		addr = config.DefaultAPIAddr
	}
	return api.NewClient(addr)
}

func Execute() error {
	return newRootCmd().Execute()
}
