package main

import (
	"errors"
	"os"
	"strings"

	"municonsole_back/client"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	server     string
	cfg        *fileConfig
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "consolectl",
		Short:         "Administer municipalities, knowledge and notifications",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			if opts.server != "" {
				cfg.Server = opts.server
			}
			if cfg.Server == "" {
				cfg.Server = os.Getenv("CONSOLECTL_SERVER")
			}
			opts.cfg = cfg
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", defaultConfigPath(), "config file")
	cmd.PersistentFlags().StringVar(&opts.server, "server", "", "API base URL (overrides the config file)")

	cmd.AddCommand(
		newLoginCmd(opts),
		newMunicipalitiesCmd(opts),
		newKnowledgeCmd(opts),
		newNotificationsCmd(opts),
	)
	return cmd
}

// client builds an API client from the loaded config.
func (o *rootOptions) client(requireToken bool) (*client.Client, error) {
	if strings.TrimSpace(o.cfg.Server) == "" {
		return nil, errors.New("no server configured; run consolectl login --server <url>")
	}
	if requireToken && o.cfg.Token == "" {
		return nil, errors.New("not logged in; run consolectl login")
	}
	return client.New(o.cfg.Server, client.WithToken(o.cfg.Token)), nil
}
