package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lodomo/EscapeWright/internal/config"
	"github.com/lodomo/EscapeWright/internal/role/roles"
	"github.com/lodomo/EscapeWright/internal/version"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("ESCAPEWRIGHT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("mqtt-url", "ESCAPEWRIGHT_MQTT_URL", "MQTT_URL")

	root := &cobra.Command{
		Use:   "escapewright-node",
		Short: "Escape room node",
		Long: `Runs one node: its role state machine and the node API
(GET /status, POST /relay/{message}).

Examples:
  escapewright-node --config node.yaml
  escapewright-node --config node.yaml --control-url http://10.0.0.2:8080`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, port, err := loadConfig(v)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, port)
		},
	}

	f := root.PersistentFlags()
	f.String("config", "rooms/_template/node.yaml", "path to node.yaml")
	f.Int("port", 0, "node API port (overrides node.port)")
	f.String("control-url", "", "control API base URL (overrides control_panel.url)")
	f.String("mqtt-url", "", "MQTT broker URL (overrides mqtt.url)")
	_ = v.BindPFlags(f)

	root.AddCommand(newRolesCommand(), newVersionCommand())
	return root
}

func loadConfig(v *viper.Viper) (*config.NodeConfig, int, error) {
	cfg, err := config.LoadNodeConfig(v.GetString("config"))
	if err != nil {
		return nil, 0, fmt.Errorf("load node config: %w", err)
	}
	if u := v.GetString("control-url"); u != "" {
		cfg.ControlPanel.URL = u
	}
	if u := v.GetString("mqtt-url"); u != "" {
		cfg.MQTT.URL = u
	}
	port := v.GetInt("port")
	if port == 0 {
		port = cfg.Port()
	}
	return cfg, port, nil
}

func newRolesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "roles",
		Short: "List the built-in roles",
		Run: func(cmd *cobra.Command, _ []string) {
			for _, k := range roles.Kinds() {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String("node"))
		},
	}
}
