package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lodomo/EscapeWright/internal/config"
	"github.com/lodomo/EscapeWright/internal/version"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newRootCommand builds the control plane CLI. Flags can also be set through
// ESCAPEWRIGHT_* environment variables; MQTT_URL is honoured for the broker.
func newRootCommand() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("ESCAPEWRIGHT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("mqtt-url", "ESCAPEWRIGHT_MQTT_URL", "MQTT_URL")

	root := &cobra.Command{
		Use:   "escapewright-control",
		Short: "Escape room control plane",
		Long: `Runs the room control API: the shared clock, the node fleet and the
operator endpoints (/start, /toggle, /stop, /reset).

Examples:
  escapewright-control --config rooms/vault/room.yaml
  ESCAPEWRIGHT_STORE_DSN=redis://cache:6379/0 escapewright-control --fresh=false`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := loadOptions(v)
			if err != nil {
				return err
			}
			return run(cmd.Context(), opts)
		},
	}

	f := root.PersistentFlags()
	f.String("config", "rooms/_template/room.yaml", "path to room.yaml")
	f.Int("port", 0, "control API port (overrides network.api_port)")
	f.String("store-dsn", "", "shared store DSN (overrides store.dsn)")
	f.String("mqtt-url", "", "MQTT broker URL (overrides mqtt.url)")
	f.Bool("fresh", true, "reset the clock and node records at boot")
	_ = v.BindPFlags(f)

	root.AddCommand(newValidateCommand(v), newVersionCommand())
	return root
}

type options struct {
	room  *config.RoomConfig
	port  int
	fresh bool
}

func loadOptions(v *viper.Viper) (options, error) {
	cfg, err := config.LoadRoomConfig(v.GetString("config"))
	if err != nil {
		return options{}, fmt.Errorf("load room config: %w", err)
	}
	if dsn := v.GetString("store-dsn"); dsn != "" {
		cfg.Store.DSN = dsn
		cfg.Store.Driver = ""
	}
	if u := v.GetString("mqtt-url"); u != "" {
		cfg.MQTT.URL = u
	}
	port := v.GetInt("port")
	if port == 0 {
		port = cfg.APIPort()
	}
	return options{room: cfg, port: port, fresh: v.GetBool("fresh")}, nil
}

func newValidateCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check room.yaml and print the fleet",
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := loadOptions(v)
			if err != nil {
				return err
			}
			cfg := opts.room
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "room %s (%s): %d minutes, %d nodes\n",
				cfg.Room.ID, cfg.Room.Name, cfg.LengthMinutes(), len(cfg.Fleet.Nodes))
			for _, n := range nodeSpecs(cfg) {
				fmt.Fprintf(out, "  %-16s %s:%d  %s\n", n.Name, n.IP, n.Port, n.Location)
			}
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String("control"))
		},
	}
}
