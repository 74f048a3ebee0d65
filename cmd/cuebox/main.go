package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/user"
	"time"

	"github.com/spf13/cobra"

	"github.com/mikey-austin/cuebox/internal/adapters/clock"
	"github.com/mikey-austin/cuebox/internal/adapters/config"
	"github.com/mikey-austin/cuebox/internal/adapters/idgen"
	"github.com/mikey-austin/cuebox/internal/adapters/mqtt"
	"github.com/mikey-austin/cuebox/internal/adapters/output"
	"github.com/mikey-austin/cuebox/internal/core"
	"github.com/mikey-austin/cuebox/pkg/cue"
)

type app struct {
	client  *mqtt.Client
	service core.Service
	printer output.Printer
	target  core.Target
	quiet   bool
	json    bool
	timeout time.Duration
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(core.ExitCode(err))
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "cuebox",
		Short:         "Cuebox playback session CLI",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	var (
		broker    string
		topicBase string
		identity  string
		timeout   time.Duration
		quiet     bool
		jsonOut   bool
		noColor   bool
		tlsCA     string
		tlsCert   string
		tlsKey    string
		userOpt   string
		passOpt   string
		target    core.Target
	)

	root.PersistentFlags().StringVarP(&broker, "broker", "b", "", "MQTT broker URL")
	root.PersistentFlags().StringVar(&topicBase, "topic-base", cue.BaseTopic, "MQTT topic base")
	root.PersistentFlags().StringVarP(&identity, "identity", "i", "", "controller identity")
	root.PersistentFlags().DurationVarP(&timeout, "timeout", "t", 2*time.Second, "command timeout")
	root.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress output of mutating commands")
	root.PersistentFlags().BoolVarP(&jsonOut, "json", "j", false, "output json")
	root.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable color")
	root.PersistentFlags().StringVar(&tlsCA, "tls-ca", "", "TLS CA path")
	root.PersistentFlags().StringVar(&tlsCert, "tls-cert", "", "TLS cert path")
	root.PersistentFlags().StringVar(&tlsKey, "tls-key", "", "TLS key path")
	root.PersistentFlags().StringVar(&userOpt, "user", "", "MQTT username")
	root.PersistentFlags().StringVar(&passOpt, "pass", "", "MQTT password")
	root.PersistentFlags().StringVarP(&target.Server, "server", "s", "", "session server name, node id or alias")
	root.PersistentFlags().StringVarP(&target.Kind, "kind", "k", "", "session kind (audio|video)")
	root.PersistentFlags().StringVarP(&target.Profile, "profile", "p", "", "profile owning the audio session")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if noColor || os.Getenv("NO_COLOR") != "" {
			output.DisableColor()
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		identity = defaultIdentity(identity, cfg.Identity)
		if broker == "" {
			broker = cfg.Broker
		}
		if topicBase == cue.BaseTopic && cfg.TopicBase != "" {
			topicBase = cfg.TopicBase
		}
		if userOpt == "" {
			userOpt, passOpt = cfg.Username, cfg.Password
		}
		if broker == "" {
			return &core.CLIError{Code: core.ExitUsage, Msg: "broker is required (set --broker or config)"}
		}

		client, err := mqtt.NewClient(mqtt.Options{
			BrokerURL: broker,
			ClientID:  fmt.Sprintf("cuebox-%d", time.Now().UnixNano()),
			Username:  userOpt,
			Password:  passOpt,
			TLSCA:     tlsCA,
			TLSCert:   tlsCert,
			TLSKey:    tlsKey,
			TopicBase: topicBase,
			Timeout:   timeout,
		})
		if err != nil {
			return core.WrapError(core.ExitRuntime, "connect broker", err)
		}

		coreCfg := core.Config{
			Broker:    broker,
			Identity:  identity,
			TopicBase: topicBase,
			Aliases:   cfg.Aliases,
			Defaults: core.Defaults{
				Server:  cfg.Defaults.Server,
				Kind:    cfg.Defaults.Kind,
				Profile: cfg.Defaults.Profile,
			},
		}

		var printer output.Printer = output.HumanPrinter{}
		if jsonOut {
			printer = output.JSONPrinter{}
		}

		cmd.SetContext(context.WithValue(cmd.Context(), appKey{}, &app{
			client:  client,
			service: core.Service{
				Broker:   client,
				Resolver: core.Resolver{Presence: client, Config: coreCfg},
				Clock:    clock.Clock{},
				IDGen:    idgen.Generator{},
				Config:   coreCfg,
			},
			printer: printer,
			target:  target,
			quiet:   quiet,
			json:    jsonOut,
			timeout: timeout,
		}))
		return nil
	}

	root.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		if app, err := fromContext(cmd); err == nil {
			app.client.Close()
		}
	}

	root.AddCommand(lsCommand())
	root.AddCommand(statusCommand())
	root.AddCommand(playCommand())
	root.AddCommand(selectCommand())
	root.AddCommand(toggleCommand())
	root.AddCommand(nextCommand())
	root.AddCommand(prevCommand())
	root.AddCommand(seekCommand())
	root.AddCommand(volumeCommand())
	root.AddCommand(shuffleCommand())
	root.AddCommand(repeatCommand())
	root.AddCommand(queueCommand())
	return root
}

type appKey struct{}

func fromContext(cmd *cobra.Command) (*app, error) {
	val, ok := cmd.Context().Value(appKey{}).(*app)
	if !ok {
		return nil, errors.New("cli not initialised")
	}
	return val, nil
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, timeout)
}

// printState prints the state returned by a mutating command unless quiet.
func (a *app) printState(result core.StatusResult) error {
	if a.quiet {
		return nil
	}
	return a.printer.Print(result)
}

func defaultIdentity(flagVal string, cfgVal string) string {
	if flagVal != "" {
		return flagVal
	}
	if cfgVal != "" {
		return cfgVal
	}
	usr, _ := user.Current()
	host, _ := os.Hostname()
	if usr != nil && host != "" {
		return fmt.Sprintf("%s@%s", usr.Username, host)
	}
	if host != "" {
		return host
	}
	return "cuebox-unknown"
}
