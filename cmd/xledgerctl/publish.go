package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/trickstertwo/xledger"
	natsbroker "github.com/trickstertwo/xledger/adapter/nats"
	redisbroker "github.com/trickstertwo/xledger/adapter/redis"
)

var (
	publishSource  string
	publishTarget  string
	publishTenant  string
	publishPayload string
)

var publishCmd = &cobra.Command{
	Use:   "publish <kind>",
	Short: "Append one event to the log (and fan out when a broker is configured)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var payload map[string]any
		if publishPayload != "" {
			if err := json.Unmarshal([]byte(publishPayload), &payload); err != nil {
				return fmt.Errorf("--payload: %w", err)
			}
		}

		registry, err := platformRegistry()
		if err != nil {
			return err
		}
		broker, err := configuredBroker()
		if err != nil {
			return err
		}

		bus, closeBus, err := xledger.New(func(b *xledger.BusBuilder) {
			b.WithLog(store).
				WithDedup(store).
				WithRegistry(registry).
				WithProducer(cfg.Producer)
			if broker != nil {
				b.WithBroker(broker)
			}
		})
		if err != nil {
			return err
		}
		defer closeBus()

		opts := []xledger.EventOption{}
		if publishTarget != "" {
			opts = append(opts, xledger.WithTarget(publishTarget))
		}
		if publishTenant != "" {
			opts = append(opts, xledger.WithTenant(publishTenant))
		}
		ev, err := xledger.NewEvent(args[0], publishSource, payload, opts...)
		if err != nil {
			return err
		}

		offset, err := bus.Publish(cmd.Context(), ev)
		if err != nil {
			return err
		}
		fmt.Printf("appended at offset %d\n", offset)
		return nil
	},
}

func init() {
	publishCmd.Flags().StringVar(&publishSource, "source", "xledgerctl", "producing agent ID")
	publishCmd.Flags().StringVar(&publishTarget, "target", "", "direct-delivery target agent")
	publishCmd.Flags().StringVar(&publishTenant, "tenant", "", "tenant ID")
	publishCmd.Flags().StringVar(&publishPayload, "payload", "", "payload as a JSON object")
}

// configuredBroker connects whichever broker the environment names, NATS
// taking precedence, or none at all.
func configuredBroker() (xledger.Broker, error) {
	switch {
	case cfg.NATSURL != "":
		bcfg := natsbroker.Defaults()
		bcfg.URL = cfg.NATSURL
		return natsbroker.New(bcfg, nil)
	case cfg.RedisAddr != "":
		bcfg := redisbroker.Defaults()
		bcfg.Addr = cfg.RedisAddr
		bcfg.DB = cfg.RedisDB
		return redisbroker.New(bcfg, nil)
	default:
		return nil, nil
	}
}
