package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/JonathanBrouwer/lightbringer/internal/bridge"
	"github.com/JonathanBrouwer/lightbringer/internal/light"
	pkgmqtt "github.com/JonathanBrouwer/lightbringer/pkg/mqtt"
	"github.com/JonathanBrouwer/lightbringer/pkg/mqtt/topic"
	"github.com/JonathanBrouwer/lightbringer/pkg/options"
)

const remoteQoS = 1

type remoteOptions struct {
	mqtt    *options.MqttOptions
	timeout time.Duration
}

// session is a connected MQTT client plus the topic layout of the fleet.
type session struct {
	client pkgmqtt.Client
	topics *topic.TopicBuilder
}

func (o *remoteOptions) connect(ctx context.Context) (*session, error) {
	if !o.mqtt.Enabled() {
		return nil, errors.New("--mqtt.broker is required")
	}
	if err := utilerrors.NewAggregate(o.mqtt.Validate()); err != nil {
		return nil, err
	}

	cfg := o.mqtt.ToClientConfig()
	if cfg.ClientID == "" {
		cfg.ClientID = fmt.Sprintf("lightctl-%d", os.Getpid())
	}
	client, err := pkgmqtt.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	if err := client.Start(ctx); err != nil {
		return nil, err
	}

	awaitCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	if err := client.AwaitConnection(awaitCtx); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("connect to %s: %w", cfg.BrokerURL, err)
	}
	return &session{client: client, topics: topic.NewTopicBuilder(o.mqtt.TopicRoot)}, nil
}

func (s *session) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.client.Disconnect(ctx)
}

func (s *session) publishJSON(ctx context.Context, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, topic, remoteQoS, false, payload)
}

func newRemoteCommand() *cobra.Command {
	opts := &remoteOptions{mqtt: options.NewMqttOptions(), timeout: 10 * time.Second}
	opts.mqtt.SessionExpiry = 0

	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Talk to running devices over MQTT",
	}
	opts.mqtt.AddFlags(cmd.PersistentFlags())
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", opts.timeout, "How long to wait for the broker and for replies.")

	cmd.AddCommand(
		newWatchCommand(opts),
		newSetCommand(opts),
		newUpdateCommand(opts),
		newRemoteConfirmCommand(opts, "accept", (*topic.TopicBuilder).OTAAccept),
		newRemoteConfirmCommand(opts, "reject", (*topic.TopicBuilder).OTAReject),
	)
	return cmd
}

func newWatchCommand(opts *remoteOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print light states and update progress of every device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := opts.connect(ctx)
			if err != nil {
				return err
			}
			defer s.close()

			var mu sync.Mutex
			show := func(_ context.Context, t string, payload []byte) {
				id, _ := s.topics.DeviceID(t)
				mu.Lock()
				defer mu.Unlock()
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", id, suffix(t, id), payload)
			}
			for _, filter := range []string{s.topics.LightStateWildcard(), s.topics.OTAStatusWildcard()} {
				if err := s.client.Subscribe(ctx, filter, remoteQoS, show); err != nil {
					return err
				}
			}
			<-ctx.Done()
			return nil
		},
	}
}

func suffix(t, id string) string {
	_, rest, ok := strings.Cut(t, "/"+id+"/")
	if !ok {
		return t
	}
	return rest
}

func newSetCommand(opts *remoteOptions) *cobra.Command {
	st := light.Default()
	cmd := &cobra.Command{
		Use:   "set DEVICE",
		Short: "Set the light state of a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()
			return s.publishJSON(cmd.Context(), s.topics.LightSet(args[0]), st)
		},
	}
	cmd.Flags().Uint16Var(&st.Cold, "cold", st.Cold, "Cold white brightness.")
	cmd.Flags().Uint16Var(&st.Warm, "warm", st.Warm, "Warm white brightness.")
	cmd.Flags().Uint16Var(&st.X, "x", st.X, "Colour point x.")
	cmd.Flags().Uint16Var(&st.Y, "y", st.Y, "Colour point y.")
	return cmd
}

func newUpdateCommand(opts *remoteOptions) *cobra.Command {
	var (
		command bridge.Command
		wait    bool
	)
	cmd := &cobra.Command{
		Use:   "update DEVICE",
		Short: "Ask a device to install an image from the firmware bucket or a URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (command.Object == "") == (command.URL == "") {
				return errors.New("give exactly one of --object and --url")
			}
			if command.Name == "" {
				command.Name = fmt.Sprintf("lightctl-%d", time.Now().Unix())
			}

			ctx := cmd.Context()
			s, err := opts.connect(ctx)
			if err != nil {
				return err
			}
			defer s.close()

			done := make(chan bridge.CommandStatus, 1)
			if wait {
				err := s.client.Subscribe(ctx, s.topics.OTAStatus(args[0]), remoteQoS, func(_ context.Context, _ string, payload []byte) {
					var st bridge.CommandStatus
					if json.Unmarshal(payload, &st) != nil || st.Name != command.Name {
						return
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", st.Name, st.Status, st.Message)
					if st.Status == bridge.PhaseSucceeded || st.Status == bridge.PhaseFailed {
						select {
						case done <- st:
						default:
						}
					}
				})
				if err != nil {
					return err
				}
			}

			if err := s.publishJSON(ctx, s.topics.OTACommand(args[0]), command); err != nil {
				return err
			}
			if !wait {
				fmt.Fprintf(cmd.OutOrStdout(), "sent %s\n", command.Name)
				return nil
			}

			select {
			case st := <-done:
				if st.Status == bridge.PhaseFailed {
					return fmt.Errorf("update %s failed: %s", st.Name, st.Message)
				}
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
	cmd.Flags().StringVar(&command.Name, "name", "", "Command name echoed in status reports.")
	cmd.Flags().StringVar(&command.Object, "object", "", "Key of the image in the firmware bucket.")
	cmd.Flags().StringVar(&command.URL, "url", "", "URL the device downloads the image from.")
	cmd.Flags().BoolVar(&wait, "wait", true, "Follow the status reports until the update finishes.")
	return cmd
}

func newRemoteConfirmCommand(opts *remoteOptions, use string, topicFor func(*topic.TopicBuilder, string) string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " DEVICE",
		Short: fmt.Sprintf("Send %s for the running image of a device", use),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()
			return s.client.Publish(cmd.Context(), topicFor(s.topics, args[0]), remoteQoS, false, nil)
		},
	}
}
