package mqtt_test

import (
	"context"
	"fmt"
	"time"

	"github.com/JonathanBrouwer/lightbringer/pkg/log"
	"github.com/JonathanBrouwer/lightbringer/pkg/mqtt"
	"github.com/JonathanBrouwer/lightbringer/pkg/mqtt/topic"
)

// ExampleClient shows the lifecycle a device goes through: configure,
// start in the background, subscribe, wait for the broker, publish, and
// disconnect.
func ExampleClient() {
	topics := topic.NewTopicBuilder("lightbringer")

	client, err := mqtt.NewClient(&mqtt.ClientConfig{
		BrokerURL:      "tcp://localhost:1883",
		ClientID:       "lightbringer-desk",
		KeepAlive:      60,
		ConnectTimeout: 5 * time.Second,
		WillTopic:      topics.Availability("desk"),
		WillPayload:    []byte("offline"),
		WillRetain:     true,
	})
	if err != nil {
		log.Error(err, "Failed to create MQTT client")
		return
	}

	ctx := context.Background()
	if err := client.Start(ctx); err != nil {
		log.Error(err, "Failed to start MQTT client")
		return
	}

	// Subscriptions survive reconnects; handlers run on their own goroutine.
	err = client.Subscribe(ctx, topics.LightSet("desk"), 1, func(ctx context.Context, topic string, payload []byte) {
		fmt.Printf("new light state on %s: %s\n", topic, payload)
	})
	if err != nil {
		log.Error(err, "Failed to subscribe")
	}

	if err := client.AwaitConnection(ctx); err != nil {
		log.Error(err, "Connection timed out")
		return
	}

	_ = client.Publish(ctx, topics.Availability("desk"), 1, true, []byte("online"))
	client.Disconnect(ctx)
}
