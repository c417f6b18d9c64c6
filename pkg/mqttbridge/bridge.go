package mqttbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/bivalvia-project/bivalvia/pkg/dedup"
)

// topicPrefix namespaces group traffic on a possibly-shared broker.
const topicPrefix = "bivalvia/groups/"

// Config describes the MQTT broker used to share broadcasts between
// cloud processes.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	ClientID string
}

// NewConn dials the broker with exponential backoff and closes the client
// when ctx ends.
func NewConn(cfg *Config, ctx context.Context) (mqtt.Client, error) {
	connAddr := fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(connAddr)
	opts.SetUsername(cfg.User)
	opts.SetPassword(cfg.Password)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 10 * time.Second
	maxRetries := 5

	var client mqtt.Client
	err := backoff.Retry(func() error {
		client = mqtt.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			log.Printf("mqttbridge: broker connect failed: %v", token.Error())
			return token.Error()
		}
		return nil
	}, backoff.WithMaxRetries(bo, uint64(maxRetries-1)))
	if err != nil {
		return nil, fmt.Errorf("could not establish MQTT connection after retries: %w", err)
	}

	log.Printf("mqttbridge: connected to broker at %s", connAddr)

	go func() {
		<-ctx.Done()
		client.Disconnect(250)
		log.Println("mqttbridge: broker connection closed")
	}()

	return client, nil
}

// LocalDeliverer is the process-local half of the registry the bridge feeds
// remote messages into.
type LocalDeliverer interface {
	DeliverLocal(group string, payload []byte)
}

// envelope wraps a group payload on the MQTT wire. Origin lets each process
// drop its own echoes (the broker delivers publishes back to the sender);
// ID catches QoS1 redeliveries.
type envelope struct {
	Origin string          `json:"origin"`
	ID     string          `json:"id"`
	Data   json.RawMessage `json:"data"`
}

// Bridge mirrors every group publish to the broker and replays messages
// from other processes into the local registry. It carries no state of its
// own: group membership stays per-process.
type Bridge struct {
	client  mqtt.Client
	origin  string
	local   LocalDeliverer
	deduper *dedup.Deduper
}

func New(client mqtt.Client, local LocalDeliverer) *Bridge {
	return &Bridge{
		client:  client,
		origin:  uuid.New().String(),
		local:   local,
		deduper: dedup.New(2*time.Minute, 10000),
	}
}

// Start subscribes to every group topic. It returns once the subscription
// is established; delivery then runs on the client's callback goroutines
// until ctx ends.
func (b *Bridge) Start(ctx context.Context) error {
	token := b.client.Subscribe(topicPrefix+"#", 1, func(_ mqtt.Client, msg mqtt.Message) {
		b.handle(msg)
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe %s#: %w", topicPrefix, token.Error())
	}

	go func() {
		<-ctx.Done()
		unsub := b.client.Unsubscribe(topicPrefix + "#")
		unsub.Wait()
	}()
	return nil
}

func (b *Bridge) handle(msg mqtt.Message) {
	group := strings.TrimPrefix(msg.Topic(), topicPrefix)

	var env envelope
	if err := json.Unmarshal(msg.Payload(), &env); err != nil {
		log.Printf("mqttbridge: invalid envelope on %s: %v", msg.Topic(), err)
		return
	}
	if env.Origin == b.origin {
		return // our own publish coming back
	}
	if !b.deduper.ShouldProcess(env.ID) {
		return
	}
	b.local.DeliverLocal(group, env.Data)
}

// Forward publishes a locally-originated payload for the other processes.
func (b *Bridge) Forward(group string, payload []byte) error {
	env := envelope{Origin: b.origin, ID: uuid.New().String(), Data: payload}
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	token := b.client.Publish(topicPrefix+group, 1, false, raw)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("failed to publish group message: %w", token.Error())
	}
	return nil
}
