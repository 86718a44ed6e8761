package location

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"
	"github.com/google/uuid"

	"github.com/ponytojas/sensormap/config"
	"github.com/ponytojas/sensormap/internal/models"
)

// errNotLocation marks payloads that are valid but carry no position, such
// as OwnTracks transition or last-will messages.
var errNotLocation = errors.New("not a location message")

// MQTTWatcher reads positions published on an MQTT topic, for example by a
// phone running OwnTracks or a GPS tracker bridge.
type MQTTWatcher struct {
	opts      *mqtt.ClientOptions
	brokerURL string
	topic     string
	newClient func(*mqtt.ClientOptions) mqtt.Client
}

// NewMQTTWatcher creates a watcher from the mqtt section of cfg.
func NewMQTTWatcher(cfg *config.Config) *MQTTWatcher {
	opts := mqtt.NewClientOptions()
	brokerURL := cfg.GetMQTTBrokerURL()
	opts.AddBroker(brokerURL)
	// Several watchers may share one configured client id
	opts.SetClientID(fmt.Sprintf("%s-%s", cfg.MQTT.ClientID, uuid.NewString()[:8]))

	// Configure TLS if using SSL or WSS
	if strings.HasPrefix(brokerURL, "ssl://") || strings.HasPrefix(brokerURL, "wss://") {
		log.Printf("[LOCATION] Configuring TLS for secure connection to %s", brokerURL)
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tls.VersionTLS12,
		})
	}

	if cfg.MQTT.Username != "" {
		opts.SetUsername(cfg.MQTT.Username)
		opts.SetPassword(cfg.MQTT.Password)
	}

	opts.SetConnectTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Printf("[LOCATION] Connection lost: %v", err)
	})
	opts.SetReconnectingHandler(func(client mqtt.Client, opts *mqtt.ClientOptions) {
		log.Println("[LOCATION] Attempting to reconnect to MQTT broker...")
	})

	return &MQTTWatcher{
		opts:      opts,
		brokerURL: brokerURL,
		topic:     cfg.MQTT.Topic,
		newClient: mqtt.NewClient,
	}
}

// Watch connects to the broker and subscribes to the position topic.
func (w *MQTTWatcher) Watch(ctx context.Context) (*Subscription, error) {
	client := w.newClient(w.opts)

	if err := waitToken(ctx, client.Connect()); err != nil {
		if ctx.Err() != nil {
			client.Disconnect(0)
			return nil, ctx.Err()
		}
		return nil, classifyConnectError(err)
	}
	log.Printf("[LOCATION] Connected to MQTT broker: %s", w.brokerURL)

	var (
		mu     sync.Mutex
		closed bool
		sub    *Subscription
	)

	sub = newSubscription(1, func() {
		client.Unsubscribe(w.topic).WaitTimeout(time.Second)
		client.Disconnect(250)
		mu.Lock()
		closed = true
		close(sub.samples)
		mu.Unlock()
		log.Println("[LOCATION] Disconnected from MQTT broker")
	})

	handler := func(_ mqtt.Client, msg mqtt.Message) {
		pos, err := decodePosition(msg.Payload(), time.Now().UTC())
		if err != nil {
			if !errors.Is(err, errNotLocation) {
				log.Printf("[LOCATION] Dropping message on %s: %v", msg.Topic(), err)
			}
			return
		}
		pos.Source = msg.Topic()

		mu.Lock()
		defer mu.Unlock()
		if !closed {
			sub.deliver(pos)
		}
	}

	if err := waitToken(ctx, client.Subscribe(w.topic, 0, handler)); err != nil {
		client.Disconnect(250)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: subscribe to %s: %v", ErrUnavailable, w.topic, err)
	}
	log.Printf("[LOCATION] Subscribed to topic: %s", w.topic)

	watchContext(ctx, sub)
	return sub, nil
}

// waitToken waits for token to complete or ctx to end.
func waitToken(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func classifyConnectError(err error) error {
	if errors.Is(err, packets.ErrorRefusedBadUsernameOrPassword) || errors.Is(err, packets.ErrorRefusedNotAuthorised) {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: failed to connect to MQTT broker: %v", ErrUnavailable, err)
}

// decodePosition parses a JSON position payload. Both plain
// {"latitude","longitude","timestamp"} documents and OwnTracks
// {"_type":"location","lat","lon","tst"} documents are understood.
func decodePosition(payload []byte, now time.Time) (models.Position, error) {
	var pos models.Position

	var rawData map[string]interface{}
	if err := json.Unmarshal(payload, &rawData); err != nil {
		return pos, fmt.Errorf("error unmarshaling message: %w", err)
	}

	if kind, ok := rawData["_type"].(string); ok && kind != "location" {
		return pos, errNotLocation
	}

	lat, ok := firstFloat(rawData, "latitude", "lat")
	if !ok {
		return pos, errors.New("latitude is missing or not a number")
	}
	lon, ok := firstFloat(rawData, "longitude", "lon", "lng")
	if !ok {
		return pos, errors.New("longitude is missing or not a number")
	}
	accuracy, _ := firstFloat(rawData, "accuracy", "acc")
	if !finite(lat, lon, accuracy) {
		return pos, errors.New("position contains a non-finite value")
	}

	pos = models.Position{
		Latitude:  lat,
		Longitude: lon,
		Accuracy:  accuracy,
		Timestamp: now,
	}

	// Parse timestamp, falling back to the receive time
	if tsStr, ok := rawData["timestamp"].(string); ok {
		if ts, err := time.Parse(time.RFC3339, tsStr); err == nil {
			pos.Timestamp = ts.UTC()
		} else {
			log.Printf("[LOCATION] Error parsing timestamp %q: %v", tsStr, err)
		}
	} else if tst, ok := getFloat64Value(rawData, "tst"); ok && tst > 0 {
		pos.Timestamp = time.Unix(int64(tst), 0).UTC()
	}

	return pos, nil
}

func finite(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func firstFloat(data map[string]interface{}, keys ...string) (float64, bool) {
	for _, key := range keys {
		if v, ok := getFloat64Value(data, key); ok {
			return v, true
		}
	}
	return 0, false
}

// getFloat64Value safely extracts a float64 value from the map
func getFloat64Value(data map[string]interface{}, key string) (float64, bool) {
	if val, ok := data[key]; ok {
		switch v := val.(type) {
		case float64:
			return v, true
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return f, true
			}
		case int:
			return float64(v), true
		case int64:
			return float64(v), true
		}
	}
	return 0, false
}
