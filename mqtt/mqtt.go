// Package mqtt publishes reader diagnostics to an MQTT broker. It is an
// optional side channel: nothing on the host bus depends on it, and every
// publish is fire and forget.
package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/fxamacker/cbor/v2"

	"fobreader/internal/syncutil"
)

// Payload encodings.
const (
	EncodingJSON = "json"
	EncodingCBOR = "cbor"
)

// Topics, relative to fobreader/<client_id>/.
const (
	TopicBoot     = "status/boot"
	TopicPing     = "status/ping"
	TopicTag      = "event/tag"
	TopicInvalid  = "event/invalid"
	TopicBadCard  = "event/badcard"
	TopicSelfTest = "event/selftest"
)

// DefaultPing is the default interval between pings.
const DefaultPing = 120 * time.Second

// Config holds MQTT connection settings.
type Config struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	ClientID    string `yaml:"client_id"`
	CACert      string `yaml:"ca_cert"`
	ClientCert  string `yaml:"client_cert"`
	ClientKey   string `yaml:"client_key"`
	Encoding    string `yaml:"encoding"` // "json" (default), "cbor"
	PingSeconds int    `yaml:"ping_seconds"`
}

// Validate checks the encoding name.
func (c Config) Validate() error {
	switch c.Encoding {
	case "", EncodingJSON, EncodingCBOR:
		return nil
	default:
		return fmt.Errorf("unknown mqtt encoding %q", c.Encoding)
	}
}

// Event is one diagnostic message.
type Event struct {
	Seq         uint64    `json:"seq" cbor:"seq"`
	Time        time.Time `json:"time" cbor:"time"`
	Address     string    `json:"address,omitempty" cbor:"address,omitempty"`
	Firmware    string    `json:"firmware,omitempty" cbor:"firmware,omitempty"`
	ChipVersion string    `json:"chip_version,omitempty" cbor:"chip_version,omitempty"`
	UID         string    `json:"uid,omitempty" cbor:"uid,omitempty"`
	Card        string    `json:"card,omitempty" cbor:"card,omitempty"`
	Passed      *bool     `json:"passed,omitempty" cbor:"passed,omitempty"`
	Uptime      string    `json:"uptime,omitempty" cbor:"uptime,omitempty"`
}

type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

// Client wraps the MQTT client with diagnostic publishing.
type Client struct {
	client  paho.Client
	pub     publisher
	prefix  string
	enabled bool
	encode  func(Event) ([]byte, error)
	ping    time.Duration
	now     func() time.Time

	mu      syncutil.Mutex
	seq     uint64
	started time.Time
	boot    *Event
}

var cborMode cbor.EncMode

func init() {
	var err error
	cborMode, err = cbor.EncOptions{
		Sort: cbor.SortCanonical,
		Time: cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("mqtt cbor encoder: %v", err))
	}
}

func encoder(name string) func(Event) ([]byte, error) {
	if name == EncodingCBOR {
		return func(e Event) ([]byte, error) { return cborMode.Marshal(e) }
	}
	return func(e Event) ([]byte, error) { return json.Marshal(e) }
}

// New creates a new MQTT client. Returns a disabled no-op client if host is empty.
func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	clientID := cfg.ClientID
	if clientID == "" {
		host, _ := os.Hostname()
		clientID = "fobreader-" + host
	}

	c := &Client{
		prefix: fmt.Sprintf("fobreader/%s/", clientID),
		encode: encoder(cfg.Encoding),
		ping:   DefaultPing,
		now:    time.Now,
	}
	c.started = c.now()
	if cfg.PingSeconds > 0 {
		c.ping = time.Duration(cfg.PingSeconds) * time.Second
	}

	// If no host configured, return disabled client
	if cfg.Host == "" {
		log.Println("MQTT disabled (no host configured)")
		return c, nil
	}
	c.enabled = true

	broker, tlsConfig, err := brokerURL(cfg)
	if err != nil {
		return nil, err
	}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetKeepAlive(60 * time.Second).
		SetConnectionLostHandler(c.handleConnectionLost).
		SetOnConnectHandler(c.handleConnect)

	if tlsConfig != nil {
		opts.SetTLSConfig(tlsConfig)
	}

	c.client = paho.NewClient(opts)
	c.pub = c.client

	paho.ERROR = log.New(os.Stdout, "[MQTT ERROR] ", 0)
	paho.CRITICAL = log.New(os.Stdout, "[MQTT CRIT] ", 0)
	paho.WARN = log.New(os.Stdout, "[MQTT WARN] ", 0)

	return c, nil
}

// brokerURL returns the broker URL and, when any certificate is configured,
// the TLS settings to reach it.
func brokerURL(cfg Config) (string, *tls.Config, error) {
	if cfg.CACert == "" && cfg.ClientCert == "" {
		port := cfg.Port
		if port == 0 {
			port = 1883
		}
		log.Println("MQTT using non-TLS connection")
		return fmt.Sprintf("tcp://%s:%d", cfg.Host, port), nil, nil
	}

	port := cfg.Port
	if port == 0 {
		port = 8883
	}
	tlsConfig := &tls.Config{}

	if cfg.CACert != "" {
		pem, err := os.ReadFile(cfg.CACert)
		if err != nil {
			return "", nil, fmt.Errorf("read CA cert: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return "", nil, fmt.Errorf("no certificates in %s", cfg.CACert)
		}
		tlsConfig.RootCAs = pool
	}

	if cfg.ClientCert != "" {
		if cfg.ClientKey == "" {
			return "", nil, fmt.Errorf("client cert %s has no client_key", cfg.ClientCert)
		}
		cert, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
		if err != nil {
			return "", nil, fmt.Errorf("load client cert: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return fmt.Sprintf("ssl://%s:%d", cfg.Host, port), tlsConfig, nil
}

// Connect starts connecting to the broker in the background. No-op if disabled.
func (c *Client) Connect() {
	if !c.enabled {
		return
	}
	token := c.client.Connect()
	go func() {
		if token.Wait() && token.Error() != nil {
			log.Printf("MQTT connect: %v", token.Error())
		}
	}()
}

// Disconnect disconnects from the MQTT broker. No-op if disabled.
func (c *Client) Disconnect() {
	if !c.enabled || c.client == nil {
		return
	}
	c.client.Disconnect(250)
}

// IsEnabled returns whether MQTT is enabled.
func (c *Client) IsEnabled() bool {
	return c.enabled
}

func (c *Client) handleConnect(client paho.Client) {
	log.Println("MQTT connection established")

	c.mu.Lock()
	boot := c.boot
	c.mu.Unlock()

	// Republish the retained boot record after every reconnect.
	if boot != nil {
		c.send(TopicBoot, true, *boot)
	}
}

func (c *Client) handleConnectionLost(client paho.Client, err error) {
	log.Printf("MQTT connection lost: %v", err)
}

func (c *Client) next() Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return Event{Seq: c.seq, Time: c.now()}
}

func (c *Client) send(topic string, retained bool, e Event) {
	if !c.enabled {
		return
	}
	payload, err := c.encode(e)
	if err != nil {
		log.Printf("MQTT encode %s: %v", topic, err)
		return
	}
	c.pub.Publish(c.prefix+topic, 0, retained, payload)
}

// Boot records and publishes the boot status.
func (c *Client) Boot(address, firmware string, chipVersion byte) {
	e := c.next()
	e.Address = address
	e.Firmware = firmware
	e.ChipVersion = fmt.Sprintf("0x%02X", chipVersion)

	c.mu.Lock()
	c.boot = &e
	c.mu.Unlock()

	c.send(TopicBoot, true, e)
}

// Ping publishes a liveness message with the uptime.
func (c *Client) Ping() {
	e := c.next()
	e.Uptime = e.Time.Sub(c.started).Round(time.Second).String()
	c.send(TopicPing, false, e)
}

// RunPing publishes pings until ctx is cancelled. No-op if disabled.
func (c *Client) RunPing(ctx context.Context) {
	if !c.enabled {
		return
	}
	t := time.NewTicker(c.ping)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.Ping()
		}
	}
}

// TagStored publishes a newly stored tag.
func (c *Client) TagStored(uid, card string) {
	e := c.next()
	e.UID = uid
	e.Card = card
	c.send(TopicTag, false, e)
}

// InvalidCard publishes a card that was refused for its type.
func (c *Client) InvalidCard(uid, card string) {
	e := c.next()
	e.UID = uid
	e.Card = card
	c.send(TopicInvalid, false, e)
}

// BadCard publishes a host rejection.
func (c *Client) BadCard() {
	c.send(TopicBadCard, false, c.next())
}

// SelfTest publishes a self-test outcome.
func (c *Client) SelfTest(passed bool) {
	e := c.next()
	e.Passed = &passed
	c.send(TopicSelfTest, false, e)
}
