// Package plugmqtt drives smart outlets over MQTT. Commands go to the
// per-device command topic; devices reply on a shared ack topic with the
// command identifier and, for queries, the measured values.
package plugmqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/kmoreau/plugsched/core/device"
	"github.com/kmoreau/plugsched/infra/logger"
)

// ErrAckTimeout is returned when a device does not acknowledge a command
// in time.
var ErrAckTimeout = errors.New("ack timeout")

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Broker     string          `json:"broker"`
	ClientID   string          `json:"client_id"`
	Username   string          `json:"username"`
	Password   string          `json:"password"`
	AckTopic   string          `json:"ack_topic"`
	UseTLS     bool            `json:"use_tls"`
	ClientCert string          `json:"client_cert"`
	ClientKey  string          `json:"client_key"`
	CABundle   string          `json:"ca_bundle"`
	QoS        map[string]byte `json:"qos"`
	// AckTimeoutSeconds bounds how long a device operation may take.
	AckTimeoutSeconds int         `json:"ack_timeout_seconds"`
	TLSConfig         *tls.Config `json:"-"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.ClientID == "" {
		c.ClientID = "plugsched"
	}
	if c.AckTopic == "" {
		c.AckTopic = "plug/+/ack"
	}
	if c.AckTimeoutSeconds <= 0 {
		c.AckTimeoutSeconds = 10
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Broker == "" {
		return fmt.Errorf("mqtt broker is required")
	}
	return nil
}

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// command is the wire format published to a device's command topic.
type command struct {
	CommandID       string `json:"command_id"`
	Action          string `json:"action"` // on, off, countdown, clear_countdown, power, energy
	DesiredState    bool   `json:"desired_state,omitempty"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
	Day             string `json:"day,omitempty"` // yyyy-mm-dd for energy queries
	Timestamp       int64  `json:"timestamp"`
}

// ack is the device's reply on the ack topic.
type ack struct {
	CommandID string    `json:"command_id"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	PowerW    float64   `json:"power_w,omitempty"`
	EnergyWh  []float64 `json:"energy_wh,omitempty"`
}

// Client is the shared MQTT connection behind every outlet facade.
type Client struct {
	cli        pahoClient
	ackTopic   string
	qos        map[string]byte
	ackTimeout time.Duration

	mu       sync.Mutex
	ackChans map[string]chan ack
	logger   logger.Logger
}

// NewClient connects to the broker and subscribes to the ack topic.
func NewClient(cfg Config) (*Client, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts, err := newClientOptions(cfg)
	if err != nil {
		return nil, err
	}

	log := logger.New("plugmqtt")
	c := &Client{
		ackTopic:   cfg.AckTopic,
		qos:        cfg.QoS,
		ackTimeout: time.Duration(cfg.AckTimeoutSeconds) * time.Second,
		ackChans:   make(map[string]chan ack),
		logger:     log,
	}

	opts.OnConnect = func(cli paho.Client) {
		log.Infof("MQTT connected")
		qos := byte(0)
		if q, ok := c.qos["ack"]; ok {
			qos = q
		}
		if token := cli.Subscribe(c.ackTopic, qos, c.onAck); token.Wait() && token.Error() != nil {
			log.Errorf("subscribe error: %v", token.Error())
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}

	cli := newMQTTClient(opts)
	if token := cli.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	c.cli = cli
	return c, nil
}

func newClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.loadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	return opts, nil
}

func (c Config) loadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caBytes)
	return &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

func (c *Client) onAck(_ paho.Client, msg paho.Message) {
	var a ack
	if err := json.Unmarshal(msg.Payload(), &a); err != nil {
		c.logger.Errorf("failed to decode ack: %v", err)
		return
	}
	c.mu.Lock()
	ch, ok := c.ackChans[a.CommandID]
	c.mu.Unlock()
	if ok {
		select {
		case ch <- a:
		default:
		}
	}
}

// request publishes a command for the addressed device and waits for its
// acknowledgment, bounded by the configured timeout and ctx.
func (c *Client) request(ctx context.Context, address string, cmd command) (ack, error) {
	cmd.CommandID = uuid.NewString()
	cmd.Timestamp = time.Now().UnixMilli()
	payload, err := json.Marshal(cmd)
	if err != nil {
		return ack{}, err
	}

	ch := make(chan ack, 1)
	c.mu.Lock()
	c.ackChans[cmd.CommandID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.ackChans, cmd.CommandID)
		c.mu.Unlock()
	}()

	topic := fmt.Sprintf("plug/%s/command", address)
	qos := byte(0)
	if q, ok := c.qos["command"]; ok {
		qos = q
	}
	token := c.cli.Publish(topic, qos, false, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		return ack{}, err
	}
	c.logger.Debugf("sent command %s to %s [action=%s]", cmd.CommandID, topic, cmd.Action)

	timer := time.NewTimer(c.ackTimeout)
	defer timer.Stop()
	select {
	case a := <-ch:
		if !a.Success {
			return ack{}, fmt.Errorf("device rejected command: %s", a.Error)
		}
		return a, nil
	case <-timer.C:
		return ack{}, ErrAckTimeout
	case <-ctx.Done():
		return ack{}, ctx.Err()
	}
}

// Facade returns the control surface for one outlet address.
func (c *Client) Facade(address string) device.Facade {
	return &plugFacade{client: c, address: address}
}

// Disconnect gracefully closes the MQTT connection.
func (c *Client) Disconnect() {
	if c.cli != nil && c.cli.IsConnected() {
		c.cli.Disconnect(250)
	}
}

type plugFacade struct {
	client  *Client
	address string
}

func (f *plugFacade) TurnOn(ctx context.Context) error {
	_, err := f.client.request(ctx, f.address, command{Action: "on"})
	if err != nil {
		return device.NewCommError(f.address, err)
	}
	return nil
}

func (f *plugFacade) TurnOff(ctx context.Context) error {
	_, err := f.client.request(ctx, f.address, command{Action: "off"})
	if err != nil {
		return device.NewCommError(f.address, err)
	}
	return nil
}

func (f *plugFacade) SetCountdown(ctx context.Context, d time.Duration, desiredState bool) error {
	_, err := f.client.request(ctx, f.address, command{
		Action:          "countdown",
		DesiredState:    desiredState,
		DurationSeconds: int(d.Seconds()),
	})
	if err != nil {
		return device.NewCommError(f.address, err)
	}
	return nil
}

func (f *plugFacade) ClearCountdown(ctx context.Context) error {
	_, err := f.client.request(ctx, f.address, command{Action: "clear_countdown"})
	if err != nil {
		return device.NewCommError(f.address, err)
	}
	return nil
}

func (f *plugFacade) InstantPower(ctx context.Context) (float64, error) {
	a, err := f.client.request(ctx, f.address, command{Action: "power"})
	if err != nil {
		return 0, device.NewCommError(f.address, err)
	}
	return a.PowerW, nil
}

func (f *plugFacade) HourlyEnergy(ctx context.Context, day time.Time) ([]float64, error) {
	a, err := f.client.request(ctx, f.address, command{
		Action: "energy",
		Day:    day.Format("2006-01-02"),
	})
	if err != nil {
		return nil, device.NewCommError(f.address, err)
	}
	return a.EnergyWh, nil
}
