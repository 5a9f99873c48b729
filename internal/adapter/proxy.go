package adapter

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

const (
	proxyRepeat          = 3
	proxyIgnoredDuration = 2000
	proxyQoS             = 1

	StatusOnline  = "online"
	StatusOffline = "offline"
)

// ProxyAdvertisement is published on <prefix>/<name>/adv.
type ProxyAdvertisement struct {
	Raw             string   `json:"raw"`
	Duration        int      `json:"duration"`
	Repeat          int      `json:"repeat"`
	IgnoredDuration int      `json:"ignored_duration"`
	IgnoredAdvs     []string `json:"ignored_advs"`
}

// ProxyReport is received on <prefix>/<name>/raw_adv.
type ProxyReport struct {
	Raw string `json:"raw"`
}

type BreakerSettings struct {
	MaxFailures uint32
	Interval    time.Duration
	Timeout     time.Duration
}

type ProxyOptions struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	Breaker     BreakerSettings
	OnAdv       AdvRecvFunc
	Logger      *logrus.Logger
	Metrics     *Metrics
	// ClientFactory builds the MQTT client; mqtt.NewClient when nil.
	ClientFactory func(*mqtt.ClientOptions) mqtt.Client
}

// Proxy is a remote advertiser reachable over MQTT.
type Proxy struct {
	*Scheduler
	mgr *ProxyManager
}

func (p *Proxy) Open(context.Context) error {
	if !p.mgr.connected() {
		return ErrUnavailable
	}
	return nil
}

func (p *Proxy) Close() error { return nil }

// Advertise asks the proxy to repeat data three times, ignoring its own
// echo for two seconds.
func (p *Proxy) Advertise(ctx context.Context, interval time.Duration, data []byte) error {
	raw := hex.EncodeToString(data)
	payload, err := json.Marshal(ProxyAdvertisement{
		Raw:             raw,
		Duration:        int(interval / time.Millisecond),
		Repeat:          proxyRepeat,
		IgnoredDuration: proxyIgnoredDuration,
		IgnoredAdvs:     []string{raw},
	})
	if err != nil {
		return err
	}
	return p.mgr.publish(ctx, p.mgr.topic(p.name, "adv"), payload)
}

// ProxyManager tracks the proxies announcing themselves on the broker.
type ProxyManager struct {
	opts    ProxyOptions
	logger  *logrus.Logger
	metrics *Metrics
	breaker *gobreaker.CircuitBreaker

	mu      sync.Mutex
	client  mqtt.Client
	proxies map[string]*Proxy
	ctx     context.Context
}

func NewProxyManager(opts ProxyOptions) *ProxyManager {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	if opts.ClientFactory == nil {
		opts.ClientFactory = mqtt.NewClient
	}
	if opts.ClientID == "" {
		opts.ClientID = "bleadv-" + uuid.NewString()
	}
	if opts.TopicPrefix == "" {
		opts.TopicPrefix = "bleadv"
	}
	if opts.Breaker.MaxFailures == 0 {
		opts.Breaker.MaxFailures = 5
	}
	if opts.Breaker.Timeout == 0 {
		opts.Breaker.Timeout = 30 * time.Second
	}
	maxFailures := opts.Breaker.MaxFailures
	logger := opts.Logger
	return &ProxyManager{
		opts:    opts,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:     "mqtt-proxy",
			Interval: opts.Breaker.Interval,
			Timeout:  opts.Breaker.Timeout,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= maxFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.WithFields(logrus.Fields{"breaker": name, "from": from.String(), "to": to.String()}).Warn("Circuit breaker state changed")
			},
		}),
		proxies: map[string]*Proxy{},
		ctx:     context.Background(),
	}
}

func (m *ProxyManager) topic(name, leaf string) string {
	return m.opts.TopicPrefix + "/" + name + "/" + leaf
}

// proxyName extracts <name> from <prefix>/<name>/<leaf>.
func proxyName(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || parts[len(parts)-2] == "" {
		return "", false
	}
	return parts[len(parts)-2], true
}

// Start connects to the broker, retrying a few times, and subscribes to
// the status and report topics. Subscriptions are renewed on reconnect.
func (m *ProxyManager) Start(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(m.opts.Broker).
		SetClientID(m.opts.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetOnConnectHandler(func(c mqtt.Client) { m.subscribe(c) }).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			m.logger.WithError(err).Warn("MQTT connection lost")
		})

	m.mu.Lock()
	m.ctx = ctx
	m.client = m.opts.ClientFactory(opts)
	client := m.client
	m.mu.Unlock()

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 10 * time.Second
	err := backoff.Retry(func() error {
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			m.logger.WithError(token.Error()).Debug("MQTT connect failed")
			return token.Error()
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, 4), ctx))
	if err != nil {
		return wrap("mqtt", "connect", fmt.Errorf("%w: %v", ErrUnavailable, err))
	}
	m.logger.WithField("broker", m.opts.Broker).Info("Connected to MQTT broker")
	return nil
}

func (m *ProxyManager) subscribe(c mqtt.Client) {
	subs := map[string]mqtt.MessageHandler{
		m.topic("+", "status"):  m.onStatus,
		m.topic("+", "raw_adv"): m.onReport,
	}
	for topic, handler := range subs {
		if token := c.Subscribe(topic, proxyQoS, handler); token.Wait() && token.Error() != nil {
			m.logger.WithError(token.Error()).WithField("topic", topic).Error("MQTT subscribe failed")
		}
	}
}

func (m *ProxyManager) connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client != nil && m.client.IsConnected()
}

func (m *ProxyManager) onStatus(_ mqtt.Client, msg mqtt.Message) {
	name, ok := proxyName(msg.Topic())
	if !ok {
		return
	}
	switch strings.TrimSpace(string(msg.Payload())) {
	case StatusOnline:
		m.addProxy(name)
	case StatusOffline:
		m.removeProxy(name)
	default:
		m.logger.WithFields(logrus.Fields{"adapter": name, "status": string(msg.Payload())}).Debug("Unknown proxy status")
	}
}

func (m *ProxyManager) addProxy(name string) {
	m.mu.Lock()
	if _, exists := m.proxies[name]; exists {
		m.mu.Unlock()
		return
	}
	p := &Proxy{mgr: m}
	p.Scheduler = NewScheduler(name, p, func(err error) {
		m.logger.WithError(err).WithField("adapter", name).Warn("Proxy error")
	}, m.logger, m.metrics)
	m.proxies[name] = p
	ctx := m.ctx
	m.mu.Unlock()

	if err := p.Init(ctx); err != nil {
		m.logger.WithError(err).WithField("adapter", name).Warn("Proxy init failed")
		m.mu.Lock()
		delete(m.proxies, name)
		m.mu.Unlock()
	}
}

func (m *ProxyManager) removeProxy(name string) {
	m.mu.Lock()
	p, ok := m.proxies[name]
	delete(m.proxies, name)
	m.mu.Unlock()
	if ok {
		p.Final()
	}
}

func (m *ProxyManager) onReport(_ mqtt.Client, msg mqtt.Message) {
	name, ok := proxyName(msg.Topic())
	if !ok || m.opts.OnAdv == nil {
		return
	}
	var report ProxyReport
	if err := json.Unmarshal(msg.Payload(), &report); err != nil {
		m.logger.WithError(err).WithField("adapter", name).Debug("Invalid proxy report")
		return
	}
	raw, err := hex.DecodeString(report.Raw)
	if err != nil {
		m.logger.WithError(err).WithField("adapter", name).Debug("Invalid proxy report data")
		return
	}
	m.metrics.Received.WithLabelValues(name).Inc()
	m.opts.OnAdv(name, raw)
}

// publish sends payload through the circuit breaker.
func (m *ProxyManager) publish(ctx context.Context, topic string, payload []byte) error {
	m.mu.Lock()
	client := m.client
	m.mu.Unlock()
	if client == nil {
		return ErrClosed
	}
	_, err := m.breaker.Execute(func() (interface{}, error) {
		token := client.Publish(topic, proxyQoS, false, payload)
		wait := MaxAdvWait
		if deadline, ok := ctx.Deadline(); ok {
			wait = time.Until(deadline)
		}
		if !token.WaitTimeout(wait) {
			return nil, ErrAdapterTimeout
		}
		return nil, token.Error()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

// Proxies returns the online proxies keyed by name.
func (m *ProxyManager) Proxies() map[string]*Proxy {
	m.mu.Lock()
	defer m.mu.Unlock()
	return lo.Assign(m.proxies)
}

func (m *ProxyManager) ProxyNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := lo.Keys(m.proxies)
	slices.Sort(names)
	return names
}

// Stop finalises every proxy and disconnects from the broker.
func (m *ProxyManager) Stop() {
	m.mu.Lock()
	proxies := m.proxies
	m.proxies = map[string]*Proxy{}
	client := m.client
	m.client = nil
	m.mu.Unlock()

	for _, p := range proxies {
		p.Final()
	}
	if client != nil && client.IsConnected() {
		client.Disconnect(250)
	}
}
