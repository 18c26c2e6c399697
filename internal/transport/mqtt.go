package transport

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/url"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/and161185/fbrt/internal/errs"
	"github.com/and161185/fbrt/internal/model"
)

const (
	mqttClientID        = "mqttwsclient"
	mqttProtocolVersion = 3 // MQIsdp
	publishTimeout      = 10 * time.Second
	subscribeTimeout    = 10 * time.Second

	// connectSlack keeps paho's own connect deadlines behind the attempt deadline,
	// so an unanswered CONNECT always surfaces as ErrHandshakeTimeout.
	connectSlack = 5 * time.Second
)

// MQTTDialer connects with paho over a gorilla WebSocket.
type MQTTDialer struct {
	Proxy          *url.URL
	ConnectTimeout time.Duration
	Log            *zap.Logger
}

// NewMQTTDialer returns a dialer. A nil logger disables logging.
func NewMQTTDialer(proxy *url.URL, connectTimeout time.Duration, log *zap.Logger) *MQTTDialer {
	if log == nil {
		log = zap.NewNop()
	}
	if connectTimeout <= 0 {
		connectTimeout = model.DefaultHandshakeTimeout
	}
	return &MQTTDialer{Proxy: proxy, ConnectTimeout: connectTimeout, Log: log}
}

// Dial registers one attempt. The CONNECT runs in the background; its outcome
// arrives via h.OnConnect or h.OnError.
func (d *MQTTDialer) Dial(a Attempt, h Handlers) (model.Conn, error) {
	if a.Endpoint == nil {
		return nil, errors.New("transport: endpoint required")
	}
	username, err := a.Identity.Username()
	if err != nil {
		return nil, err
	}

	c := &mqttConn{
		log:    d.Log.With(zap.String("host", a.Endpoint.Host)),
		closed: make(chan struct{}),
	}

	inner := d.ConnectTimeout + connectSlack
	ws := WebsocketConfig{Header: a.Header, Proxy: d.Proxy, HandshakeTimeout: inner}
	opts := mqtt.NewClientOptions().
		AddBroker(a.Endpoint.String()).
		SetClientID(mqttClientID).
		SetUsername(username).
		SetProtocolVersion(mqttProtocolVersion).
		SetCleanSession(true).
		SetKeepAlive(time.Duration(10+rand.IntN(5)) * time.Second).
		SetPingTimeout(10 * time.Second).
		SetConnectTimeout(inner).
		SetWriteTimeout(publishTimeout).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetOrderMatters(true).
		SetCustomOpenConnectionFn(func(uri *url.URL, _ mqtt.ClientOptions) (net.Conn, error) {
			ctx, cancel := context.WithTimeout(context.Background(), inner)
			defer cancel()
			return DialWebsocket(ctx, uri, ws)
		}).
		SetDefaultPublishHandler(func(_ mqtt.Client, m mqtt.Message) {
			h.OnMessage(m.Topic(), m.Payload())
		}).
		SetOnConnectHandler(func(cl mqtt.Client) {
			if err := subscribe(cl); err != nil {
				c.fail(h, err)
				return
			}
			h.OnConnect()
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			c.fail(h, err)
		})

	c.client = mqtt.NewClient(opts)
	go func() {
		tok := c.client.Connect()
		if !tok.WaitTimeout(d.ConnectTimeout) {
			c.fail(h, errs.ErrHandshakeTimeout)
			return
		}
		if err := tok.Error(); err != nil {
			c.fail(h, fmt.Errorf("mqtt connect: %w", err))
		}
	}()
	return c, nil
}

func subscribe(cl mqtt.Client) error {
	filters := make(map[string]byte, len(Topics))
	for _, t := range Topics {
		filters[t] = 0
	}
	tok := cl.SubscribeMultiple(filters, nil)
	if !tok.WaitTimeout(subscribeTimeout) {
		return fmt.Errorf("mqtt subscribe: %w", context.DeadlineExceeded)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt subscribe: %w", err)
	}
	return nil
}

type mqttConn struct {
	client mqtt.Client
	log    *zap.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

// fail reports err unless the handle was closed on purpose.
func (c *mqttConn) fail(h Handlers, err error) {
	select {
	case <-c.closed:
		c.log.Debug("error after close", zap.Error(err))
		return
	default:
	}
	h.OnError(err)
}

// Publish sends payload with QoS 0, the level the edge accepts without PUBACK trouble.
func (c *mqttConn) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tok := c.client.Publish(topic, 0, false, payload)
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(publishTimeout):
		return fmt.Errorf("publish %s: %w", topic, context.DeadlineExceeded)
	}
}

func (c *mqttConn) Connected() bool {
	select {
	case <-c.closed:
		return false
	default:
		return c.client.IsConnectionOpen()
	}
}

// Close returns at once. Disconnect waits for an in-flight CONNECT to finish,
// so it runs in the background.
func (c *mqttConn) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		go c.client.Disconnect(250)
	})
}
