// Package mqtt implements relay.Dialer with paho MQTT client.
package mqtt

import (
	"crypto/tls"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
	"github.com/temoto/meshrelay/log2"
	"github.com/temoto/meshrelay/relay"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultKeepAlive      = 60 * time.Second
	defaultWriteTimeout   = 5 * time.Second
	disconnectQuiesceMs   = 250
)

// SetLibraryLog routes paho library logs into log.
// Paho loggers are process global, call once at startup.
func SetLibraryLog(log *log2.Log, debug bool) {
	paho.ERROR = log.AsPaho(log2.LError)
	paho.CRITICAL = log.AsPaho(log2.LError)
	paho.WARN = log.AsPaho(log2.LInfo)
	if debug {
		paho.DEBUG = log.AsPaho(log2.LDebug)
	}
}

type Dialer struct {
	log *log2.Log
}

func NewDialer(log *log2.Log) *Dialer {
	return &Dialer{log: log}
}

type conn struct {
	log          *log2.Log
	name         string
	c            paho.Client
	writeTimeout time.Duration
	closed       uint32
	closeOnce    sync.Once
}

func (d *Dialer) Dial(opt relay.ConnOptions, notify relay.Notify) (relay.Conn, error) {
	u, err := url.Parse(opt.URL)
	if err != nil {
		return nil, errors.Annotatef(err, "mqtt dial name=%s", opt.Name)
	}
	if u.Host == "" {
		return nil, errors.NotValidf("mqtt dial name=%s url=%s", opt.Name, opt.URL)
	}
	connectTimeout := opt.ConnectTimeout
	if connectTimeout == 0 {
		connectTimeout = defaultConnectTimeout
	}
	keepAlive := opt.KeepAlive
	if keepAlive == 0 {
		keepAlive = defaultKeepAlive
	}
	c := &conn{
		log:          d.log,
		name:         opt.Name,
		writeTimeout: opt.WriteTimeout,
	}
	if c.writeTimeout == 0 {
		c.writeTimeout = defaultWriteTimeout
	}

	mopt := paho.NewClientOptions().
		AddBroker(opt.URL).
		SetClientID(opt.ClientID).
		SetUsername(opt.Username).
		SetPassword(opt.Password).
		SetProtocolVersion(4).
		SetCleanSession(true).
		SetOrderMatters(false).
		SetAutoReconnect(false).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(keepAlive).
		SetPingTimeout(connectTimeout).
		SetWriteTimeout(c.writeTimeout).
		SetOnConnectHandler(func(client paho.Client) {
			if atomic.LoadUint32(&c.closed) != 0 {
				// closed while connecting
				client.Disconnect(disconnectQuiesceMs)
				return
			}
			notify(relay.Event{Kind: relay.EventConnected})
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			notify(relay.Event{Kind: relay.EventLost, Err: err})
		})
	switch u.Scheme {
	case "ssl", "tls", "mqtts", "wss":
		mopt.SetTLSConfig(&tls.Config{ServerName: u.Hostname(), MinVersion: tls.VersionTLS12})
	}
	if w := opt.Will; w != nil {
		mopt.SetBinaryWill(w.Topic, w.Payload, w.QoS, w.Retained)
	}
	c.c = paho.NewClient(mopt)

	token := c.c.Connect()
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			notify(relay.Event{Kind: relay.EventConnectFailed, Err: err})
		}
	}()
	d.log.Debugf("mqtt dial name=%s url=%s client=%s", opt.Name, opt.URL, opt.ClientID)
	return c, nil
}

func (c *conn) Publish(topic string, qos byte, retained bool, payload []byte) bool {
	if !c.c.IsConnected() {
		return false
	}
	token := c.c.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(c.writeTimeout) {
		c.log.Errorf("mqtt publish name=%s topic=%s timeout", c.name, topic)
		return false
	}
	if err := token.Error(); err != nil {
		c.log.Errorf("mqtt publish name=%s topic=%s err=%v", c.name, topic, err)
		return false
	}
	return true
}

func (c *conn) Close() {
	c.closeOnce.Do(func() {
		atomic.StoreUint32(&c.closed, 1)
		if c.c.IsConnected() {
			c.c.Disconnect(disconnectQuiesceMs)
		}
	})
}
