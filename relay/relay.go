// Package relay is the transport contract between relay core and MQTT client:
// - Dial never blocks on network, connect result arrives as Event
// - Notify may be called from any goroutine, it must not block
// - Publish on not connected Conn returns false, never blocks for long
// - after Close no Event is meaningful, receiver must ignore stale ones
package relay

import (
	"fmt"
	"time"
)

type EventKind uint8

const (
	EventConnected EventKind = iota + 1
	EventConnectFailed
	EventLost
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventConnectFailed:
		return "connect-failed"
	case EventLost:
		return "lost"
	}
	return fmt.Sprintf("event(%d)", uint8(k))
}

type Event struct {
	Kind EventKind
	Err  error
}

type Notify func(Event)

type Will struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

type ConnOptions struct {
	Name           string // for logs
	URL            string // tcp://host:port ssl://host:port wss://host:port/path
	ClientID       string
	Username       string
	Password       string
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	Will           *Will
}

type Dialer interface {
	Dial(opt ConnOptions, notify Notify) (Conn, error)
}

type Conn interface {
	Publish(topic string, qos byte, retained bool, payload []byte) bool
	Close()
}

type TopicKind string

const (
	TopicStatus  TopicKind = "status"
	TopicPackets TopicKind = "packets"
	TopicRaw     TopicKind = "raw"
)

const DefaultNamespace = "meshcore"

// Topics is <namespace>/<region>/<device>/{status,packets,raw}
type Topics struct {
	Status  string
	Packets string
	Raw     string
}

func NewTopics(namespace, region, device string) Topics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	prefix := fmt.Sprintf("%s/%s/%s/", namespace, region, device)
	return Topics{
		Status:  prefix + string(TopicStatus),
		Packets: prefix + string(TopicPackets),
		Raw:     prefix + string(TopicRaw),
	}
}
