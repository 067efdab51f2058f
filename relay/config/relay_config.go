// Separate package is workaround to import cycles.
package relay_config

import (
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/hcl"
	"github.com/juju/errors"
	"github.com/temoto/meshrelay/helpers"
	"github.com/temoto/meshrelay/log2"
)

const (
	MaxBrokers = 3

	DefaultStatusInterval = 300 * time.Second
	MinStatusInterval     = 10 * time.Second
	MaxStatusInterval     = 24 * time.Hour
	DefaultQueueSize      = 50
	MaxQueueSize          = 1024
	DefaultTick           = 100 * time.Millisecond
	DefaultConnectTimeout = 10 * time.Second
	DefaultKeepalive      = 60 * time.Second
	DefaultTokenTTL       = 24 * time.Hour
	DefaultRenewBuffer    = time.Hour
	DefaultAnalyzerRetry  = 30 * time.Second
	DefaultBrokerPort     = 1883
)

type Config struct { //nolint:maligned
	// includeSeen contains absolute paths to prevent include loops
	includeSeen map[string]struct{}
	// only used for Unmarshal, do not access
	XXX_Include []ConfigSource `hcl:"include"`
	XXX_Broker  []Broker       `hcl:"broker"`

	Origin            string `hcl:"origin"`
	Region            string `hcl:"region"`
	Namespace         string `hcl:"namespace"`
	DeviceID          string `hcl:"device_id"`
	Model             string `hcl:"model"`
	FirmwareVersion   string `hcl:"firmware_version"`
	ClientVersion     string `hcl:"client_version"`
	IdentityFile      string `hcl:"identity_file"`
	Timezone          string `hcl:"timezone"`
	LogDebug          bool   `hcl:"log_debug"`
	MqttLogDebug      bool   `hcl:"mqtt_log_debug"`
	StatusIntervalSec int    `hcl:"status_interval_sec"`
	QueueSize         int    `hcl:"queue_size"`
	DrainPerTick      int    `hcl:"drain_per_tick"`
	TickMs            int    `hcl:"tick_ms"`
	ConnectTimeoutSec int    `hcl:"connect_timeout_sec"`
	KeepaliveSec      int    `hcl:"keepalive_sec"`
	MetricsListen     string `hcl:"metrics_listen"`

	Radio    Radio    `hcl:"radio"`
	Messages Messages `hcl:"messages"`
	Analyzer Analyzer `hcl:"analyzer"`

	// merged by name across sources, in order of first appearance
	Brokers []Broker `hcl:"-"`
}

type ConfigSource struct {
	Name     string `hcl:"name,key"`
	Optional bool   `hcl:"optional"`
}

type Radio struct {
	FreqMHz      float64 `hcl:"freq"`
	BandwidthKHz float64 `hcl:"bw"`
	SF           int     `hcl:"sf"`
	CR           int     `hcl:"cr"`
}

// Messages nil means default: status and packets on, raw off.
type Messages struct {
	Status  *bool `hcl:"status"`
	Packets *bool `hcl:"packets"`
	Raw     *bool `hcl:"raw"`
}

func (m Messages) StatusEnabled() bool  { return boolDefault(m.Status, true) }
func (m Messages) PacketsEnabled() bool { return boolDefault(m.Packets, true) }
func (m Messages) RawEnabled() bool     { return boolDefault(m.Raw, false) }

type Analyzer struct {
	US             bool   `hcl:"us"`
	EU             bool   `hcl:"eu"`
	TokenTTLSec    int    `hcl:"token_ttl_sec"`
	RenewBufferSec int    `hcl:"renew_buffer_sec"`
	OwnerKey       string `hcl:"owner_key"`
	ReconnectSec   int    `hcl:"reconnect_sec"`
}

func (a Analyzer) TokenTTL() time.Duration {
	return helpers.IntSecondDefault(a.TokenTTLSec, DefaultTokenTTL)
}
func (a Analyzer) RenewBuffer() time.Duration {
	return helpers.IntSecondDefault(a.RenewBufferSec, DefaultRenewBuffer)
}
func (a Analyzer) Reconnect() time.Duration {
	return helpers.IntSecondDefault(a.ReconnectSec, DefaultAnalyzerRetry)
}

type Broker struct { //nolint:maligned
	Name     string `hcl:"name,key"`
	Enable   bool   `hcl:"enable"`
	Host     string `hcl:"host"`
	Port     int    `hcl:"port"`
	Username string `hcl:"username"`
	Password string `hcl:"password"` // secret
	QoS      int    `hcl:"qos"`
	TLS      bool   `hcl:"tls"`
	WsPath   string `hcl:"ws_path"`
}

// URL scheme follows TLS and websocket settings.
func (b Broker) URL() string {
	port := b.Port
	if port == 0 {
		port = DefaultBrokerPort
	}
	var scheme string
	switch {
	case b.WsPath != "" && b.TLS:
		scheme = "wss"
	case b.WsPath != "":
		scheme = "ws"
	case b.TLS:
		scheme = "ssl"
	default:
		scheme = "tcp"
	}
	u := scheme + "://" + b.Host + ":" + strconv.Itoa(port)
	if b.WsPath != "" {
		if !strings.HasPrefix(b.WsPath, "/") {
			u += "/"
		}
		u += b.WsPath
	}
	return u
}

var placeholders = map[string]struct{}{
	"":                     {},
	"your-broker.com":      {},
	"your-mqtt-broker.com": {},
	"mqtt.example.com":     {},
	"example.com":          {},
	"your-username":        {},
	"your-password":        {},
	"username":             {},
	"password":             {},
	"changeme":             {},
}

func IsPlaceholder(s string) bool {
	_, ok := placeholders[strings.ToLower(strings.TrimSpace(s))]
	return ok
}

// Usable reports whether broker may ever be attempted.
// Error explains why not.
func (b Broker) Usable() error {
	if !b.Enable {
		return errors.Errorf("broker=%s disabled", b.Name)
	}
	if IsPlaceholder(b.Host) {
		return errors.NotValidf("broker=%s host='%s'", b.Name, b.Host)
	}
	if b.Port < 0 || b.Port > 65535 {
		return errors.NotValidf("broker=%s port=%d", b.Name, b.Port)
	}
	if IsPlaceholder(b.Username) {
		return errors.NotValidf("broker=%s username='%s'", b.Name, b.Username)
	}
	if IsPlaceholder(b.Password) {
		return errors.NotValidf("broker=%s password", b.Name)
	}
	if b.QoS < 0 || b.QoS > 1 {
		return errors.NotValidf("broker=%s qos=%d", b.Name, b.QoS)
	}
	return nil
}

func (c *Config) StatusInterval() time.Duration {
	d, _ := helpers.IntSecondRange(c.StatusIntervalSec, MinStatusInterval, MaxStatusInterval, DefaultStatusInterval)
	return d
}
func (c *Config) Tick() time.Duration { return helpers.IntMillisecondDefault(c.TickMs, DefaultTick) }
func (c *Config) ConnectTimeout() time.Duration {
	return helpers.IntSecondDefault(c.ConnectTimeoutSec, DefaultConnectTimeout)
}
func (c *Config) Keepalive() time.Duration {
	return helpers.IntSecondDefault(c.KeepaliveSec, DefaultKeepalive)
}

// Validate corrects out of range values and reports what is unusable.
// Corrections are logged, never fatal.
func (c *Config) Validate(log *log2.Log) error {
	c.Origin = stripQuotes(c.Origin)
	c.Region = stripQuotes(c.Region)
	if c.Namespace == "" {
		c.Namespace = "meshcore"
	}
	if c.StatusIntervalSec == 0 {
		c.StatusIntervalSec = int(DefaultStatusInterval / time.Second)
	} else if _, ok := helpers.IntSecondRange(c.StatusIntervalSec, MinStatusInterval, MaxStatusInterval, DefaultStatusInterval); !ok {
		log.Errorf("config status_interval_sec=%d out of range, using %v", c.StatusIntervalSec, DefaultStatusInterval)
		c.StatusIntervalSec = int(DefaultStatusInterval / time.Second)
	}
	switch {
	case c.QueueSize == 0:
		c.QueueSize = DefaultQueueSize
	case c.QueueSize < 1:
		log.Errorf("config queue_size=%d too small, using 1", c.QueueSize)
		c.QueueSize = 1
	case c.QueueSize > MaxQueueSize:
		log.Errorf("config queue_size=%d too large, using %d", c.QueueSize, MaxQueueSize)
		c.QueueSize = MaxQueueSize
	}
	if c.DrainPerTick <= 0 || c.DrainPerTick > c.QueueSize {
		c.DrainPerTick = c.QueueSize
	}
	if c.ConnectTimeoutSec < 0 {
		log.Errorf("config connect_timeout_sec=%d invalid, using %v", c.ConnectTimeoutSec, DefaultConnectTimeout)
		c.ConnectTimeoutSec = int(DefaultConnectTimeout / time.Second)
	}
	if c.KeepaliveSec < 0 {
		log.Errorf("config keepalive_sec=%d invalid, using %v", c.KeepaliveSec, DefaultKeepalive)
		c.KeepaliveSec = int(DefaultKeepalive / time.Second)
	}
	if c.TickMs < 0 {
		log.Errorf("config tick_ms=%d invalid, using %v", c.TickMs, DefaultTick)
		c.TickMs = int(DefaultTick / time.Millisecond)
	}

	errs := make([]error, 0, 4)
	if c.Origin == "" {
		errs = append(errs, errors.NotValidf("config origin=%q", c.Origin))
	}
	if c.Region == "" {
		errs = append(errs, errors.NotValidf("config region=%q", c.Region))
	}
	if len(c.Brokers) > MaxBrokers {
		errs = append(errs, errors.NotValidf("config brokers=%d max=%d", len(c.Brokers), MaxBrokers))
	}
	return helpers.FoldErrors(errs)
}

func (c *Config) read(log *log2.Log, fs helpers.FullReader, source ConfigSource, errs *[]error) {
	norm := fs.Normalize(source.Name)
	if _, ok := c.includeSeen[norm]; ok {
		*errs = append(*errs, errors.Errorf("config duplicate source=%s", source.Name))
		return
	}
	log.Debugf("config reading source='%s' path=%s", source.Name, norm)
	c.includeSeen[source.Name] = struct{}{}
	c.includeSeen[norm] = struct{}{}

	bs, err := fs.ReadAll(norm)
	if bs == nil && err == nil {
		if !source.Optional {
			err = errors.NotFoundf("config required name=%s path=%s", source.Name, norm)
			*errs = append(*errs, err)
		}
		return
	}
	if err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config source=%s", source.Name))
		return
	}

	err = hcl.Unmarshal(bs, c)
	if err != nil {
		err = errors.Annotatef(err, "config unmarshal source=%s", source.Name)
		*errs = append(*errs, err)
		return
	}

	var brokers []Broker
	brokers, c.XXX_Broker = c.XXX_Broker, nil
	for _, b := range brokers {
		c.mergeBroker(b)
	}

	var includes []ConfigSource
	includes, c.XXX_Include = c.XXX_Include, nil
	for _, include := range includes {
		includeNorm := fs.Normalize(include.Name)
		if _, ok := c.includeSeen[includeNorm]; ok {
			err = errors.Errorf("config include loop: from=%s include=%s", source.Name, include.Name)
			*errs = append(*errs, err)
			continue
		}
		c.read(log, fs, include, errs)
	}
}

func (c *Config) mergeBroker(b Broker) {
	for i := range c.Brokers {
		if c.Brokers[i].Name == b.Name {
			c.Brokers[i] = b
			return
		}
	}
	c.Brokers = append(c.Brokers, b)
}

func ReadConfig(log *log2.Log, fs helpers.FullReader, names ...string) (*Config, error) {
	if len(names) == 0 {
		return nil, errors.Errorf("code error ReadConfig() without names")
	}

	if osfs, ok := fs.(*helpers.OsFullReader); ok {
		dir, name := filepath.Split(names[0])
		if err := osfs.SetBase(dir); err != nil {
			return nil, err
		}
		names[0] = name
	}
	c := &Config{
		includeSeen: make(map[string]struct{}),
	}
	errs := make([]error, 0, 8)
	for _, name := range names {
		c.read(log, fs, ConfigSource{Name: name}, &errs)
	}
	if err := helpers.FoldErrors(errs); err != nil {
		return c, err
	}
	return c, c.Validate(log)
}

func MustReadConfig(log *log2.Log, fs helpers.FullReader, names ...string) *Config {
	c, err := ReadConfig(log, fs, names...)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	return c
}

func boolDefault(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func stripQuotes(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '"' && s[len(s)-1] == '"' || s[0] == '\'' && s[len(s)-1] == '\'') {
		return s[1 : len(s)-1]
	}
	return s
}
