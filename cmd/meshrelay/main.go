package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/c-bata/go-prompt"
	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/temoto/meshrelay/helpers"
	"github.com/temoto/meshrelay/helpers/cli"
	"github.com/temoto/meshrelay/identity"
	irelay "github.com/temoto/meshrelay/internal/relay"
	"github.com/temoto/meshrelay/log2"
	"github.com/temoto/meshrelay/mesh"
	"github.com/temoto/meshrelay/message"
	relay_config "github.com/temoto/meshrelay/relay/config"
	"github.com/temoto/meshrelay/relay/mqtt"
)

const poolSlack = 16

var log = log2.NewStderr(log2.LInfo)

func main() {
	cmdline := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	configPath := cmdline.String("config", "meshrelay.hcl", "")
	framesPath := cmdline.String("frames", "-", "frame source file, - for stdin")
	debug := cmdline.Bool("debug", false, "")
	_ = cmdline.Parse(os.Args[1:])

	if sdnotify("start") {
		// we're under systemd, assume journal logging, remove timestamp
		log.SetFlags(log2.LServiceFlags)
	} else {
		log.SetFlags(log2.LInteractiveFlags)
	}

	fs, err := helpers.NewOsFullReader(".")
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	config := relay_config.MustReadConfig(log, fs, *configPath)
	if *debug || config.LogDebug {
		log.SetLevel(log2.LDebug)
	}
	mqtt.SetLibraryLog(log, config.MqttLogDebug)

	var id identity.Identity
	if config.IdentityFile != "" {
		if id, err = identity.LoadFile(fs, config.IdentityFile); err != nil {
			log.Errorf("identity load, analyzers disabled err=%v", errors.ErrorStack(err))
			id = nil
		}
	}

	pool := mesh.NewPool(config.QueueSize + irelay.DefaultIngestSize + poolSlack)
	started := time.Now()
	r, err := irelay.New(irelay.Options{
		Log:      log.Named("relay"),
		Config:   config,
		Dialer:   mqtt.NewDialer(log.Named("mqtt")),
		Releaser: pool,
		Clock:    message.NewClock(message.SystemClock{}, config.Timezone, log),
		Identity: id,
		Stats:    uptimeStats{started: started},
	})
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	service := irelay.NewService(log, r, irelay.ServiceOptions{Tick: config.Tick()})

	m := newMetrics(config.MetricsListen, r.Stat())
	if err := m.Start(); err != nil {
		log.Fatal(errors.ErrorStack(err))
	}

	for _, d := range r.Destinations() {
		log.Infof("destination name=%s analyzer=%t state=%s", d.Name, d.Analyzer, d.State)
	}
	service.Start()
	sdnotify(daemon.SdNotifyReady)
	log.Infof("running origin=%s region=%s", config.Origin, config.Region)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	sourceDone := make(chan error, 1)
	go func() { sourceDone <- readSource(*framesPath, pool, service, r, m) }()

	select {
	case s := <-sigCh:
		log.Infof("signal=%v", s)
	case err := <-sourceDone:
		if err != nil {
			log.Errorf("frame source err=%v", errors.ErrorStack(err))
		} else {
			log.Infof("frame source finished")
		}
	}
	sdnotify(daemon.SdNotifyStopping)
	service.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Stop(ctx); err != nil {
		log.Error(err)
	}
	if n := pool.Outstanding(); n != 0 {
		log.Errorf("packets leaked=%d", n)
	}
}

func readSource(path string, pool *mesh.Pool, service *irelay.Service, r *irelay.Relay, m *metrics) error {
	submit := func(f mesh.Frame) error {
		pkt, err := pool.AcquireDecode(f.Raw)
		if err != nil {
			m.invalidFrames.Inc()
			log.Errorf("frame decode err=%v", err)
			return nil
		}
		if f.Dir == mesh.DirectionRx && f.HasSignal {
			service.SubmitRaw(f.Raw, f.SNR, f.RSSI)
		}
		service.Submit(pkt, f.Dir)
		return nil
	}
	onInvalid := func(line string, err error) {
		m.invalidFrames.Inc()
		log.Errorf("frame line='%s' err=%v", line, err)
	}

	if path == "-" && cli.IsInteractive() {
		return cli.MainLoop("meshrelay", newExecutor(r, submit, onInvalid), newCompleter())
	}
	var src io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return errors.Annotatef(err, "frame source path=%s", path)
		}
		defer f.Close()
		src = f
	}
	return mesh.ReadFrames(helpers.NewStatReader(src, m.inputBytes, 0), submit, onInvalid)
}

const usage = `syntax:
- rx HEX [snr=F] [rssi=I]   received frame
- tx HEX                    transmitted frame
- stat                      relay counters
`

func newCompleter() func(d prompt.Document) []prompt.Suggest {
	suggests := []prompt.Suggest{
		{Text: "rx", Description: "received frame: rx HEX snr=F rssi=I"},
		{Text: "tx", Description: "transmitted frame: tx HEX"},
		{Text: "stat", Description: "relay counters"},
	}
	return func(d prompt.Document) []prompt.Suggest {
		return prompt.FilterHasPrefix(suggests, d.GetWordBeforeCursor(), true)
	}
}

func newExecutor(r *irelay.Relay, submit func(mesh.Frame) error, onInvalid func(string, error)) func(string) {
	return func(line string) {
		switch strings.TrimSpace(line) {
		case "":
			return
		case "help", "?":
			log.Infof(usage)
			return
		case "stat":
			log.Infof("stat %s", r.Stat().Snapshot().String())
			return
		}
		f, err := mesh.ParseFrame(line)
		if err != nil {
			onInvalid(line, err)
			return
		}
		_ = submit(f)
	}
}

// uptimeStats reports process uptime, board counters are unavailable.
type uptimeStats struct{ started time.Time }

func (u uptimeStats) Stats() message.Stats {
	s := message.UnavailableStats()
	s.UptimeSecs = int(time.Since(u.started) / time.Second)
	return s
}

func sdnotify(s string) bool {
	ok, err := daemon.SdNotify(false, s)
	if err != nil {
		log.Fatal("sdnotify: ", errors.ErrorStack(err))
	}
	return ok
}
