package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/afroash/baeder-monitor/internal/client"
	"github.com/afroash/baeder-monitor/internal/config"
	"github.com/afroash/baeder-monitor/internal/models"
)

type watchEnv struct {
	root     *rootEnv
	flagURL  string
	flagOnce bool
}

func getWatchCmd(root *rootEnv) *cobra.Command {
	env := &watchEnv{root: root}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow a running dashboard's live feed",
		Args:  cobra.NoArgs,
		RunE:  env.runWatchCmd,
	}
	cmd.Flags().StringVar(&env.flagURL, "url", "", "websocket URL (default derived from server.host and server.port)")
	cmd.Flags().BoolVar(&env.flagOnce, "once", false, "exit after the first readings update")
	return cmd
}

// feedURL derives the websocket endpoint of the configured server.
func feedURL(s config.ServerSettings) string {
	host := s.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	u := url.URL{Scheme: "ws", Host: net.JoinHostPort(host, strconv.Itoa(s.Port)), Path: "/ws"}
	return u.String()
}

// printer renders each readings update, using the units announced in hello.
type printer struct {
	out io.Writer

	mu     sync.Mutex
	unitOf map[models.SensorID]string
}

func (p *printer) hello(h models.HelloMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unitOf = units(h.Pools)
	fmt.Fprintf(p.out, "connected to %s as %s\n", h.Version, h.ClientID)
}

func (p *printer) readings(r models.ReadingsMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	fmt.Fprintf(p.out, "\n%s\n", now.Format(time.DateTime))
	renderReadings(p.out, r.Readings, p.unitOf, now)
}

func (p *printer) error(e models.ErrorMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "server error %s: %s\n", e.Code, e.Message)
}

func (e *watchEnv) runWatchCmd(cmd *cobra.Command, args []string) error {
	cfg, logger, err := e.root.load()
	if err != nil {
		return err
	}
	target := e.flagURL
	if target == "" {
		target = feedURL(cfg.Server)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	p := &printer{out: cmd.OutOrStdout()}
	handlers := client.Handlers{
		Hello: p.hello,
		Readings: func(r models.ReadingsMessage) {
			p.readings(r)
			if e.flagOnce {
				cancel()
			}
		},
		Error: p.error,
	}

	sub := client.NewSubscriber(client.SubscriberConfig{URL: target}, handlers, logger.With().Str("component", "watch").Logger())
	if err := sub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
