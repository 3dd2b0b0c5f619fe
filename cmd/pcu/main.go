// Command pcu runs the PCU control core: the Sequencer and Collision
// Sentinel state machines as independent periodic tasks sharing one
// channel.Surface, plus a read-only HTTP diagnostic surface.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"golang.org/x/time/rate"

	"github.com/nasa-jpl/pcu/channel"
	"github.com/nasa-jpl/pcu/httpsurface"
	"github.com/nasa-jpl/pcu/logx"
	"github.com/nasa-jpl/pcu/motion"
	"github.com/nasa-jpl/pcu/position"
	"github.com/nasa-jpl/pcu/sentinel"
	"github.com/nasa-jpl/pcu/sequencer"
	"github.com/nasa-jpl/pcu/util"
)

const helpBlurb = `
Usage: pcu [CONFIGPATH] [HTTPADDR]
Example:
pcu pcu.yaml :8080

pcu.yaml describes the base/fiber/mask configurations and motor
metadata; see config.Document for its shape. HTTPADDR defaults to
:8080 and serves the read-only diagnostic surface (/configuration,
/position, /enabled, /metastate, /plan, /route-graph).

base_configs:
  telescope:     {m1: -276, m2: 140, m3: 0, m4: 0}
  telescope_sim: {m1: 0, m2: 50, m3: 0, m4: 0}
  pinhole_mask:  {m1: -173.375, m2: 69, m3: 20, m4: 0}
  fiber_bundle:  {m1: -173.375, m2: 0, m3: 0, m4: 20}
  kpf_mirror:    {m1: -193.706, m2: 140, m3: 0, m4: 0}
fiber_configs: {}
mask_configs: {}
motors:
  valid_motors: [m1, m2, m3, m4]
  limits:
    m1: [-300, 50]
    m2: [-10, 200]
    m3: [0, 25]
    m4: [0, 25]
  tolerance: {m1: 0.01, m2: 0.01, m3: 0.01, m4: 0.01}
`

var validMotors = []string{position.M1, position.M2, position.M3, position.M4}

func main() {
	if len(os.Args) == 1 || os.Args[1] == "help" {
		fmt.Print(helpBlurb)
		return
	}
	cfgPath := os.Args[1]
	addr := ":8080"
	if len(os.Args) > 2 {
		addr = os.Args[2]
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	surface := channel.New()
	controller := motion.NewChannelController(surface, validMotors)
	seq := sequencer.New("k1:ao:pcu", cfgPath, surface, controller)
	sen := sentinel.New("k1:ao:pcu:collisions", cfgPath, surface, controller)

	go runLoop(ctx, "sequencer", func() bool {
		seq.Tick()
		return seq.State() == sequencer.Terminate
	})
	go runLoop(ctx, "sentinel", func() bool {
		sen.Tick()
		return sen.State() == sentinel.Terminate
	})
	go watchConnectivity(ctx, surface)

	diag := &httpsurface.Surface{
		Sequencer:   seq,
		Sentinel:    sen,
		Controller:  controller,
		ValidMotors: validMotors,
	}
	srv := &http.Server{Addr: addr, Handler: diag.Router()}
	go func() {
		logx.Info("pcu: diagnostic surface listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logx.Critical("pcu: http server: %v", err)
		}
	}()

	<-ctx.Done()
	logx.Info("pcu: shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}

// runLoop ticks one state machine at the fixed TIME_DELAY cadence
// until ctx is cancelled or tick reports the machine has reached
// TERMINATE.
func runLoop(ctx context.Context, name string, tick func() (terminated bool)) {
	limiter := rate.NewLimiter(rate.Every(util.SecsToDuration(position.TickDelaySeconds)), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		if tick() {
			logx.Info("pcu: %s reached TERMINATE", name)
			return
		}
	}
}

// watchConnectivity periodically probes the channel surface and, on
// finding it disconnected, retries reconnection with backoff.
// Transport reconnect is automatic; state-machine recovery from the
// resulting FAULT/STOPPED state still requires an operator `reinit`.
func watchConnectivity(ctx context.Context, surface *channel.Surface) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if surface.Connected() {
				continue
			}
			logx.Warn("pcu: bus disconnected; attempting reconnect")
			if err := surface.Reconnect(func() error { return nil }); err != nil {
				logx.Critical("pcu: reconnect failed: %v", err)
				continue
			}
			logx.Info("pcu: bus reconnected; send reinit to resume")
		}
	}
}
