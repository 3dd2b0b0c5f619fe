// Package httpsurface exposes a read-only HTTP diagnostic view over a
// running Sequencer and Collision Sentinel: configuration, raw motor
// position, enable state, the remaining move plan, and the metastate
// of both machines. A route-graph endpoint lists what is mounted, so
// supervisory tooling can discover the surface.
package httpsurface

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi"

	"github.com/nasa-jpl/pcu/motion"
	"github.com/nasa-jpl/pcu/position"
	"github.com/nasa-jpl/pcu/sentinel"
	"github.com/nasa-jpl/pcu/sequencer"
)

// Surface binds HTTP GET routes over one Sequencer/Sentinel pair
// sharing one motion.Controller. It never mutates state; commands
// still go through the channel.Surface the two machines consume.
type Surface struct {
	Sequencer   *sequencer.Sequencer
	Sentinel    *sentinel.Sentinel
	Controller  motion.Controller
	ValidMotors []string
}

var routes = []string{"/configuration", "/position", "/enabled", "/metastate", "/plan", "/route-graph"}

// Router returns a chi.Router with every diagnostic endpoint bound.
func (s *Surface) Router() chi.Router {
	r := chi.NewRouter()
	r.Get("/configuration", s.handleConfiguration)
	r.Get("/position", s.handlePosition)
	r.Get("/enabled", s.handleEnabled)
	r.Get("/metastate", s.handleMetastate)
	r.Get("/plan", s.handlePlan)
	r.Get("/route-graph", s.handleRouteGraph)
	return r
}

func (s *Surface) handleConfiguration(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{
		"configuration": s.Sequencer.Configuration(),
	})
}

func (s *Surface) handlePosition(w http.ResponseWriter, r *http.Request) {
	out := make(position.Position, len(s.ValidMotors))
	for _, m := range s.ValidMotors {
		v, err := motion.NewFacade(s.Controller, m).GetPosition()
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		out[m] = v
	}
	writeJSON(w, out)
}

func (s *Surface) handleEnabled(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]bool, len(s.ValidMotors))
	for _, m := range s.ValidMotors {
		v, err := motion.NewFacade(s.Controller, m).IsEnabled()
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		out[m] = v
	}
	writeJSON(w, out)
}

func (s *Surface) handleMetastate(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{
		"sequencer": s.Sequencer.State().String(),
		"sentinel":  s.Sentinel.State().String(),
	})
}

func (s *Surface) handlePlan(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Sequencer.Plan())
}

func (s *Surface) handleRouteGraph(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, routes)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}
