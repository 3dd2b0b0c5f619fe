// Package config implements the Configuration Store: it loads the
// static document describing named PCU configurations and motor
// metadata, validates it per the position package's invariants, and
// exposes read-only accessors to the two state machines.
package config

import (
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/pkg/errors"

	"github.com/nasa-jpl/pcu/position"
	"github.com/nasa-jpl/pcu/util"
)

// Document is the on-disk shape of the configuration file: three
// mappings of named configurations plus one motor-metadata
// record.
type Document struct {
	BaseConfigs  map[string]map[string]float64 `yaml:"base_configs"`
	FiberConfigs map[string]map[string]float64 `yaml:"fiber_configs"`
	MaskConfigs  map[string]map[string]float64 `yaml:"mask_configs"`
	Motors       MotorDoc                      `yaml:"motors"`
}

// MotorDoc is the motor-metadata record of the configuration document.
type MotorDoc struct {
	ValidMotors []string             `yaml:"valid_motors"`
	Limits      map[string][2]float64 `yaml:"limits"`
	Tolerance   map[string]float64   `yaml:"tolerance"`
	FiberLimit  float64              `yaml:"fiber_limits"`
	MaskLimit   float64              `yaml:"mask_limits"`
}

func defaultDocument() Document {
	return Document{
		Motors: MotorDoc{
			ValidMotors: []string{position.M1, position.M2, position.M3, position.M4},
			FiberLimit:  position.ClearanceFiberMM,
			MaskLimit:   position.ClearancePMaskMM,
		},
	}
}

// Store holds the immutable configuration state loaded at
// initialization: the three named-configuration mappings (merged into
// All/User views) and the Geometry shared by the sequencer and
// sentinel.
type Store struct {
	Geometry position.Geometry

	base  map[string]position.NamedConfiguration
	fiber map[string]position.NamedConfiguration
	mask  map[string]position.NamedConfiguration
}

// Load reads and validates the configuration document at path.
// Defaults come from a structs provider; the on-disk YAML overrides
// them.
func Load(path string) (*Store, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(defaultDocument(), "yaml"), nil); err != nil {
		return nil, errors.Wrap(err, "loading configuration defaults")
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, errors.Wrapf(err, "loading configuration document %s", path)
	}

	var doc Document
	if err := k.UnmarshalWithConf("", &doc, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, errors.Wrap(err, "unmarshalling configuration document")
	}
	return FromDocument(doc)
}

// FromDocument builds and validates a Store directly from an
// already-decoded Document, without touching the filesystem. Useful
// for tests and for callers that assemble a Document programmatically.
func FromDocument(doc Document) (*Store, error) {
	validMotors := make(map[string]bool, len(doc.Motors.ValidMotors))
	for _, m := range doc.Motors.ValidMotors {
		validMotors[m] = true
	}

	limits := make(map[string]util.Limiter, len(doc.Motors.Limits))
	for m, lim := range doc.Motors.Limits {
		limits[m] = util.Limiter{Min: lim[0], Max: lim[1]}
	}

	fiberRadius := doc.Motors.FiberLimit
	if fiberRadius == 0 {
		fiberRadius = position.ClearanceFiberMM
	}
	maskRadius := doc.Motors.MaskLimit
	if maskRadius == 0 {
		maskRadius = position.ClearancePMaskMM
	}

	base, err := toNamedConfigurations(doc.BaseConfigs, position.ClassBase, validMotors)
	if err != nil {
		return nil, err
	}
	fiber, err := toNamedConfigurations(doc.FiberConfigs, position.ClassFiberVariant, validMotors)
	if err != nil {
		return nil, err
	}
	mask, err := toNamedConfigurations(doc.MaskConfigs, position.ClassMaskVariant, validMotors)
	if err != nil {
		return nil, err
	}

	fiberBase, ok := base["fiber_bundle"]
	if !ok {
		return nil, errors.New("configuration document missing base configuration \"fiber_bundle\"")
	}
	maskBase, ok := base["pinhole_mask"]
	if !ok {
		return nil, errors.New("configuration document missing base configuration \"pinhole_mask\"")
	}

	geom := position.Geometry{
		ValidMotors: validMotors,
		Limits:      limits,
		Tolerance:   doc.Motors.Tolerance,
		FiberCenter: [2]float64{fiberBase.Position[position.M1], fiberBase.Position[position.M2]},
		MaskCenter:  [2]float64{maskBase.Position[position.M1], maskBase.Position[position.M2]},
		FiberRadius: fiberRadius,
		MaskRadius:  maskRadius,
	}

	s := &Store{Geometry: geom, base: base, fiber: fiber, mask: mask}

	if err := s.validateUserConfigs(); err != nil {
		return nil, err
	}
	return s, nil
}

func toNamedConfigurations(raw map[string]map[string]float64, class position.Class, validMotors map[string]bool) (map[string]position.NamedConfiguration, error) {
	out := make(map[string]position.NamedConfiguration, len(raw))
	for name, vals := range raw {
		pos := make(position.Position, len(vals))
		for m, v := range vals {
			if !validMotors[m] {
				return nil, position.ErrUnknownMotor{Config: name, Motor: m}
			}
			pos[m] = v
		}
		out[name] = position.NamedConfiguration{Name: name, Class: class, Position: pos}
	}
	return out, nil
}

// validateUserConfigs checks every loaded configuration against
// Geometry.IsValid: a named configuration that is itself invalid
// fails initialization of the owning machine.
func (s *Store) validateUserConfigs() error {
	var errs []error
	for _, set := range []map[string]position.NamedConfiguration{s.base, s.fiber, s.mask} {
		for name, cfg := range set {
			if !s.Geometry.IsValid(cfg.Position) {
				errs = append(errs, position.ErrInvalidConfiguration{Config: name})
			}
		}
	}
	if merged := util.MergeErrors(errs); merged != nil {
		return errors.Wrap(merged, "configuration store validation failed")
	}
	return nil
}

// All returns the union of base, fiber-variant, and mask-variant
// configurations, keyed by name.
func (s *Store) All() map[string]position.NamedConfiguration {
	return union(s.base, s.fiber, s.mask)
}

// UserConfigs returns the union of fiber-variant and mask-variant
// configurations: the destinations an operator may dither within.
func (s *Store) UserConfigs() map[string]position.NamedConfiguration {
	return union(s.fiber, s.mask)
}

// Get returns the named configuration, if any.
func (s *Store) Get(name string) (position.NamedConfiguration, bool) {
	all := s.All()
	cfg, ok := all[name]
	return cfg, ok
}

func union(maps ...map[string]position.NamedConfiguration) map[string]position.NamedConfiguration {
	out := map[string]position.NamedConfiguration{}
	for _, m := range maps {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}
