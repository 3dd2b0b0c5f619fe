package config_test

import (
	"os"
	"path/filepath"
	"testing"

	yaml "gopkg.in/yaml.v2"

	"github.com/nasa-jpl/pcu/config"
	"github.com/nasa-jpl/pcu/position"
	"github.com/nasa-jpl/pcu/util"
)

func validDocument() config.Document {
	return config.Document{
		BaseConfigs: map[string]map[string]float64{
			"telescope":     {"m1": -276, "m2": 140, "m3": 0, "m4": 0},
			"telescope_sim": {"m1": 0, "m2": 50, "m3": 0, "m4": 0},
			"pinhole_mask":  {"m1": -173.375, "m2": 69, "m3": 20, "m4": 0},
			"fiber_bundle":  {"m1": -173.375, "m2": 0, "m3": 0, "m4": 20},
			"kpf_mirror":    {"m1": -193.706, "m2": 140, "m3": 0, "m4": 0},
		},
		FiberConfigs: map[string]map[string]float64{
			"fiber_bundle_offset": {"m1": -173.375, "m2": 5, "m3": 0, "m4": 20},
		},
		MaskConfigs: map[string]map[string]float64{
			"pinhole_mask_offset": {"m1": -173.375, "m2": 69, "m3": 20, "m4": 0},
		},
		Motors: config.MotorDoc{
			ValidMotors: []string{"m1", "m2", "m3", "m4"},
			Limits: map[string][2]float64{
				"m1": {-300, 50},
				"m2": {-10, 200},
				"m3": {0, 25},
				"m4": {0, 25},
			},
			Tolerance: map[string]float64{"m1": 0.01, "m2": 0.01, "m3": 0.01, "m4": 0.01},
		},
	}
}

func TestFromDocument_Valid(t *testing.T) {
	s, err := config.FromDocument(validDocument())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	all := s.All()
	if len(all) != 7 {
		t.Errorf("expected 7 configurations in the union, got %d", len(all))
	}
	if _, ok := s.Get("telescope"); !ok {
		t.Errorf("expected telescope to be present")
	}
}

func TestLoad_FromYAMLFile(t *testing.T) {
	raw, err := yaml.Marshal(validDocument())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	path := filepath.Join(t.TempDir(), "pcu.yaml")
	if err := os.WriteFile(path, raw, 0644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s, err := config.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s.All()) != 7 {
		t.Errorf("expected 7 configurations from the YAML document, got %d", len(s.All()))
	}
	if s.Geometry.Limits["m1"] != (util.Limiter{Min: -300, Max: 50}) {
		t.Errorf("unexpected m1 limit: %+v", s.Geometry.Limits["m1"])
	}
	// fiber_limits/mask_limits are written as 0 in the document, so the
	// fixed clearance radii apply.
	if s.Geometry.FiberRadius != position.ClearanceFiberMM {
		t.Errorf("expected default fiber radius, got %v", s.Geometry.FiberRadius)
	}
}

func TestLoad_MissingFileErrors(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatalf("expected an error for a missing configuration document")
	}
}

func TestFromDocument_UnknownMotorRejected(t *testing.T) {
	doc := validDocument()
	doc.BaseConfigs["telescope"]["m9"] = 1
	_, err := config.FromDocument(doc)
	if err == nil {
		t.Fatalf("expected an error for an unknown motor reference")
	}
}

func TestFromDocument_InvalidConfigurationRejected(t *testing.T) {
	doc := validDocument()
	doc.BaseConfigs["telescope"]["m1"] = -1000 // outside limits
	_, err := config.FromDocument(doc)
	if err == nil {
		t.Fatalf("expected an error for an out-of-limit configuration")
	}
}

func TestFromDocument_GeometryCentresFromBase(t *testing.T) {
	s, err := config.FromDocument(validDocument())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Geometry.FiberCenter != [2]float64{-173.375, 0} {
		t.Errorf("unexpected fiber centre: %+v", s.Geometry.FiberCenter)
	}
	if s.Geometry.MaskCenter != [2]float64{-173.375, 69} {
		t.Errorf("unexpected mask centre: %+v", s.Geometry.MaskCenter)
	}
}

func TestFromDocument_MissingFiberBundleBase(t *testing.T) {
	doc := validDocument()
	delete(doc.BaseConfigs, "fiber_bundle")
	_, err := config.FromDocument(doc)
	if err == nil {
		t.Fatalf("expected an error when fiber_bundle base configuration is missing")
	}
}

func TestFromDocument_UserConfigsExcludeBase(t *testing.T) {
	s, err := config.FromDocument(validDocument())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	user := s.UserConfigs()
	if _, ok := user["telescope"]; ok {
		t.Errorf("expected UserConfigs to exclude base configurations")
	}
	if _, ok := user["fiber_bundle_offset"]; !ok {
		t.Errorf("expected UserConfigs to include fiber-variant configurations")
	}
}
