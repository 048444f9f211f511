package config_test

import (
	"errors"
	"testing"

	"github.com/okian/shareview/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.Store, convey.ShouldEqual, config.StoreSQLite)
			convey.So(cfg.DBPath, convey.ShouldEqual, "shareview.db")
			convey.So(cfg.BatchSize, convey.ShouldEqual, 100)
			convey.So(cfg.QueueSize, convey.ShouldEqual, 16)
			convey.So(cfg.AggregateStrategy, convey.ShouldEqual, "incremental")
			convey.So(cfg.SS58Prefix, convey.ShouldEqual, uint16(30))
			convey.So(cfg.PInstantWeight, convey.ShouldEqual, 2.0)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"an empty addr", func(c *config.Config) { c.Addr = "" }},
		{"an unknown store", func(c *config.Config) { c.Store = "pebble" }},
		{"a sqlite store without a path", func(c *config.Config) { c.DBPath = "" }},
		{"a zero batch size", func(c *config.Config) { c.BatchSize = 0 }},
		{"a negative queue size", func(c *config.Config) { c.QueueSize = -1 }},
		{"an unknown strategy", func(c *config.Config) { c.AggregateStrategy = "lazy" }},
		{"a zero default weight", func(c *config.Config) { c.DefaultConfidenceWeight = 0 }},
		{"a negative instant weight", func(c *config.Config) { c.PInstantWeight = -2 }},
		{"a non-positive level weight", func(c *config.Config) { c.ConfidenceWeights["9"] = 0 }},
	}

	for _, tc := range cases {
		convey.Convey("Given a config with "+tc.name, t, func() {
			cfg := config.New()
			tc.mutate(cfg)

			convey.Convey("Then validation fails with ErrInvalidConfig", func() {
				err := cfg.Validate()
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})
	}

	convey.Convey("Given the memory store without a path", t, func() {
		cfg := config.New()
		cfg.Store = config.StoreMemory
		cfg.DBPath = ""

		convey.Convey("Then the config is valid", func() {
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}
