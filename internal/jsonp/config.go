package jsonp

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Defaults applied by Resolve to fields no scope has set.
const (
	DefaultInputType  = "application/json"
	DefaultOutputType = "application/x-javascript"
)

// Options is one configuration scope as written in the config file.
// Unset fields (nil pointers, empty InputTypes) inherit from the parent scope.
type Options struct {
	Get         *bool    `yaml:"get"          json:"get,omitempty"`
	CallbackArg *string  `yaml:"callback_arg" json:"callback_arg,omitempty"`
	InputTypes  []string `yaml:"input_types"  json:"input_types,omitempty"`
	OutputType  *string  `yaml:"output_type"  json:"output_type,omitempty"`
}

// Merge returns the effective options of child nested inside parent.
func Merge(parent, child Options) Options {
	out := child
	if out.Get == nil {
		out.Get = parent.Get
	}
	if out.CallbackArg == nil {
		out.CallbackArg = parent.CallbackArg
	}
	if len(out.InputTypes) == 0 {
		out.InputTypes = parent.InputTypes
	}
	if out.OutputType == nil {
		out.OutputType = parent.OutputType
	}
	return out
}

// Config is the resolved, immutable JSONP configuration of one route.
type Config struct {
	GetEnabled  bool     `json:"get"`
	CallbackArg string   `json:"callback_arg"`
	InputTypes  []string `json:"input_types"`
	OutputType  string   `json:"output_type"`
	matchAll    bool
}

// Resolve fills defaults and validates the content-type patterns.
func (o Options) Resolve() (*Config, error) {
	cfg := &Config{
		InputTypes: []string{DefaultInputType},
		OutputType: DefaultOutputType,
	}
	if o.Get != nil {
		cfg.GetEnabled = *o.Get
	}
	if o.CallbackArg != nil {
		cfg.CallbackArg = *o.CallbackArg
	}
	if o.OutputType != nil && *o.OutputType != "" {
		cfg.OutputType = *o.OutputType
	}
	if len(o.InputTypes) > 0 {
		cfg.InputTypes = make([]string, 0, len(o.InputTypes))
		for _, p := range o.InputTypes {
			p = strings.ToLower(strings.TrimSpace(p))
			if p == "*" {
				cfg.matchAll = true
			} else if !doublestar.ValidatePattern(p) {
				return nil, fmt.Errorf("jsonp: invalid input type pattern %q", p)
			}
			cfg.InputTypes = append(cfg.InputTypes, p)
		}
	}
	return cfg, nil
}

// MatchType reports whether a Content-Type header value matches one of the
// input type patterns. Media type parameters are ignored.
func (c *Config) MatchType(contentType string) bool {
	mt, _, _ := strings.Cut(contentType, ";")
	mt = strings.ToLower(strings.TrimSpace(mt))
	if mt == "" {
		return false
	}
	if c.matchAll {
		return true
	}
	for _, p := range c.InputTypes {
		if ok, _ := doublestar.Match(p, mt); ok {
			return true
		}
	}
	return false
}
