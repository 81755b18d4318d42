// Copyright (c) 2018 Haivision Systems Inc.
// See LICENSE for copying information.

package srt

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vidanio/srt-1.4.3/srtcore"
)

// Profile is a named set of option values, keyed by registry option name.
// Profiles let deployments express socket tuning as configuration files
// instead of code.
type Profile map[string]interface{}

// ProfileSet is the on-disk layout of a profile file:
//
//	profiles:
//	  live-broadcast:
//	    streamid: "camera-1"
//	    maxbw: 12500000
//	    lossmaxttl: 5
//	    latency: 200ms
type ProfileSet struct {
	Profiles map[string]Profile `yaml:"profiles"`
}

// OptionSetter is any socket-like target a profile can be applied to;
// both Conn and Listener satisfy it.
type OptionSetter interface {
	SetOptionValue(opt srtcore.SockOpt, v srtcore.Value) error
}

// LoadProfiles reads a YAML profile set.
func LoadProfiles(r io.Reader) (ProfileSet, error) {
	var set ProfileSet
	data, err := io.ReadAll(r)
	if err != nil {
		return set, err
	}
	if err := yaml.Unmarshal(data, &set); err != nil {
		return set, fmt.Errorf("parsing profiles: %w", err)
	}
	return set, nil
}

// LoadProfileFile reads a YAML profile set from a file.
func LoadProfileFile(path string) (ProfileSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return ProfileSet{}, err
	}
	defer func() { _ = f.Close() }()
	return LoadProfiles(f)
}

// Apply sets every option in the profile on the target. The first
// failure (unknown option name, bad value, lifecycle violation) aborts
// the application and is returned; options applied before it keep their
// new values.
func (p Profile) Apply(target OptionSetter) error {
	for name, raw := range p {
		d := srtcore.DescribeName(name)
		if d == nil {
			return fmt.Errorf("profile: unknown option %q", name)
		}
		v, err := profileValue(d, raw)
		if err != nil {
			return err
		}
		if err := target.SetOptionValue(d.Opt, v); err != nil {
			return fmt.Errorf("profile: %s: %w", name, err)
		}
	}
	return nil
}

func profileValue(d *srtcore.OptionDesc, raw interface{}) (srtcore.Value, error) {
	switch d.Kind {
	case srtcore.KindInt32:
		n, ok := profileInt(raw)
		if !ok {
			return srtcore.Value{}, fmt.Errorf("profile: %s: expected integer, got %T", d.Name, raw)
		}
		return srtcore.Int32Value(int32(n)), nil
	case srtcore.KindInt64:
		n, ok := profileInt(raw)
		if !ok {
			return srtcore.Value{}, fmt.Errorf("profile: %s: expected integer, got %T", d.Name, raw)
		}
		return srtcore.Int64Value(n), nil
	case srtcore.KindBool:
		b, ok := raw.(bool)
		if !ok {
			return srtcore.Value{}, fmt.Errorf("profile: %s: expected boolean, got %T", d.Name, raw)
		}
		return srtcore.BoolValue(b), nil
	case srtcore.KindDuration:
		switch t := raw.(type) {
		case string:
			dur, err := time.ParseDuration(t)
			if err != nil {
				return srtcore.Value{}, fmt.Errorf("profile: %s: %w", d.Name, err)
			}
			return srtcore.DurationValue(dur), nil
		default:
			// bare integers are milliseconds
			n, ok := profileInt(raw)
			if !ok {
				return srtcore.Value{}, fmt.Errorf("profile: %s: expected duration, got %T", d.Name, raw)
			}
			return srtcore.DurationValue(time.Duration(n) * time.Millisecond), nil
		}
	case srtcore.KindBytes:
		s, ok := raw.(string)
		if !ok {
			return srtcore.Value{}, fmt.Errorf("profile: %s: expected string, got %T", d.Name, raw)
		}
		return srtcore.StringValue(s), nil
	}
	return srtcore.Value{}, fmt.Errorf("profile: %s: unsupported kind", d.Name)
}

func profileInt(raw interface{}) (int64, bool) {
	switch t := raw.(type) {
	case int:
		return int64(t), true
	case int64:
		return t, true
	case uint64:
		return int64(t), true
	case float64:
		return int64(t), true
	}
	return 0, false
}
