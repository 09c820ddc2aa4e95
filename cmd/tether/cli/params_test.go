// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"testing"
	"time"
)

func TestBindFlagsTypes(t *testing.T) {
	type params struct {
		Team    string        `flag:"team,t" desc:"team name"`
		Port    int           `flag:"port" default:"7111"`
		Persist bool          `flag:"persist"`
		Wait    time.Duration `flag:"wait" default:"5s"`
		Tags    []string      `flag:"tags"`
	}

	var p params
	flagSet := FlagsFromParams("test", &p)
	if err := flagSet.Parse([]string{"-t", "platform", "--persist", "--wait", "1m", "--tags", "a,b"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if p.Team != "platform" || !p.Persist {
		t.Errorf("params = %+v", p)
	}
	if p.Port != 7111 {
		t.Errorf("Port = %d, want default 7111", p.Port)
	}
	if p.Wait != time.Minute {
		t.Errorf("Wait = %v", p.Wait)
	}
	if len(p.Tags) != 2 || p.Tags[0] != "a" {
		t.Errorf("Tags = %v", p.Tags)
	}
}

func TestBindFlagsEmbedded(t *testing.T) {
	type params struct {
		JSONOutput
		Team string `flag:"team"`
	}

	var p params
	flagSet := FlagsFromParams("test", &p)
	if err := flagSet.Parse([]string{"--json"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !p.OutputJSON {
		t.Error("embedded --json flag not bound")
	}
}

func TestBindFlagsRejectsNonPointer(t *testing.T) {
	type params struct{}
	if err := BindFlags(params{}, nil); err == nil {
		t.Error("expected error for non-pointer params")
	}
}

func TestBindFlagsUnsupportedType(t *testing.T) {
	type params struct {
		Bad float32 `flag:"bad"`
	}
	var p params
	defer func() {
		if recover() == nil {
			t.Error("expected panic for unsupported field type")
		}
	}()
	FlagsFromParams("test", &p)
}
