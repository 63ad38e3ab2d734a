// SPDX-License-Identifier: MIT

package menu

import (
	"strings"
	"testing"
)

func TestMenuRunsSelectedAction(t *testing.T) {
	var ran []string
	in := strings.NewReader("play\nq\n")
	var out strings.Builder

	m := New("transport", WithInput(in), WithOutput(&out))
	m.Add("play", "Play stream", func() error {
		ran = append(ran, "play")
		return nil
	})
	m.Add("q", "Quit", func() error { return ErrQuit })

	if err := m.Run(); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if len(ran) != 1 || ran[0] != "play" {
		t.Errorf("actions run = %v, want [play]", ran)
	}
	if !strings.Contains(out.String(), "Play stream") {
		t.Errorf("menu output missing label:\n%s", out.String())
	}
}

func TestMenuUnknownKeyCloses(t *testing.T) {
	in := strings.NewReader("bogus\n")
	m := New("transport", WithInput(in), WithOutput(&strings.Builder{}))
	m.Add("x", "Something", func() error {
		t.Error("action ran for an unknown key")
		return nil
	})
	if err := m.Run(); err != nil {
		t.Fatalf("Run() = %v", err)
	}
}

func TestMenuEmptyIsNoop(t *testing.T) {
	m := New("empty", WithInput(strings.NewReader("")), WithOutput(&strings.Builder{}))
	if err := m.Run(); err != nil {
		t.Fatalf("Run() on empty menu = %v", err)
	}
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"y\n", true},
		{"yes\n", true},
		{"Y\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}
	for _, tt := range tests {
		var out strings.Builder
		got := Confirm(strings.NewReader(tt.in), &out, "sure?")
		if got != tt.want {
			t.Errorf("Confirm(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSelect(t *testing.T) {
	options := []string{"alpha", "beta", "gamma"}

	tests := []struct {
		in   string
		want int
	}{
		{"1\n", 0},
		{"3\n", 2},
		{"4\n", -1},
		{"0\n", -1},
		{"x\n", -1},
		{"", -1},
	}
	for _, tt := range tests {
		var out strings.Builder
		got := Select(strings.NewReader(tt.in), &out, "pick", options)
		if got != tt.want {
			t.Errorf("Select(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestInput(t *testing.T) {
	var out strings.Builder
	if got := Input(strings.NewReader("  440  \n"), &out, "frequency"); got != "440" {
		t.Errorf("Input = %q, want 440", got)
	}
	if got := Input(strings.NewReader(""), &out, "frequency"); got != "" {
		t.Errorf("Input on EOF = %q, want empty", got)
	}
}
