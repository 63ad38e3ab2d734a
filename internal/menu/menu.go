// SPDX-License-Identifier: MIT

// Package menu provides the interactive transport console primitives built
// on charmbracelet/huh: a loopable action menu plus confirm/select/input
// prompts. The kestrel command assembles the actual transport menu
// (play/pause/flush/volume per stream) from these.
package menu

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
)

// Item is a single menu action.
type Item struct {
	Key    string       // stable identifier, e.g. "play", "q"
	Label  string       // display label
	Action func() error // executed when selected; nil closes the menu
}

// Menu is a titled list of actions displayed in a loop until an item with
// a nil Action is chosen or an action returns ErrQuit.
type Menu struct {
	Title string
	Items []Item

	input      io.Reader
	output     io.Writer
	accessible bool
}

// ErrQuit is returned by an action to leave the menu loop.
var ErrQuit = fmt.Errorf("menu: quit")

// Option configures a Menu.
type Option func(*Menu)

// WithInput sets the input reader. Anything but os.Stdin switches the menu
// to plain scanner prompts, which is what the tests use.
func WithInput(r io.Reader) Option {
	return func(m *Menu) { m.input = r }
}

// WithOutput sets the output writer.
func WithOutput(w io.Writer) Option {
	return func(m *Menu) { m.output = w }
}

// WithAccessible enables huh's accessible mode for screen readers.
func WithAccessible(on bool) Option {
	return func(m *Menu) { m.accessible = on }
}

// New creates a menu.
func New(title string, opts ...Option) *Menu {
	m := &Menu{
		Title:  title,
		input:  os.Stdin,
		output: os.Stdout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Add appends an action.
func (m *Menu) Add(key, label string, action func() error) {
	m.Items = append(m.Items, Item{Key: key, Label: label, Action: action})
}

// Run displays the menu in a loop.
func (m *Menu) Run() error {
	for {
		item, err := m.pick()
		if err != nil {
			if err == huh.ErrUserAborted {
				return nil
			}
			return err
		}
		if item == nil || item.Action == nil {
			return nil
		}
		if err := item.Action(); err != nil {
			if err == ErrQuit {
				return nil
			}
			fmt.Fprintf(m.output, "error: %v\n", err)
		}
	}
}

// pick shows the menu once and returns the chosen item.
func (m *Menu) pick() (*Item, error) {
	if len(m.Items) == 0 {
		return nil, nil
	}
	if m.input != os.Stdin {
		return m.pickWithScanner()
	}

	options := make([]huh.Option[string], 0, len(m.Items))
	for _, item := range m.Items {
		options = append(options, huh.NewOption(item.Label, item.Key))
	}

	var choice string
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title(m.Title).
			Options(options...).
			Value(&choice),
	)).WithAccessible(m.accessible)

	if err := form.Run(); err != nil {
		return nil, err
	}
	return m.find(choice), nil
}

// pickWithScanner is the non-TTY fallback used by tests.
func (m *Menu) pickWithScanner() (*Item, error) {
	fmt.Fprintln(m.output, m.Title)
	for _, item := range m.Items {
		fmt.Fprintf(m.output, "  %s. %s\n", item.Key, item.Label)
	}
	fmt.Fprint(m.output, "> ")

	scanner := bufio.NewScanner(m.input)
	if !scanner.Scan() {
		return nil, nil
	}
	return m.find(strings.TrimSpace(scanner.Text())), nil
}

func (m *Menu) find(key string) *Item {
	for i := range m.Items {
		if m.Items[i].Key == key {
			return &m.Items[i]
		}
	}
	return nil
}

// Confirm asks a yes/no question.
func Confirm(r io.Reader, w io.Writer, prompt string) bool {
	if r != os.Stdin {
		fmt.Fprintf(w, "%s [y/N]: ", prompt)
		scanner := bufio.NewScanner(r)
		if !scanner.Scan() {
			return false
		}
		resp := strings.ToLower(strings.TrimSpace(scanner.Text()))
		return resp == "y" || resp == "yes"
	}

	var confirmed bool
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(prompt).
			Affirmative("Yes").
			Negative("No").
			Value(&confirmed),
	))
	if err := form.Run(); err != nil {
		return false
	}
	return confirmed
}

// Select presents options and returns the chosen index, or -1 on abort.
func Select(r io.Reader, w io.Writer, prompt string, options []string) int {
	if r != os.Stdin {
		fmt.Fprintln(w, prompt)
		for i, opt := range options {
			fmt.Fprintf(w, "  %d. %s\n", i+1, opt)
		}
		fmt.Fprint(w, "Selection: ")
		scanner := bufio.NewScanner(r)
		if !scanner.Scan() {
			return -1
		}
		var choice int
		if _, err := fmt.Sscanf(strings.TrimSpace(scanner.Text()), "%d", &choice); err != nil || choice < 1 || choice > len(options) {
			return -1
		}
		return choice - 1
	}

	var choice int
	huhOptions := make([]huh.Option[int], 0, len(options))
	for i, opt := range options {
		huhOptions = append(huhOptions, huh.NewOption(opt, i))
	}
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[int]().
			Title(prompt).
			Options(huhOptions...).
			Value(&choice),
	))
	if err := form.Run(); err != nil {
		return -1
	}
	return choice
}

// Input prompts for a line of text.
func Input(r io.Reader, w io.Writer, prompt string) string {
	if r != os.Stdin {
		fmt.Fprintf(w, "%s: ", prompt)
		scanner := bufio.NewScanner(r)
		if !scanner.Scan() {
			return ""
		}
		return strings.TrimSpace(scanner.Text())
	}

	var value string
	form := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title(prompt).
			Value(&value),
	))
	if err := form.Run(); err != nil {
		return ""
	}
	return value
}
