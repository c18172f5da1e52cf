package app

import (
	"github.com/charmbracelet/bubbles/key"
	"github.com/kiwi-scanner/sdk/internal/scanner"
)

// KeyMap defines all keyboard bindings for the console.
type KeyMap struct {
	Prepare    key.Binding
	Start      key.Binding
	Finish     key.Binding
	Cancel     key.Binding
	Rescan     key.Binding
	Finalize   key.Binding
	ShowViewer key.Binding
	Countdown  key.Binding

	Up     key.Binding
	Down   key.Binding
	Events key.Binding
	Info   key.Binding
	Escape key.Binding
	Quit   key.Binding
}

// DefaultKeyMap returns the default key bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Prepare: key.NewBinding(
			key.WithKeys("p"),
			key.WithHelp("p", "prepare"),
		),
		Start: key.NewBinding(
			key.WithKeys("s"),
			key.WithHelp("s", "start"),
		),
		Finish: key.NewBinding(
			key.WithKeys("f"),
			key.WithHelp("f", "finish"),
		),
		Cancel: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "cancel"),
		),
		Rescan: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "rescan"),
		),
		Finalize: key.NewBinding(
			key.WithKeys("v"),
			key.WithHelp("v", "finalize"),
		),
		ShowViewer: key.NewBinding(
			key.WithKeys("o"),
			key.WithHelp("o", "viewer"),
		),
		Countdown: key.NewBinding(
			key.WithKeys("n"),
			key.WithHelp("n", "countdown"),
		),
		Up: key.NewBinding(
			key.WithKeys("k", "up"),
			key.WithHelp("k/↑", "scroll up"),
		),
		Down: key.NewBinding(
			key.WithKeys("j", "down"),
			key.WithHelp("j/↓", "scroll down"),
		),
		Events: key.NewBinding(
			key.WithKeys("e"),
			key.WithHelp("e", "event log"),
		),
		Info: key.NewBinding(
			key.WithKeys("i"),
			key.WithHelp("i", "stats & health"),
		),
		Escape: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "close overlay"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// commandBindings pairs each session command with its binding.
func (k KeyMap) commandBindings() []struct {
	binding key.Binding
	command scanner.Command
} {
	return []struct {
		binding key.Binding
		command scanner.Command
	}{
		{k.Prepare, scanner.CmdPrepare},
		{k.Start, scanner.CmdStart},
		{k.Finish, scanner.CmdFinish},
		{k.Cancel, scanner.CmdCancel},
		{k.Rescan, scanner.CmdRescan},
		{k.Finalize, scanner.CmdFinalize},
		{k.ShowViewer, scanner.CmdShowViewer},
		{k.Countdown, scanner.CmdCountdown},
	}
}
