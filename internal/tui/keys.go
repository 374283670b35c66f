package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Quit     key.Binding
	Help     key.Binding
	TabNext  key.Binding
	TabPrev  key.Binding
	Start    key.Binding
	Stop     key.Binding
	Proxy    key.Binding
	Update   key.Binding
	Identity key.Binding
	Use      key.Binding
	Ping     key.Binding
	PingAll  key.Binding
	Refresh  key.Binding
	Clear    key.Binding
}

var keys = keyMap{
	Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	Help:     key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
	TabNext:  key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "next tab")),
	TabPrev:  key.NewBinding(key.WithKeys("shift+tab"), key.WithHelp("shift+tab", "prev tab")),
	Start:    key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "start")),
	Stop:     key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "stop")),
	Proxy:    key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "system proxy")),
	Update:   key.NewBinding(key.WithKeys("u"), key.WithHelp("u", "update assets")),
	Identity: key.NewBinding(key.WithKeys("i"), key.WithHelp("i", "new identity")),
	Use:      key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "use profile")),
	Ping:     key.NewBinding(key.WithKeys("t"), key.WithHelp("t", "test latency")),
	PingAll:  key.NewBinding(key.WithKeys("T"), key.WithHelp("T", "test all")),
	Refresh:  key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
	Clear:    key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "clear logs")),
}

// ShortHelp returns a compact list for the help bar.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.TabNext, k.Start, k.Stop, k.Proxy, k.Update, k.Help, k.Quit}
}

// FullHelp returns grouped bindings for the expanded help view.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.TabNext, k.TabPrev, k.Refresh},
		{k.Start, k.Stop, k.Proxy, k.Update, k.Identity},
		{k.Use, k.Ping, k.PingAll, k.Clear},
		{k.Help, k.Quit},
	}
}
