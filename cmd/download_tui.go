package cmd

import (
	"fmt"
	"path"
	"sort"

	"tts-cache/fetch"
	"tts-cache/ui"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// downloadDoneMsg is sent once the progress channel is closed.
type downloadDoneMsg struct{}

// transfer is the state of one download in flight.
type transfer struct {
	name    string
	attempt int
	read    int64
	size    int64
}

// DownloadModel controls the UI for the download command
type DownloadModel struct {
	spinner      spinner.Model
	progressChan chan fetch.Event

	// State
	status    string
	active    map[string]*transfer
	completed []string
	errors    []string
	done      bool

	// Counters
	totalStarted    int
	totalDownloaded int
	totalErrors     int
	totalBytes      int64
}

func initialDownloadModel() DownloadModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return DownloadModel{
		spinner:      s,
		progressChan: make(chan fetch.Event, 100), // Progress events are dropped when full
		status:       "Queueing missing assets...",
		active:       map[string]*transfer{},
		completed:    []string{},
		errors:       []string{},
	}
}

func (m DownloadModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.waitForActivity(),
	)
}

func (m DownloadModel) waitForActivity() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.progressChan
		if !ok {
			return downloadDoneMsg{}
		}
		return ev
	}
}

func (m DownloadModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		// If done, allow any key to exit
		if m.done {
			return m, tea.Quit
		}

	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case downloadDoneMsg:
		m.done = true
		m.status = "Finished"
		return m, tea.Quit

	case fetch.Event:
		m.apply(msg)
		return m, m.waitForActivity()
	}

	return m, nil
}

// apply folds one download event into the model.
func (m *DownloadModel) apply(ev fetch.Event) {
	switch ev.Kind {
	case fetch.EventInit:
		m.active[ev.URL] = &transfer{name: displayName(ev.URL), size: -1}
		m.totalStarted++
		m.status = fmt.Sprintf("Downloading %d assets...", len(m.active))

	case fetch.EventStarting:
		if t := m.active[ev.URL]; t != nil {
			t.attempt = ev.Attempt
		}

	case fetch.EventFileSize:
		if t := m.active[ev.URL]; t != nil {
			t.size = ev.Size
		}

	case fetch.EventProgress:
		if t := m.active[ev.URL]; t != nil {
			t.read = ev.Read
			if ev.Size >= 0 {
				t.size = ev.Size
			}
		}

	case fetch.EventSuccess:
		name := displayName(ev.URL)
		delete(m.active, ev.URL)
		m.completed = append(m.completed, fmt.Sprintf("%s (%s)", name, ui.Size(ev.Size)))
		m.totalDownloaded++
		m.totalBytes += ev.Size

	case fetch.EventError:
		delete(m.active, ev.URL)
		m.errors = append(m.errors, fmt.Sprintf("%s: %s", ev.URL, ev.Status))
		m.totalErrors++
	}
}

// displayName shortens a URL to its last path element.
func displayName(u string) string {
	if base := path.Base(u); base != "." && base != "/" {
		return base
	}
	return u
}

func (m DownloadModel) summary() string {
	return fmt.Sprintf("Downloaded %d of %d assets (%s), %d failed.",
		m.totalDownloaded, m.totalStarted, ui.Size(m.totalBytes), m.totalErrors)
}

func (m DownloadModel) View() string {
	var symbol string
	if m.done {
		symbol = ui.Success.Render("✓")
	} else {
		symbol = m.spinner.View()
	}

	s := fmt.Sprintf("\n %s %s\n\n", symbol, m.status)

	if len(m.active) > 0 {
		s += lipgloss.NewStyle().Bold(true).Render("Downloading:") + "\n"
		urls := make([]string, 0, len(m.active))
		for u := range m.active {
			urls = append(urls, u)
		}
		sort.Strings(urls)
		for _, u := range urls {
			t := m.active[u]
			line := fmt.Sprintf("  • %s  %s/%s", t.name, ui.Size(t.read), ui.Size(t.size))
			if t.attempt > 1 {
				line += ui.Faint.Render(fmt.Sprintf("  attempt %d", t.attempt))
			}
			s += line + "\n"
		}
		s += "\n"
	}

	if len(m.errors) > 0 {
		s += ui.Failure.Render("Errors:") + "\n"
		start := 0
		if len(m.errors) > 10 && !m.done {
			start = len(m.errors) - 10
		}
		for _, e := range m.errors[start:] {
			s += fmt.Sprintf("  • %s\n", e)
		}
		s += "\n"
	}

	// Show last few completed
	if len(m.completed) > 0 {
		s += ui.Success.Render("Completed:") + "\n"
		start := 0
		if len(m.completed) > 5 {
			start = len(m.completed) - 5
		}
		for i := start; i < len(m.completed); i++ {
			s += fmt.Sprintf("  • %s\n", m.completed[i])
		}
		s += "\n"
	}

	s += lipgloss.NewStyle().Bold(true).Render(m.summary()) + "\n"

	return s
}
