package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/sheetsync/internal/events"
	"github.com/desertthunder/sheetsync/internal/models"
	"github.com/desertthunder/sheetsync/internal/transfer"
)

// ViewState represents the current view in the TUI.
type ViewState int

const (
	SheetListView ViewState = iota
	ConfirmView
	TransferView
	ResultView
)

// SheetSource lists sheets with their tracks.
type SheetSource interface {
	ExportAllWithTracks(ctx context.Context) ([]models.Sheet, error)
}

// Transfers starts and cancels media transfers. [transfer.Queue] satisfies it.
type Transfers interface {
	Enqueue(ctx context.Context, tracks []models.Track, mode transfer.Mode) ([]models.MediaKey, error)
	Cancel(key models.MediaKey) bool
}

// Subscriber delivers bus events. [events.Bus] satisfies it.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string, handler events.Handler) (func(), error)
}

const eventBuffer = 64

// Model represents the TUI application state.
type Model struct {
	ctx    context.Context
	view   ViewState
	sheets SheetSource
	queue  Transfers
	bus    Subscriber
	width  int
	height int

	sheetList list.Model
	selected  *models.Sheet
	mode      transfer.Mode

	run         int
	runCtx      context.Context
	stop        context.CancelFunc
	unsubscribe func()
	events      chan transfer.Event

	rows     map[models.MediaKey]*transfer.Event
	order    []models.MediaKey
	cursor   int
	queued   bool
	expected int
	done     int
	skipped  int
	failures []transfer.Event

	bar  progress.Model
	err  error
	help help.Model
	keys keyMap
}

// NewModel creates a new TUI model with the provided dependencies.
func NewModel(ctx context.Context, sheets SheetSource, queue Transfers, bus Subscriber) *Model {
	return &Model{
		ctx:    ctx,
		view:   SheetListView,
		sheets: sheets,
		queue:  queue,
		bus:    bus,
		rows:   make(map[models.MediaKey]*transfer.Event),
		bar:    progress.New(progress.WithDefaultGradient()),
		help:   help.New(),
		keys:   newKeyMap(),
	}
}

// Init initializes the TUI by loading sheets from the store.
func (m *Model) Init() tea.Cmd {
	return m.fetchSheets()
}

// Close releases the bus subscription of the current run.
func (m *Model) Close() {
	if m.stop != nil {
		m.stop()
		m.stop = nil
	}
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
}

// Err returns the error that ended the session, if any.
func (m *Model) Err() error {
	return m.err
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.sheetList.SetSize(msg.Width-4, msg.Height-8)
		m.bar.Width = max(msg.Width-8, 10)
		return m, nil

	case tea.KeyMsg:
		switch m.view {
		case SheetListView:
			return m.handleSheetListKeys(msg)
		case ConfirmView:
			return m.handleConfirmKeys(msg)
		case TransferView:
			return m.handleTransferKeys(msg)
		case ResultView:
			return m.handleResultKeys(msg)
		}

	case Msg:
		return m.handleMsg(msg)
	}

	if m.view == SheetListView {
		var cmd tea.Cmd
		m.sheetList, cmd = m.sheetList.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) handleMsg(msg Msg) (tea.Model, tea.Cmd) {
	switch msg.kind {
	case MsgSheetsFetched:
		data := msg.data.(sheetsFetched)
		if data.err != nil {
			m.err = data.err
			return m, tea.Quit
		}
		items := make([]list.Item, len(data.sheets))
		for i, s := range data.sheets {
			items[i] = sheetItem{sheet: s}
		}
		w, h := m.width, m.height
		if w == 0 {
			w, h = 80, 24
		}
		m.sheetList = list.New(items, list.NewDefaultDelegate(), w-4, h-8)
		m.sheetList.Title = "Sheets"
		return m, nil

	case MsgTransferQueued:
		data := msg.data.(transferQueued)
		if data.run != m.run {
			if data.unsubscribe != nil {
				data.unsubscribe()
			}
			return m, nil
		}
		m.unsubscribe = data.unsubscribe
		if data.err != nil {
			m.err = data.err
			m.view = ResultView
			m.Close()
			return m, nil
		}
		m.queued = true
		m.expected = len(data.keys)
		m.checkComplete()
		return m, nil

	case MsgTransferEvent:
		data := msg.data.(transferEvent)
		if data.run != m.run {
			return m, nil
		}
		m.applyEvent(data.event)
		m.checkComplete()
		return m, waitForEvent(m.runCtx, m.run, m.events)

	case MsgEventsClosed:
		return m, nil
	}
	return m, nil
}

// applyEvent records ev as the latest state of its transfer.
func (m *Model) applyEvent(ev transfer.Event) {
	row, ok := m.rows[ev.Key]
	if !ok {
		row = &transfer.Event{}
		m.rows[ev.Key] = row
		m.order = append(m.order, ev.Key)
	}
	if row.State.IsTerminal() {
		return
	}
	*row = ev

	switch ev.State {
	case transfer.StateDone:
		m.done++
		if ev.Skipped {
			m.skipped++
		}
	case transfer.StateError:
		m.failures = append(m.failures, ev)
	}
}

func (m *Model) checkComplete() {
	if m.view != TransferView || !m.queued {
		return
	}
	if m.done+len(m.failures) >= m.expected {
		m.view = ResultView
		m.Close()
	}
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	if m.err != nil && m.view != ResultView {
		return styles.err.Render(fmt.Sprintf("Error: %v\n\nPress q to quit", m.err))
	}

	switch m.view {
	case SheetListView:
		return m.renderSheetList()
	case ConfirmView:
		return m.renderConfirm()
	case TransferView:
		return m.renderTransfer()
	case ResultView:
		return m.renderResult()
	default:
		return ""
	}
}

func (m *Model) handleSheetListKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.sheetList.FilterState() != list.Filtering {
		switch {
		case msg.String() == "ctrl+c" || msg.String() == "q":
			return m, tea.Quit
		case key.Matches(msg, m.keys.enter):
			if item, ok := m.sheetList.SelectedItem().(sheetItem); ok {
				sheet := item.sheet
				m.selected = &sheet
				m.view = ConfirmView
				return m, nil
			}
		}
	}

	var cmd tea.Cmd
	m.sheetList, cmd = m.sheetList.Update(msg)
	return m, cmd
}

func (m *Model) handleConfirmKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.back):
		m.view = SheetListView
		m.selected = nil
		return m, nil
	case key.Matches(msg, m.keys.download):
		return m, m.startTransfer(transfer.ModeDownload)
	case key.Matches(msg, m.keys.upload):
		return m, m.startTransfer(transfer.ModeDownloadThenUpload)
	}
	return m, nil
}

func (m *Model) handleTransferKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, m.keys.down):
		if m.cursor < len(m.order)-1 {
			m.cursor++
		}
	case key.Matches(msg, m.keys.cancel):
		if m.cursor < len(m.order) {
			return m, m.cancelTransfer(m.order[m.cursor])
		}
	}
	return m, nil
}

func (m *Model) handleResultKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.restart):
		m.Close()
		m.reset()
		m.view = SheetListView
		m.selected = nil
		m.err = nil
		return m, m.fetchSheets()
	}
	return m, nil
}

func (m *Model) reset() {
	m.rows = make(map[models.MediaKey]*transfer.Event)
	m.order = nil
	m.cursor = 0
	m.queued = false
	m.expected = 0
	m.done = 0
	m.skipped = 0
	m.failures = nil
}

func (m *Model) fetchSheets() tea.Cmd {
	return func() tea.Msg {
		sheets, err := m.sheets.ExportAllWithTracks(m.ctx)
		return sheetsFetchedMsg(sheets, err)
	}
}

// startTransfer subscribes to transfer status events, then enqueues the selected sheet.
//
// The subscription must exist before Enqueue so the waiting events of this run are seen.
func (m *Model) startTransfer(mode transfer.Mode) tea.Cmd {
	m.Close()
	m.reset()
	m.run++
	m.mode = mode
	m.view = TransferView

	ctx, stop := context.WithCancel(m.ctx)
	ch := make(chan transfer.Event, eventBuffer)
	m.runCtx, m.stop, m.events = ctx, stop, ch

	run := m.run
	tracks := m.selected.Tracks
	handler := func(e events.Event) {
		var ev transfer.Event
		if err := e.Decode(&ev); err != nil {
			return
		}
		select {
		case ch <- ev:
		case <-ctx.Done():
		}
	}

	enqueue := func() tea.Msg {
		unsubscribe, err := m.bus.Subscribe(ctx, events.TopicTransferStatus, handler)
		if err != nil {
			return transferQueuedMsg(run, nil, nil, err)
		}
		keys, err := m.queue.Enqueue(ctx, tracks, mode)
		return transferQueuedMsg(run, keys, unsubscribe, err)
	}
	return tea.Batch(enqueue, waitForEvent(ctx, run, ch))
}

func (m *Model) cancelTransfer(key models.MediaKey) tea.Cmd {
	return func() tea.Msg {
		m.queue.Cancel(key)
		return nil
	}
}

// waitForEvent delivers the next transfer event of run, or [MsgEventsClosed] once ctx ends.
func waitForEvent(ctx context.Context, run int, ch <-chan transfer.Event) tea.Cmd {
	return func() tea.Msg {
		select {
		case ev := <-ch:
			return transferEventMsg(run, ev)
		case <-ctx.Done():
			return eventsClosedMsg(run)
		}
	}
}

// overall is the mean progress across the run, counting finished transfers as complete.
func (m *Model) overall() float64 {
	n := max(m.expected, len(m.order))
	if n == 0 {
		return 0
	}
	var sum float64
	for _, k := range m.order {
		row := m.rows[k]
		if row.State.IsTerminal() {
			sum++
		} else {
			sum += row.Progress
		}
	}
	return sum / float64(n)
}

func (m *Model) renderSheetList() string {
	helpView := m.help.ShortHelpView([]key.Binding{m.keys.enter, m.keys.quit})
	return fmt.Sprintf("%s\n\n%s", m.sheetList.View(), helpView)
}

func (m *Model) renderConfirm() string {
	title := styles.title.Render(fmt.Sprintf("Transfer '%s'?", m.selected.Title))
	info := fmt.Sprintf("\nSheet: %s\nTracks: %d\n", m.selected.Title, len(m.selected.Tracks))
	helpView := m.help.ShortHelpView([]key.Binding{m.keys.download, m.keys.upload, m.keys.back, m.keys.quit})
	return fmt.Sprintf("%s\n%s\n%s", title, info, helpView)
}

func (m *Model) renderTransfer() string {
	var b strings.Builder
	b.WriteString(styles.title.Render(fmt.Sprintf("Transferring '%s' (%s)", m.selected.Title, m.mode)))
	b.WriteString("\n")
	b.WriteString(m.bar.ViewAs(m.overall()))
	b.WriteString(fmt.Sprintf("\n%d/%d finished\n\n", m.done+len(m.failures), max(m.expected, len(m.order))))

	first, last := m.visibleRows()
	for i := first; i < last; i++ {
		line := renderRow(m.rows[m.order[i]])
		if i == m.cursor {
			line = styles.sel.Render("> " + line)
		} else {
			line = "  " + line
		}
		b.WriteString(line + "\n")
	}

	b.WriteString("\n")
	b.WriteString(m.help.ShortHelpView([]key.Binding{m.keys.up, m.keys.down, m.keys.cancel, m.keys.quit}))
	return b.String()
}

// visibleRows returns the window of rows that fits the terminal and contains the cursor.
func (m *Model) visibleRows() (int, int) {
	n := len(m.order)
	height := m.height - 10
	if height <= 0 || n <= height {
		return 0, n
	}
	first := min(max(m.cursor-height/2, 0), n-height)
	return first, first + height
}

func renderRow(ev *transfer.Event) string {
	name := ev.Title
	if ev.Artist != "" {
		name = fmt.Sprintf("%s - %s", ev.Title, ev.Artist)
	}

	switch ev.State {
	case transfer.StateWaiting:
		return styles.help.Render(fmt.Sprintf("· %s", name))
	case transfer.StateDownloading:
		arrow := "↓"
		if ev.Phase == transfer.PhaseUpload {
			arrow = "↑"
		}
		return fmt.Sprintf("%s %s %3.0f%%", arrow, name, ev.Progress*100)
	case transfer.StateDone:
		if ev.Skipped {
			return styles.ok.Render(fmt.Sprintf("✓ %s (already backed up)", name))
		}
		return styles.ok.Render(fmt.Sprintf("✓ %s", name))
	case transfer.StateError:
		return styles.err.Render(fmt.Sprintf("✗ %s [%s]", name, ev.Kind))
	default:
		return name
	}
}

func (m *Model) renderResult() string {
	helpView := m.help.ShortHelpView([]key.Binding{m.keys.restart, m.keys.quit})
	if m.err != nil {
		return styles.err.Render(fmt.Sprintf("Transfer failed: %v", m.err)) + "\n\n" + helpView
	}

	if m.expected == 0 {
		return styles.warn.Render("Nothing to transfer") + "\n\n" + helpView
	}

	title := styles.ok.Render("✓ Transfer Complete!")
	info := fmt.Sprintf("\nCompleted: %d/%d\nAlready backed up: %d", m.done, m.expected, m.skipped)

	var failed string
	if len(m.failures) > 0 {
		failed = fmt.Sprintf("\n\n%s", styles.warn.Render(fmt.Sprintf("%d transfers failed:", len(m.failures))))
		for _, ev := range m.failures {
			failed += fmt.Sprintf("\n  • %s - %s: %s", ev.Artist, ev.Title, ev.Error)
		}
	}

	return fmt.Sprintf("%s\n%s%s\n\n%s", title, info, failed, helpView)
}
