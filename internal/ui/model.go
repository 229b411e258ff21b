package ui

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"go.uber.org/zap"

	"geonli-desk/internal/clipboard"
	"geonli-desk/internal/export"
	"geonli-desk/internal/highlight"
	"geonli-desk/internal/model"
	"geonli-desk/internal/store"
)

type inputMode int

const (
	modeNone inputMode = iota
	modeCompose
	modeImage
	modeSearch
	modeRename
	modeConfirmDelete
)

const sidebarStep = 2

type Model struct {
	app      *store.App
	exporter *export.Exporter
	log      *zap.Logger

	list     list.Model
	viewport viewport.Model
	help     help.Model
	spinner  spinner.Model
	input    textinput.Model
	keys     keyMap

	notify     <-chan struct{}
	stopNotify func()

	width  int
	height int

	focusOnList bool
	mode        inputMode
	booting     bool
	draft       string
	imageRef    string
	imageName   string
	targetID    string
	cursorID    string

	snapshot    store.MessagesSnapshot
	renderKey   string
	renderNonce int
	rendering   bool
	matchCount  int

	status string
	err    error
}

type bootstrapMsg struct{ err error }
type storeChangedMsg struct{}
type opMsg struct {
	status string
	err    error
}
type renderMsg struct {
	key      string
	rendered string
	nonce    int
}
type imageMsg struct {
	name    string
	dataURL string
	err     error
}

type sessionItem struct {
	s       model.Session
	project string
	query   string
	width   int
}

func (i sessionItem) Title() string {
	name := strings.TrimSpace(i.s.Name)
	if name == "" {
		name = i.s.ID
	}
	if i.query != "" {
		name, _ = highlight.Plain(name, i.query, func(s string) string { return searchMatchStyle.Render(s) })
	}
	if i.width > 0 {
		name = ansi.Truncate(name, i.width, "…")
	}
	return name
}

func (i sessionItem) Description() string {
	parts := []string{}
	if !i.s.UpdatedAt.IsZero() {
		parts = append(parts, i.s.UpdatedAt.Local().Format("Jan 2 15:04"))
	}
	if i.project != "" {
		parts = append(parts, "▪ "+i.project)
	}
	if i.s.Archived {
		parts = append(parts, "archived")
	}
	desc := strings.Join(parts, " | ")
	if i.width > 0 {
		desc = ansi.Truncate(desc, i.width, "…")
	}
	return desc
}

func (i sessionItem) FilterValue() string {
	return strings.ToLower(i.s.Name)
}

// NewModel builds the terminal front end over app. The exporter may be nil,
// which disables file export.
func NewModel(app *store.App, exp *export.Exporter, logger *zap.Logger) Model {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := list.New([]list.Item{}, list.NewDefaultDelegate(), store.DefaultSidebarWidth, 20)
	l.Title = "Analyses"
	l.SetShowFilter(false)
	l.SetFilteringEnabled(false)
	l.SetShowStatusBar(false)
	l.SetShowHelp(false)
	l.DisableQuitKeybindings()

	vp := viewport.New(60, 20)
	vp.SetContent("Connecting...")

	h := help.New()
	h.ShowAll = false

	sp := spinner.New()
	sp.Spinner = spinner.Points

	ti := textinput.New()
	ti.CharLimit = 4000

	notify, stop := app.Bus.Notify()

	return Model{
		app:         app,
		exporter:    exp,
		log:         logger.Named("ui"),
		list:        l,
		viewport:    vp,
		help:        h,
		spinner:     sp,
		input:       ti,
		keys:        defaultKeys(),
		notify:      notify,
		stopNotify:  stop,
		focusOnList: true,
		booting:     true,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.bootstrapCmd(), waitForChange(m.notify))
}

// Close detaches the model from the store bus.
func (m Model) Close() {
	if m.stopNotify != nil {
		m.stopNotify()
	}
}

func waitForChange(ch <-chan struct{}) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return storeChangedMsg{}
	}
}

func (m Model) bootstrapCmd() tea.Cmd {
	app := m.app
	return func() tea.Msg {
		return bootstrapMsg{err: app.Bootstrap(context.Background())}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()
		m.refresh()
		cmds = append(cmds, m.renderTranscript(true))

	case bootstrapMsg:
		m.booting = false
		if msg.err != nil {
			m.setErr("Could not reach the backend", msg.err)
		} else {
			m.status = fmt.Sprintf("Loaded %d analyses", m.app.Sessions.Count())
		}
		m.refresh()
		cmds = append(cmds, m.renderTranscript(false))

	case storeChangedMsg:
		m.refresh()
		cmds = append(cmds, m.renderTranscript(false), waitForChange(m.notify))

	case opMsg:
		if msg.err != nil {
			m.setErr(msg.status, msg.err)
		} else {
			m.err = nil
			m.status = msg.status
		}

	case imageMsg:
		if msg.err != nil {
			m.setErr("Could not attach image", msg.err)
			m.enterCompose(m.draft)
			break
		}
		m.imageRef, m.imageName = msg.dataURL, msg.name
		m.status = "Attached " + msg.name
		m.enterCompose(m.draft)

	case renderMsg:
		if msg.nonce != m.renderNonce {
			break
		}
		m.rendering = false
		m.setViewportContent(msg.rendered)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case tea.KeyMsg:
		if m.mode != modeNone {
			cmd := m.updateInput(msg)
			return m, cmd
		}
		return m.updateKeys(msg)
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) setErr(status string, err error) {
	m.err = err
	m.status = status
	if !errors.Is(err, model.ErrValidation) {
		m.log.Warn(status, zap.Error(err))
	}
}

func (m Model) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.Close()
		return m, tea.Quit
	case key.Matches(msg, m.keys.Tab):
		m.focusOnList = !m.focusOnList
		return m, nil
	case key.Matches(msg, m.keys.New):
		return m, m.createCmd()
	case key.Matches(msg, m.keys.Select):
		return m, m.selectCmd(m.currentSelectedID())
	case key.Matches(msg, m.keys.Compose):
		m.enterCompose(m.draft)
		return m, textinput.Blink
	case key.Matches(msg, m.keys.Rename):
		sess, ok := m.highlighted()
		if !ok {
			return m, nil
		}
		m.targetID = sess.ID
		m.startInput(modeRename, "rename: ", "Session name", sess.Name)
		return m, textinput.Blink
	case key.Matches(msg, m.keys.Archive):
		return m, m.archiveCmd()
	case key.Matches(msg, m.keys.ToggleArchived):
		show := m.app.UI.ToggleArchived()
		if show {
			m.status = "Showing archived analyses"
		} else {
			m.status = "Showing active analyses"
		}
		return m, nil
	case key.Matches(msg, m.keys.Delete):
		sess, ok := m.highlighted()
		if !ok {
			return m, nil
		}
		m.targetID = sess.ID
		m.mode = modeConfirmDelete
		return m, nil
	case key.Matches(msg, m.keys.Share):
		return m, m.shareCmd()
	case key.Matches(msg, m.keys.Export):
		return m, m.exportCmd()
	case key.Matches(msg, m.keys.Search):
		m.startInput(modeSearch, "/ ", "Search analyses...", m.app.UI.Filter().SearchText)
		return m, textinput.Blink
	case key.Matches(msg, m.keys.Project):
		return m, m.cycleProjectCmd()
	case key.Matches(msg, m.keys.Narrower):
		m.resizeSidebar(-sidebarStep)
		return m, m.renderTranscript(true)
	case key.Matches(msg, m.keys.Wider):
		m.resizeSidebar(sidebarStep)
		return m, m.renderTranscript(true)
	case key.Matches(msg, m.keys.Theme):
		return m, m.toggleThemeCmd()
	case key.Matches(msg, m.keys.Reload):
		return m, m.reloadCmd()
	}

	if m.focusOnList {
		prev := m.currentSelectedID()
		var cmd tea.Cmd
		m.list, cmd = m.list.Update(msg)
		if id := m.currentSelectedID(); id != prev {
			m.cursorID = id
		}
		return m, cmd
	}
	switch {
	case key.Matches(msg, m.keys.Up):
		m.viewport.LineUp(1)
	case key.Matches(msg, m.keys.Down):
		m.viewport.LineDown(1)
	case key.Matches(msg, m.keys.PageUp):
		m.viewport.HalfViewUp()
	case key.Matches(msg, m.keys.PageDown):
		m.viewport.HalfViewDown()
	}
	return m, nil
}

func (m *Model) startInput(mode inputMode, prompt, placeholder, value string) {
	m.mode = mode
	m.input.Prompt = prompt
	m.input.Placeholder = placeholder
	m.input.SetValue(value)
	m.input.CursorEnd()
	m.input.Focus()
}

func (m *Model) enterCompose(text string) {
	placeholder := "Ask about the image... (ctrl+o attach, enter send)"
	if m.imageName != "" {
		placeholder = "Describe what to evaluate in " + m.imageName
	}
	m.startInput(modeCompose, "> ", placeholder, text)
}

func (m *Model) leaveInput() {
	m.mode = modeNone
	m.targetID = ""
	m.input.Blur()
	m.input.SetValue("")
}

func (m *Model) updateInput(msg tea.KeyMsg) tea.Cmd {
	if m.mode == modeConfirmDelete {
		id := m.targetID
		m.leaveInput()
		if msg.String() == "y" || msg.String() == "Y" {
			return m.deleteCmd(id)
		}
		m.status = "Delete cancelled"
		return nil
	}

	switch msg.String() {
	case "esc":
		switch m.mode {
		case modeSearch:
			m.app.UI.SetSearchText("")
		case modeImage:
			m.leaveInput()
			m.enterCompose(m.draft)
			return nil
		case modeCompose:
			m.draft = m.input.Value()
		}
		m.leaveInput()
		return nil
	case "ctrl+o":
		if m.mode == modeCompose {
			m.draft = m.input.Value()
			m.startInput(modeImage, "image: ", "Path to an image file", "")
			return nil
		}
	case "enter":
		return m.submitInput()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if m.mode == modeSearch {
		m.app.UI.SetSearchText(m.input.Value())
	}
	return cmd
}

func (m *Model) submitInput() tea.Cmd {
	value := m.input.Value()
	mode, target := m.mode, m.targetID
	m.leaveInput()

	switch mode {
	case modeCompose:
		draft := model.Draft{Text: strings.TrimSpace(value), ImageRef: m.imageRef}
		if draft.Text == "" && draft.ImageRef == "" {
			m.status = "Nothing to send"
			return nil
		}
		m.draft, m.imageRef, m.imageName = "", "", ""
		return m.sendCmd(draft)
	case modeImage:
		path := strings.TrimSpace(value)
		if path == "" {
			m.enterCompose(m.draft)
			return nil
		}
		return attachCmd(path)
	case modeSearch:
		m.app.UI.SetSearchText(value)
		return nil
	case modeRename:
		return m.renameCmd(target, value)
	}
	return nil
}

func attachCmd(path string) tea.Cmd {
	return func() tea.Msg {
		dataURL, err := EncodeImage(path)
		return imageMsg{name: filepath.Base(path), dataURL: dataURL, err: err}
	}
}

func (m Model) createCmd() tea.Cmd {
	sessions := m.app.Sessions
	return func() tea.Msg {
		sess, err := sessions.Create(context.Background(), "")
		if err != nil {
			return opMsg{status: "Could not create analysis", err: err}
		}
		return opMsg{status: "Created " + sess.Name}
	}
}

func (m Model) selectCmd(id string) tea.Cmd {
	if id == "" {
		return nil
	}
	sessions := m.app.Sessions
	return func() tea.Msg {
		if err := sessions.SetActive(id); err != nil {
			return opMsg{status: "Could not open analysis", err: err}
		}
		return opMsg{}
	}
}

func (m Model) sendCmd(draft model.Draft) tea.Cmd {
	messages := m.app.Messages
	return func() tea.Msg {
		if _, err := messages.Send(context.Background(), draft); err != nil {
			return opMsg{status: "Send failed", err: err}
		}
		return opMsg{status: "Analysis received"}
	}
}

func (m Model) renameCmd(id, name string) tea.Cmd {
	if id == "" {
		return nil
	}
	sessions := m.app.Sessions
	return func() tea.Msg {
		sess, err := sessions.Rename(context.Background(), id, name)
		if err != nil {
			return opMsg{status: "Rename failed", err: err}
		}
		return opMsg{status: "Renamed to " + sess.Name}
	}
}

func (m Model) archiveCmd() tea.Cmd {
	sess, ok := m.highlighted()
	if !ok {
		return nil
	}
	sessions := m.app.Sessions
	return func() tea.Msg {
		if sess.Archived {
			if _, err := sessions.Unarchive(context.Background(), sess.ID); err != nil {
				return opMsg{status: "Unarchive failed", err: err}
			}
			return opMsg{status: "Restored " + sess.Name}
		}
		if _, err := sessions.Archive(context.Background(), sess.ID); err != nil {
			return opMsg{status: "Archive failed", err: err}
		}
		return opMsg{status: "Archived " + sess.Name}
	}
}

func (m Model) deleteCmd(id string) tea.Cmd {
	if id == "" {
		return nil
	}
	sessions := m.app.Sessions
	return func() tea.Msg {
		if err := sessions.Delete(context.Background(), id); err != nil {
			if errors.Is(err, model.ErrLastSession) {
				return opMsg{status: "Keep at least one active analysis", err: err}
			}
			return opMsg{status: "Delete failed", err: err}
		}
		return opMsg{status: "Deleted analysis"}
	}
}

func (m Model) shareCmd() tea.Cmd {
	sess, ok := m.highlighted()
	if !ok {
		return nil
	}
	sessions := m.app.Sessions
	return func() tea.Msg {
		link, err := sessions.Share(context.Background(), sess.ID)
		switch {
		case err == nil:
			return opMsg{status: "Share link copied: " + link}
		case link != "":
			if errors.Is(err, clipboard.ErrToolNotFound) {
				return opMsg{status: "Share link (no clipboard tool): " + link}
			}
			return opMsg{status: "Share link: " + link, err: err}
		}
		return opMsg{status: "Share failed", err: err}
	}
}

func (m Model) exportCmd() tea.Cmd {
	sess, ok := m.app.Sessions.Active()
	if !ok {
		return nil
	}
	if m.exporter == nil {
		return func() tea.Msg { return opMsg{status: "Export is not configured"} }
	}
	msgs := m.app.Messages.Messages()
	exp := m.exporter
	return func() tea.Msg {
		path, err := exp.Export(sess, msgs, export.FormatMarkdown)
		if err != nil {
			return opMsg{status: "Export failed", err: err}
		}
		return opMsg{status: "Exported: " + path}
	}
}

// cycleProjectCmd moves the highlighted session to the next project, and
// after the last one out of any project.
func (m Model) cycleProjectCmd() tea.Cmd {
	sess, ok := m.highlighted()
	if !ok {
		return nil
	}
	projects := m.app.Projects.Projects()
	if len(projects) == 0 {
		return func() tea.Msg { return opMsg{status: "No projects yet"} }
	}
	next := projects[0]
	detach := false
	for i, p := range projects {
		if p.ID != sess.ProjectID {
			continue
		}
		if i+1 < len(projects) {
			next = projects[i+1]
		} else {
			detach = true
		}
		break
	}
	sessions := m.app.Sessions
	return func() tea.Msg {
		target, label := next.ID, "Moved to "+next.Name
		if detach {
			target, label = "", "Removed from project"
		}
		if _, err := sessions.MoveToProject(context.Background(), sess.ID, target); err != nil {
			return opMsg{status: "Move failed", err: err}
		}
		return opMsg{status: label}
	}
}

func (m Model) toggleThemeCmd() tea.Cmd {
	ui := m.app.UI
	next := "light"
	if ui.State().Theme == "light" {
		next = "dark"
	}
	return func() tea.Msg {
		if err := ui.SetTheme(next); err != nil {
			return opMsg{status: "Theme not saved", err: err}
		}
		return opMsg{status: "Theme: " + next}
	}
}

func (m Model) reloadCmd() tea.Cmd {
	app := m.app
	return func() tea.Msg {
		if err := app.Bootstrap(context.Background()); err != nil {
			return opMsg{status: "Reload failed", err: err}
		}
		if id := app.Sessions.ActiveID(); id != "" {
			if err := app.Messages.Fetch(context.Background(), id); err != nil && !errors.Is(err, model.ErrNotActive) {
				return opMsg{status: "Reload failed", err: err}
			}
		}
		return opMsg{status: "Reloaded"}
	}
}

func (m *Model) resizeSidebar(delta int) {
	width, err := m.app.UI.SetSidebarWidth(m.app.UI.State().SidebarWidth + delta)
	if err != nil {
		m.setErr("Sidebar width not saved", err)
	}
	m.status = fmt.Sprintf("Sidebar %d", width)
	m.resize()
	m.refresh()
}

// refresh pulls the current store state into the list and the cached
// message snapshot.
func (m *Model) refresh() {
	f := m.app.UI.Filter()
	m.applySessions(m.app.Sessions.Visible(f), f.SearchText)
	m.snapshot = m.app.Messages.Snapshot()
}

func (m *Model) applySessions(in []model.Session, query string) {
	names := make(map[string]string)
	for _, p := range m.app.Projects.Projects() {
		names[p.ID] = p.Name
	}
	width := m.list.Width() - 4
	items := make([]list.Item, 0, len(in))
	for _, s := range in {
		items = append(items, sessionItem{s: s, project: names[s.ProjectID], query: query, width: width})
	}
	m.list.SetItems(items)
	if len(in) == 0 {
		m.cursorID = ""
		return
	}

	want := m.cursorID
	if want == "" {
		want = m.app.Sessions.ActiveID()
	}
	idx := 0
	for i, s := range in {
		if s.ID == want {
			idx = i
			break
		}
	}
	m.list.Select(idx)
	m.cursorID = in[idx].ID
}

func (m Model) currentSelectedID() string {
	item, ok := m.list.SelectedItem().(sessionItem)
	if !ok {
		return ""
	}
	return item.s.ID
}

func (m Model) highlighted() (model.Session, bool) {
	item, ok := m.list.SelectedItem().(sessionItem)
	if !ok {
		return model.Session{}, false
	}
	return item.s, true
}

func (m *Model) resize() {
	if m.width <= 0 || m.height <= 0 {
		return
	}
	left, right := m.paneWidths()

	bodyHeight := m.height - 3
	if bodyHeight < 8 {
		bodyHeight = 8
	}

	m.list.SetSize(left-2, bodyHeight-2)
	m.viewport.Width = right - 2
	m.viewport.Height = bodyHeight - 2
	m.input.Width = m.width - 12
}

func (m Model) paneWidths() (int, int) {
	left := m.app.UI.State().SidebarWidth
	if left > m.width-20 {
		left = m.width - 20
	}
	if left < store.MinSidebarWidth {
		left = store.MinSidebarWidth
	}
	right := m.width - left - 1
	if right < 20 {
		right = 20
	}
	return left, right
}

func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Starting..."
	}

	left, right := m.paneWidths()
	bodyHeight := m.height - 3
	leftPane := panelStyle(m.focusOnList).Width(left).Height(bodyHeight).Render(m.list.View())
	rightPane := panelStyle(!m.focusOnList).Width(right).Height(bodyHeight).Render(m.viewport.View())
	body := lipgloss.JoinHorizontal(lipgloss.Top, leftPane, rightPane)

	return lipgloss.JoinVertical(lipgloss.Left,
		m.statusLine(),
		body,
		m.inputLine(),
		m.help.View(m.keys),
	)
}

func (m Model) inputLine() string {
	switch m.mode {
	case modeNone:
		if m.imageName != "" {
			return "attached: " + m.imageName
		}
		if q := m.app.UI.Filter().SearchText; q != "" {
			return "search: " + q
		}
		return ""
	case modeConfirmDelete:
		name := m.targetID
		if sess, ok := m.app.Sessions.Get(m.targetID); ok {
			name = sess.Name
		}
		return confirmStyle.Render(fmt.Sprintf("Delete %q? y/N", name))
	}
	return m.input.View()
}

func (m Model) statusLine() string {
	var parts []string
	switch {
	case m.booting:
		parts = append(parts, m.spinner.View()+" connecting")
	case m.snapshot.Composing:
		parts = append(parts, m.spinner.View()+" analyzing")
	case m.snapshot.Loading:
		parts = append(parts, m.spinner.View()+" loading")
	}
	if sess, ok := m.app.Sessions.Active(); ok {
		parts = append(parts, fmt.Sprintf("%s  messages=%d", shorten(sess.Name, 32), len(m.snapshot.Messages)))
		if sess.ProjectID != "" {
			if p, ok := m.app.Projects.Get(sess.ProjectID); ok {
				parts = append(parts, "project="+p.Name)
			}
		}
	}
	if m.app.UI.Filter().ShowArchived {
		parts = append(parts, "[archived]")
	}
	if m.matchCount > 0 {
		parts = append(parts, fmt.Sprintf("[match %d]", m.matchCount))
	}
	if s := strings.TrimSpace(m.status); s != "" {
		parts = append(parts, shorten(s, 80))
	}
	if m.err != nil {
		parts = append(parts, "err="+m.err.Error())
	}
	line := strings.Join(parts, "  ")
	if m.width > 2 {
		line = ansi.Truncate(line, m.width-2, "…")
	}
	return statusStyle.Render(line)
}

func shorten(s string, n int) string {
	s = strings.TrimSpace(s)
	if ansi.StringWidth(s) <= n {
		return s
	}
	return ansi.Truncate(s, n, "...")
}

var (
	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Background(lipgloss.Color("24")).
			Padding(0, 1)
	searchMatchStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("16")).
				Background(lipgloss.Color("220"))
	confirmStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("203"))
)

func panelStyle(active bool) lipgloss.Style {
	border := lipgloss.NormalBorder()
	if active {
		return lipgloss.NewStyle().
			Border(border, true).
			BorderForeground(lipgloss.Color("39")).
			Padding(0, 1)
	}
	return lipgloss.NewStyle().
		Border(border, true).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)
}
