// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/peterh/liner"

	"github.com/jeranaias/glossa/internal/config"
	"github.com/jeranaias/glossa/internal/document"
	"github.com/jeranaias/glossa/internal/engine"
	"github.com/jeranaias/glossa/internal/model"
	"github.com/jeranaias/glossa/internal/notify"
	"github.com/jeranaias/glossa/internal/stream"
)

// followPoll is how often a followed stream is re-read when no change
// notification arrives.
const followPoll = 200 * time.Millisecond

// followTail is how many lines of a streaming reply the live view shows.
const followTail = 10

// =============================================================================
// LINE PARSING
// =============================================================================

// shellCommand is one parsed shell line.
type shellCommand struct {
	name   string // chat, explain, new, switch, rm, sessions, open, help, quit
	text   string
	style  string
	anchor *model.HighlightRef
	index  int
}

var errUsage = errors.New("usage")

// parseLine parses one line typed into the shell. An empty line yields a
// command with an empty name.
func parseLine(line string) (shellCommand, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return shellCommand{}, nil
	}
	if !strings.HasPrefix(line, "/") {
		return shellCommand{name: "chat", text: line}, nil
	}

	name, rest, _ := strings.Cut(line[1:], " ")
	rest = strings.TrimSpace(rest)

	switch name {
	case "explain", "e":
		return parseExplain(rest)
	case "new":
		return shellCommand{name: "new"}, nil
	case "switch", "rm":
		n, err := strconv.Atoi(rest)
		if err != nil || n < 1 {
			return shellCommand{}, fmt.Errorf("%w: /%s <n> (n is a session number from /sessions)", errUsage, name)
		}
		return shellCommand{name: name, index: n}, nil
	case "sessions", "ls":
		return shellCommand{name: "sessions"}, nil
	case "open":
		if rest == "" {
			return shellCommand{}, fmt.Errorf("%w: /open <path>", errUsage)
		}
		return shellCommand{name: "open", text: rest}, nil
	case "help", "?":
		return shellCommand{name: "help"}, nil
	case "quit", "exit", "q":
		return shellCommand{name: "quit"}, nil
	default:
		return shellCommand{}, fmt.Errorf("unknown command /%s (try /help)", name)
	}
}

// parseExplain parses "<style> [@page:start-end] :: <text>".
func parseExplain(rest string) (shellCommand, error) {
	usage := fmt.Errorf("%w: /explain <style> [@page:start-end] :: <text>", errUsage)

	head, text, found := strings.Cut(rest, "::")
	text = strings.TrimSpace(text)
	if !found || text == "" {
		return shellCommand{}, usage
	}

	cmd := shellCommand{name: "explain", text: text}
	fields := strings.Fields(head)
	if n := len(fields); n > 0 && strings.HasPrefix(fields[n-1], "@") {
		ref, err := parseAnchor(fields[n-1][1:])
		if err != nil {
			return shellCommand{}, usage
		}
		ref.Text = text
		cmd.anchor = &ref
		fields = fields[:n-1]
	}
	cmd.style = strings.Join(fields, " ")
	return cmd, nil
}

// parseAnchor parses "page:start-end".
func parseAnchor(s string) (model.HighlightRef, error) {
	pageStr, span, ok := strings.Cut(s, ":")
	if !ok {
		return model.HighlightRef{}, errUsage
	}
	startStr, endStr, ok := strings.Cut(span, "-")
	if !ok {
		return model.HighlightRef{}, errUsage
	}
	page, err1 := strconv.Atoi(pageStr)
	start, err2 := strconv.Atoi(startStr)
	end, err3 := strconv.Atoi(endStr)
	if err := errors.Join(err1, err2, err3); err != nil || start > end || page < 0 || start < 0 {
		return model.HighlightRef{}, errUsage
	}
	return model.HighlightRef{Page: page, Start: start, End: end}, nil
}

// =============================================================================
// SHELL
// =============================================================================

// lineReader reads one line of input. *liner.State satisfies it.
type lineReader interface {
	Prompt(prompt string) (string, error)
}

// shell is the interactive reader shell of the open command.
type shell struct {
	eng *engine.Engine
	cfg *config.Config
	out io.Writer
	// live shows streaming replies in a redrawn view and renders finalized
	// assistant messages with glamour. Otherwise fragments are written raw.
	live bool
}

func newShell(eng *engine.Engine, cfg *config.Config, out io.Writer, live bool) *shell {
	return &shell{eng: eng, cfg: cfg, out: out, live: live}
}

// run reads lines until /quit, end of input or ctx is done.
func (s *shell) run(ctx context.Context, in lineReader) error {
	fmt.Fprintln(s.out, RenderConditional(DimStyle, "Type a message to chat, /help for commands."))
	for {
		line, err := in.Prompt(RenderConditional(PromptStyle, "glossa> "))
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Fprintln(s.out)
				return nil
			}
			return err
		}

		cmd, err := parseLine(line)
		if err != nil {
			s.printError(err)
			continue
		}
		if cmd.name == "" {
			continue
		}

		quit, err := s.execute(ctx, cmd)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			s.printError(err)
		}
		if quit {
			return nil
		}
	}
}

func (s *shell) execute(ctx context.Context, cmd shellCommand) (bool, error) {
	switch cmd.name {
	case "chat":
		h, err := s.eng.SendChatMessage(ctx, cmd.text)
		if err != nil {
			return false, err
		}
		return false, s.follow(ctx, h)

	case "explain":
		var opts []engine.ExplainOption
		if cmd.anchor != nil {
			opts = append(opts, engine.WithHighlight(*cmd.anchor))
		}
		h, err := s.eng.RequestExplanation(ctx, cmd.text, s.cfg.StylePrompt(cmd.style), opts...)
		if err != nil {
			return false, err
		}
		return false, s.follow(ctx, h)

	case "new":
		sess, err := s.eng.NewSession()
		if err != nil {
			return false, err
		}
		fmt.Fprintf(s.out, "%s %s\n", RenderConditional(SuccessStyle, "Now in"), sess.Title)

	case "switch":
		id, err := s.sessionAt(cmd.index)
		if err != nil {
			return false, err
		}
		if err := s.eng.SwitchSession(id); err != nil {
			return false, err
		}
		s.printCurrent()

	case "rm":
		id, err := s.sessionAt(cmd.index)
		if err != nil {
			return false, err
		}
		if err := s.eng.RemoveSession(id); err != nil {
			return false, err
		}
		s.printSessions()

	case "sessions":
		s.printSessions()

	case "open":
		return false, s.open(ctx, cmd.text)

	case "help":
		fmt.Fprintln(s.out, shellHelp)

	case "quit":
		return true, nil
	}
	return false, nil
}

const shellHelp = `Commands:
  <text>                                   chat in the current session
  /explain <style> [@page:start-end] :: <text>
                                           explain a passage (styles: explain, summarize, simplify, define, translate)
  /new                                     start or reuse an empty session
  /switch <n>                              make session n current
  /rm <n>                                  remove session n
  /sessions                                list sessions
  /open <path>                             open another document
  /quit                                    leave`

// open makes path the open document and prints its current session.
func (s *shell) open(ctx context.Context, path string) error {
	key, err := s.eng.OpenDocument(ctx, path)
	if err != nil {
		return err
	}
	snap, err := s.eng.Snapshot()
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%s %s %s\n",
		RenderConditional(TitleStyle, document.DisplayName(key)),
		RenderConditional(DimStyle, key),
		RenderConditional(DimStyle, fmt.Sprintf("(%d sessions)", len(snap.Sessions))))
	s.printCurrent()
	return nil
}

func (s *shell) sessionAt(n int) (string, error) {
	snap, err := s.eng.Snapshot()
	if err != nil {
		return "", err
	}
	if n < 1 || n > len(snap.Sessions) {
		return "", fmt.Errorf("no session %d (there are %d)", n, len(snap.Sessions))
	}
	return snap.Sessions[n-1].ID, nil
}

// =============================================================================
// STREAM FOLLOWING
// =============================================================================

// follow prints the message h writes into until it is finalized.
func (s *shell) follow(ctx context.Context, h stream.Handle) error {
	fmt.Fprintln(s.out, RenderConditional(AssistantStyle, model.RoleAssistant.DisplayName()))

	sub, err := s.eng.Subscribe(ctx)
	if err != nil {
		return err
	}
	defer sub.Close()

	fm := &followModel{
		lookup: func() (model.Message, bool) { return s.message(h) },
		sub:    sub,
	}
	opts := []tea.ProgramOption{
		tea.WithContext(ctx),
		tea.WithInput(nil),
		tea.WithOutput(s.out),
		tea.WithoutSignalHandler(),
	}
	if !s.live {
		fm.emit = func(text string) { fmt.Fprint(s.out, text) }
		opts = append(opts, tea.WithoutRenderer())
	}

	if _, err := tea.NewProgram(fm, opts...).Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	if fm.gone {
		fmt.Fprintln(s.out)
		return nil
	}
	s.finish(fm.msg, fm.printed)
	return nil
}

// pollMsg asks a followModel to re-read its message.
type pollMsg struct{}

func pollCmd() tea.Cmd {
	return tea.Tick(followPoll, func(time.Time) tea.Msg { return pollMsg{} })
}

// followModel tracks one streamed message until it is finalized or
// disappears. Change notifications and a poll tick both trigger a re-read.
type followModel struct {
	lookup func() (model.Message, bool)
	sub    *notify.Subscription
	// emit receives each new fragment. Nil when a live view is shown.
	emit func(string)

	msg     model.Message
	printed int
	done    bool
	gone    bool
}

func (m *followModel) Init() tea.Cmd {
	m.refresh()
	if m.done || m.gone {
		return tea.Quit
	}
	return tea.Batch(notify.WaitCmd(m.sub), pollCmd())
}

func (m *followModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var next tea.Cmd
	switch msg.(type) {
	case notify.ChangeMsg:
		next = notify.WaitCmd(m.sub)
	case notify.ClosedMsg:
		// The poll tick keeps running.
	case pollMsg:
		next = pollCmd()
	default:
		return m, nil
	}

	m.refresh()
	if m.done || m.gone {
		return m, tea.Quit
	}
	return m, next
}

// View is the live frame. The final frame is a rule since an empty frame
// leaves the previous one on screen.
func (m *followModel) View() string {
	switch {
	case m.done || m.gone:
		return RenderSeparator()
	case m.msg.ID == "" || m.msg.IsPlaceholder():
		return RenderConditional(DimStyle, model.PlaceholderText)
	}
	lines := strings.Split(strings.TrimRight(m.msg.Content, "\n"), "\n")
	if len(lines) > followTail {
		lines = lines[len(lines)-followTail:]
	}
	return strings.Join(lines, "\n")
}

func (m *followModel) refresh() {
	msg, ok := m.lookup()
	if !ok {
		m.gone = true
		return
	}
	m.msg = msg
	if m.emit != nil && !msg.IsPlaceholder() && !msg.IsError && len(msg.Content) > m.printed {
		m.emit(msg.Content[m.printed:])
		m.printed = len(msg.Content)
	}
	m.done = !msg.Streaming
}

// finish prints the end of a finalized message.
func (s *shell) finish(msg model.Message, printed int) {
	switch {
	case msg.IsError:
		if printed > 0 {
			fmt.Fprintln(s.out)
		}
		s.printFailure(msg)
	case s.live:
		fmt.Fprint(s.out, renderMarkdown(msg.Content))
	default:
		fmt.Fprintln(s.out)
	}
	if msg.Superseded {
		fmt.Fprintln(s.out, RenderConditional(DimStyle, "(superseded by a newer request)"))
	}
}

// message looks up the message a handle addresses in the open document.
func (s *shell) message(h stream.Handle) (model.Message, bool) {
	snap, err := s.eng.Snapshot()
	if err != nil || snap.DocumentKey != h.DocumentKey {
		return model.Message{}, false
	}
	for _, sess := range snap.Sessions {
		if sess.ID != h.SessionID {
			continue
		}
		if i := sess.MessageIndex(h.MessageID); i >= 0 {
			return sess.Messages[i], true
		}
	}
	return model.Message{}, false
}

// =============================================================================
// OUTPUT
// =============================================================================

func (s *shell) printCurrent() {
	snap, err := s.eng.Snapshot()
	if err != nil {
		s.printError(err)
		return
	}
	current, ok := snap.Current()
	if !ok {
		return
	}
	fmt.Fprintln(s.out, RenderConditional(CurrentStyle, current.Title))
	for _, msg := range current.Messages {
		s.printMessage(msg)
	}
}

func (s *shell) printMessage(msg model.Message) {
	style := UserStyle
	if msg.Role == model.RoleAssistant {
		style = AssistantStyle
	}
	fmt.Fprintln(s.out, RenderConditional(style, msg.Role.DisplayName()))
	switch {
	case msg.IsError:
		s.printFailure(msg)
	case msg.Role == model.RoleAssistant && s.live:
		fmt.Fprint(s.out, renderMarkdown(msg.Content))
	default:
		fmt.Fprintln(s.out, msg.Content)
	}
}

func (s *shell) printFailure(msg model.Message) {
	fmt.Fprintln(s.out, RenderConditional(ErrorStyle, msg.Content))
	if msg.Action != nil {
		hint := msg.Action.Label
		if msg.Action.Target == "settings" {
			hint += ": glossa config path"
		}
		fmt.Fprintln(s.out, RenderConditional(DimStyle, "["+hint+"]"))
	}
}

func (s *shell) printSessions() {
	snap, err := s.eng.Snapshot()
	if err != nil {
		s.printError(err)
		return
	}
	writeSessions(s.out, snap.Sessions, snap.CurrentID)
}

func (s *shell) printError(err error) {
	fmt.Fprintln(s.out, RenderConditional(ErrorStyle, "Error:"), err)
}

// =============================================================================
// LINE INPUT
// =============================================================================

// lineInput is a liner prompt with history kept in the config directory.
type lineInput struct {
	line        *liner.State
	historyFile string
}

func newLineInput() *lineInput {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	in := &lineInput{line: line, historyFile: filepath.Join(dir, "shell_history")}
	if f, err := os.Open(in.historyFile); err == nil {
		_, _ = line.ReadHistory(f)
		f.Close()
	}
	return in
}

// Prompt reads a line and records it in the history.
func (in *lineInput) Prompt(prompt string) (string, error) {
	text, err := in.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) != "" {
		in.line.AppendHistory(text)
	}
	return text, nil
}

// Close saves the history and restores the terminal.
func (in *lineInput) Close() error {
	if err := os.MkdirAll(filepath.Dir(in.historyFile), 0700); err == nil {
		if f, err := os.OpenFile(in.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			_, _ = in.line.WriteHistory(f)
			f.Close()
		}
	}
	return in.line.Close()
}
