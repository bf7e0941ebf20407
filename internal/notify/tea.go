// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package notify

import (
	tea "github.com/charmbracelet/bubbletea"
)

// ChangeMsg is delivered to a Bubble Tea program for each change.
type ChangeMsg Change

// ClosedMsg is delivered once the subscription has ended.
type ClosedMsg struct{}

// WaitCmd waits for the next change on sub. Return it again from Update
// after each ChangeMsg to keep listening.
func WaitCmd(sub *Subscription) tea.Cmd {
	return func() tea.Msg {
		c, ok := <-sub.C
		if !ok {
			return ClosedMsg{}
		}
		return ChangeMsg(c)
	}
}
