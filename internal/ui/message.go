package ui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/sheetsync/internal/models"
	"github.com/desertthunder/sheetsync/internal/transfer"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the TUI (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
}

var (
	_ tea.Msg = Msg{}
)

const (
	MsgSheetsFetched MsgKind = iota
	MsgTransferQueued
	MsgTransferEvent
	MsgEventsClosed
)

type sheetsFetched struct {
	sheets []models.Sheet
	err    error
}

type transferQueued struct {
	run         int
	keys        []models.MediaKey
	unsubscribe func()
	err         error
}

type transferEvent struct {
	run   int
	event transfer.Event
}

// sheetsFetchedMsg is the constructor for [MsgSheetsFetched]
func sheetsFetchedMsg(sheets []models.Sheet, err error) Msg {
	return Msg{kind: MsgSheetsFetched, data: sheetsFetched{sheets, err}}
}

// transferQueuedMsg is the constructor for [MsgTransferQueued]
func transferQueuedMsg(run int, keys []models.MediaKey, unsubscribe func(), err error) Msg {
	return Msg{kind: MsgTransferQueued, data: transferQueued{run, keys, unsubscribe, err}}
}

// transferEventMsg is the constructor for [MsgTransferEvent]
func transferEventMsg(run int, ev transfer.Event) Msg {
	return Msg{kind: MsgTransferEvent, data: transferEvent{run, ev}}
}

// eventsClosedMsg is the constructor for [MsgEventsClosed]
func eventsClosedMsg(run int) Msg {
	return Msg{kind: MsgEventsClosed, data: run}
}
