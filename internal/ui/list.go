package ui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	"github.com/desertthunder/sheetsync/internal/models"
)

var _ list.Item = sheetItem{}

// sheetItem wraps [models.Sheet] to implement [list.Item].
type sheetItem struct {
	sheet models.Sheet
}

func (i sheetItem) FilterValue() string { return i.sheet.Title }
func (i sheetItem) Title() string       { return i.sheet.Title }
func (i sheetItem) Description() string {
	desc := fmt.Sprintf("%d tracks", len(i.sheet.Tracks))
	if i.sheet.IsDefault() {
		desc = fmt.Sprintf("%s • default", desc)
	}
	return desc
}
