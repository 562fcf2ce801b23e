package components

import (
	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/widget"
)

// LineBuffer keeps the last N lines. Not safe for concurrent use; the
// LogTail only touches it on the fyne thread.
type LineBuffer struct {
	lines []string
	start int
	size  int
}

func NewLineBuffer(capacity int) *LineBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &LineBuffer{lines: make([]string, capacity)}
}

func (b *LineBuffer) Add(line string) {
	idx := (b.start + b.size) % len(b.lines)
	b.lines[idx] = line
	if b.size < len(b.lines) {
		b.size++
		return
	}
	b.start = (b.start + 1) % len(b.lines)
}

func (b *LineBuffer) Len() int { return b.size }

// At returns the i-th oldest retained line.
func (b *LineBuffer) At(i int) string {
	if i < 0 || i >= b.size {
		return ""
	}
	return b.lines[(b.start+i)%len(b.lines)]
}

func (b *LineBuffer) Lines() []string {
	out := make([]string, b.size)
	for i := range out {
		out[i] = b.At(i)
	}
	return out
}

// LogTail is a scrolling list of the backend's most recent output.
type LogTail struct {
	buffer *LineBuffer
	list   *widget.List
}

func NewLogTail(capacity int) *LogTail {
	t := &LogTail{buffer: NewLineBuffer(capacity)}
	t.list = widget.NewList(
		func() int { return t.buffer.Len() },
		func() fyne.CanvasObject {
			label := widget.NewLabel("")
			label.TextStyle = fyne.TextStyle{Monospace: true}
			label.Truncation = fyne.TextTruncateEllipsis
			return label
		},
		func(id widget.ListItemID, obj fyne.CanvasObject) {
			obj.(*widget.Label).SetText(t.buffer.At(id))
		},
	)
	return t
}

func (t *LogTail) GetWidget() fyne.CanvasObject {
	return t.list
}

// Append must be called on the fyne thread.
func (t *LogTail) Append(line string) {
	t.buffer.Add(line)
	t.list.Refresh()
	t.list.ScrollToBottom()
}

// Lines returns the retained lines, oldest first.
func (t *LogTail) Lines() []string {
	return t.buffer.Lines()
}
