package chat

// chrome is the lines below the message list: the new-messages bar, a margin
// and the status line.
const chrome = 3

func (m *Model) mainWidth() int {
	return max(m.width, 1)
}

func (m *Model) resize() {
	if m.width == 0 || m.height == 0 {
		return
	}
	inputHeight := m.inputHeight()
	m.input.SetWidth(m.mainWidth())
	m.input.SetHeight(inputHeight)

	viewHeight := max(m.height-inputHeight-chrome, 1)
	m.viewport.Width = m.mainWidth()
	m.viewport.Height = viewHeight

	coordinator := m.session.Viewport()
	if int(m.renderWidth.Swap(int64(m.mainWidth()))) != m.mainWidth() {
		coordinator.Rebuild(m.measure)
	}
	coordinator.SetViewportHeight(viewHeight)
	m.refreshViewport()
}
