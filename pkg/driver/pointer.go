package driver

import "context"

// Pointer is implemented by backends that drive a real mouse. Every
// method scrolls its target into view first.
type Pointer interface {
	ScrollIntoView(ctx context.Context, el Element) error
	Hover(ctx context.Context, el Element) error
	DoubleClick(ctx context.Context, el Element) error
	RightClick(ctx context.Context, el Element) error
	// DragAndDrop presses on src, moves to dst and releases there.
	DragAndDrop(ctx context.Context, src, dst Element) error
}
