package pipeline

import (
	"github.com/teslashibe/go-semaphore/pkg/capture"
	"github.com/teslashibe/go-semaphore/pkg/playback"
	"github.com/teslashibe/go-semaphore/pkg/protocol"
	"github.com/teslashibe/go-semaphore/pkg/semaphore"
	"github.com/teslashibe/go-semaphore/pkg/stability"
)

// Observer receives decoder events. Methods are called from the decoder's
// goroutines and must not block or call back into the decoder.
type Observer interface {
	// OnSymbol is called for every processed sample.
	OnSymbol(protocol.SymbolData)
	// OnCommit is called when a held symbol is committed.
	OnCommit(protocol.CommitData)
	// OnState is called on every playback transition.
	OnState(protocol.StateData)
	// OnFrame is called with preview frames.
	OnFrame(capture.Frame)
}

// Funcs adapts optional callbacks to Observer.
type Funcs struct {
	Symbol func(protocol.SymbolData)
	Commit func(protocol.CommitData)
	State  func(protocol.StateData)
	Frame  func(capture.Frame)
}

// OnSymbol implements Observer.
func (f Funcs) OnSymbol(d protocol.SymbolData) {
	if f.Symbol != nil {
		f.Symbol(d)
	}
}

// OnCommit implements Observer.
func (f Funcs) OnCommit(d protocol.CommitData) {
	if f.Commit != nil {
		f.Commit(d)
	}
}

// OnState implements Observer.
func (f Funcs) OnState(d protocol.StateData) {
	if f.State != nil {
		f.State(d)
	}
}

// OnFrame implements Observer.
func (f Funcs) OnFrame(fr capture.Frame) {
	if f.Frame != nil {
		f.Frame(fr)
	}
}

func (d *Decoder) snapshotObservers() []Observer {
	d.obsMu.RLock()
	defer d.obsMu.RUnlock()
	return append([]Observer(nil), d.observers...)
}

func (d *Decoder) emitSymbol(sample semaphore.Sample, upd stability.Update) {
	data := protocol.SymbolData{
		Seq:     sample.Seq,
		Epoch:   sample.Epoch,
		Symbol:  upd.Symbol.Label(),
		Kind:    upd.Symbol.Kind.String(),
		Display: upd.Display.Label(),
		Stable:  upd.BufferStable,
		Held:    upd.Held,
	}
	if sample.Right.Valid {
		data.RightAngle = protocol.Float(sample.Right.Degrees)
	}
	if sample.Left.Valid {
		data.LeftAngle = protocol.Float(sample.Left.Degrees)
	}

	for _, o := range d.snapshotObservers() {
		o.OnSymbol(data)
	}
}

func (d *Decoder) emitCommit(epoch uint64, upd stability.Update) {
	c := upd.Commit
	data := protocol.CommitData{
		Session:  d.Session(),
		Epoch:    epoch,
		Symbol:   c.Symbol.Label(),
		Kind:     c.Symbol.Kind.String(),
		Appended: c.Appended,
		Text:     upd.Text,
		At:       c.At.UnixMilli(),
	}

	for _, o := range d.snapshotObservers() {
		o.OnCommit(data)
	}
}

func (d *Decoder) emitState(st playback.Status) {
	data := protocol.StateData{
		Session:     d.Session(),
		State:       st.State.String(),
		Reason:      st.Reason.String(),
		Epoch:       st.Epoch,
		Source:      st.Source,
		Text:        d.engine.Text(),
		Halted:      st.Halted,
		Placeholder: st.State == playback.Idle,
	}

	for _, o := range d.snapshotObservers() {
		o.OnState(data)
	}
}
