package box

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

const MaxDepth = 16

// Path is the chain of containers enclosing the box being visited, outermost first.
type Path []*BasicBox

func (p Path) Parent() [4]byte {
	if len(p) == 0 {
		return [4]byte{}
	}
	return p[len(p)-1].Type
}

func (p Path) Has(t [4]byte) bool {
	for _, b := range p {
		if b.Type == t {
			return true
		}
	}
	return false
}

func (p Path) String() string {
	s := ""
	for i, b := range p {
		if i > 0 {
			s += "/"
		}
		s += TypeName(b.Type)
	}
	return s
}

type (
	// HandlerFunc decodes one leaf box payload.
	HandlerFunc func(path Path, box *BasicBox, payload []byte) error
	// ContainerFunc is notified when the walker enters or leaves a container.
	ContainerFunc func(path Path, box *BasicBox) error
	// ErrorFunc decides what to do with a fault at box granularity. Returning nil
	// tolerates it: a failed leaf is skipped, a failed header abandons the rest of
	// the enclosing container.
	ErrorFunc func(path Path, box *BasicBox, err error) error
)

var containers = map[[4]byte]bool{
	TypeMOOV: true,
	TypeTRAK: true,
	TypeMDIA: true,
	TypeMINF: true,
	TypeSTBL: true,
	TypeUDTA: true,
	TypeEDTS: true,
	TypeDINF: true,
	TypeTREF: true,
	TypeMETA: true,
	TypeILST: true,
	TypeGMHD: true,
}

// IsContainer reports whether box t found under path carries child boxes.
// Every child of ilst is an item container holding data boxes.
func IsContainer(path Path, t [4]byte) bool {
	return containers[t] || path.Parent() == TypeILST
}

type walkFrame struct {
	box  *BasicBox
	next int64
	end  int64
}

// Walker applies a Reader over the box tree with an explicit stack, descending into
// whitelisted containers and dispatching leaf payloads to registered handlers.
type Walker struct {
	*slog.Logger
	MaxDepth   int
	MaxPayload uint64
	OnEnter    ContainerFunc
	OnExit     ContainerFunc
	OnError    ErrorFunc
	reader     *Reader
	handlers   map[[4]byte]HandlerFunc
	visited    int
}

func NewWalker(r *Reader, logger *slog.Logger) *Walker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Walker{
		Logger:   logger,
		MaxDepth: MaxDepth,
		reader:   r,
		handlers: make(map[[4]byte]HandlerFunc),
	}
}

func (w *Walker) Handle(t [4]byte, h HandlerFunc) {
	w.handlers[t] = h
}

// Visited reports how many boxes the last walk decoded a header for.
func (w *Walker) Visited() int {
	return w.visited
}

// Tolerant is the default fault policy: anything below udta or meta is vendor
// territory and may be skipped.
func Tolerant(path Path) bool {
	return path.Has(TypeUDTA) || path.Has(TypeMETA)
}

func (w *Walker) fault(path Path, box *BasicBox, err error) error {
	if w.OnError != nil {
		return w.OnError(path, box, err)
	}
	if Tolerant(path) {
		w.Warn("skip box", "path", path.String(), "err", err)
		return nil
	}
	return err
}

func (w *Walker) path(stack []walkFrame) Path {
	path := make(Path, 0, len(stack)-1)
	for _, fr := range stack[1:] {
		path = append(path, fr.box)
	}
	return path
}

// payloadStart returns where the children of a container begin. The iTunes style
// meta box is a full box while the QuickTime one is not, so the first child is
// probed for an hdlr.
func (w *Walker) payloadStart(box *BasicBox) (int64, error) {
	start := box.PayloadOffset()
	if box.Type != TypeMETA {
		return start, nil
	}
	if box.PayloadSize() < 4 {
		return 0, ErrShortPayload
	}
	if box.PayloadSize() >= BasicBoxLen {
		probe, err := w.reader.Peek(start, BasicBoxLen)
		if err != nil {
			return 0, err
		}
		if [4]byte(probe[4:8]) == TypeHDLR {
			return start, nil
		}
	}
	return start + 4, nil
}

// Walk visits every box in [start, end).
func (w *Walker) Walk(start, end int64) error {
	w.visited = 0
	stack := []walkFrame{{next: start, end: end}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next >= top.end {
			if err := w.exit(stack); err != nil {
				return err
			}
			stack = stack[:len(stack)-1]
			continue
		}
		if len(stack) > 1 && top.end-top.next < BasicBoxLen {
			// padding after the last child, QuickTime udta often ends with a zero word
			top.next = top.end
			continue
		}
		path := w.path(stack)
		b, err := w.reader.ReadHeader(top.next, top.end)
		if err != nil {
			if err = w.fault(path, nil, err); err != nil {
				return err
			}
			// the rest of this container can not be trusted
			top.next = top.end
			continue
		}
		w.visited++
		top.next = b.End()
		if w.Logger.Enabled(context.Background(), slog.LevelDebug) {
			w.Debug("box", "path", path.String(), "type", TypeName(b.Type), "offset", b.Offset, "size", b.Size)
		}
		if IsContainer(path, b.Type) {
			if len(stack) > w.MaxDepth {
				if err = w.fault(path, b, fmt.Errorf("%w: %s at depth %d", ErrDepthExceeded, path, len(stack))); err != nil {
					return err
				}
				continue
			}
			childStart, err := w.payloadStart(b)
			if err != nil {
				if err = w.fault(path, b, err); err != nil {
					return err
				}
				continue
			}
			if w.OnEnter != nil {
				if err = w.OnEnter(path, b); err != nil {
					if err = w.fault(path, b, err); err != nil {
						return err
					}
					continue
				}
			}
			stack = append(stack, walkFrame{box: b, next: childStart, end: b.End()})
			continue
		}
		h, ok := w.handlers[b.Type]
		if !ok {
			continue
		}
		payload, err := w.reader.ReadPayload(b, w.MaxPayload)
		if err == nil {
			err = h(path, b, payload)
		}
		if err != nil {
			if err = w.fault(path, b, err); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *Walker) exit(stack []walkFrame) error {
	if len(stack) < 2 || w.OnExit == nil {
		return nil
	}
	top := stack[len(stack)-1]
	return w.OnExit(w.path(stack[:len(stack)-1]), top.box)
}

// Children iterates the boxes packed in buf, as found inside sample entries and
// other leaf payloads that embed boxes.
func Children(buf []byte, fn func(box BasicBox, payload []byte) error) error {
	for offset := 0; offset < len(buf); {
		remain := len(buf) - offset
		if remain < BasicBoxLen {
			// trailing padding is common after sample entry children
			return nil
		}
		b, err := ParseHeader(buf[offset:], uint64(remain))
		if err != nil {
			return err
		}
		b.Offset = int64(offset)
		if err = fn(b, buf[offset+b.HeaderSize:offset+int(b.Size)]); err != nil {
			if errors.Is(err, errStop) {
				return nil
			}
			return err
		}
		offset += int(b.Size)
	}
	return nil
}

var errStop = errors.New("stop")

// Find returns the payload of the first child of type t in buf.
func Find(buf []byte, t [4]byte) (payload []byte, ok bool) {
	_ = Children(buf, func(b BasicBox, p []byte) error {
		if b.Type == t {
			payload, ok = p, true
			return errStop
		}
		return nil
	})
	return
}
