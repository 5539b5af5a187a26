package transport

import "sync"

// channelPort is one end of an in-process MessageChannel.
type channelPort struct {
	inbox *Inbox[[]byte]

	mu   sync.Mutex
	peer *channelPort
}

// NewMessageChannel returns two entangled ports. Frames are copied on post,
// so neither side can observe later mutation by the other.
func NewMessageChannel() (Port, Port) {
	a := &channelPort{inbox: NewInbox[[]byte]()}
	b := &channelPort{inbox: NewInbox[[]byte]()}
	a.peer, b.peer = b, a
	return a, b
}

func (p *channelPort) PostMessage(data []byte) error {
	if p.inbox.Closed() {
		return ErrPortClosed
	}
	p.mu.Lock()
	peer := p.peer
	p.mu.Unlock()

	// A closed peer drops the frame, as a disentangled port would.
	peer.inbox.Push(clone(data))
	return nil
}

func (p *channelPort) SetHandler(h func([]byte)) {
	p.inbox.SetHandler(h)
}

func (p *channelPort) Close() error {
	p.inbox.Close()
	return nil
}

func clone(data []byte) []byte {
	out := make([]byte, len(data))
	copy(out, data)
	return out
}
