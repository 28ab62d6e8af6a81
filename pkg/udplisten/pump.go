package udplisten

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jgoldverg/nexusgw/internal"
)

var dropLog = internal.NewLimitedLogger(time.Second, 1)

type pkt struct {
	src *net.UDPAddr
	buf []byte
}

// PktPump reads one socket and fans datagrams out to worker goroutines.
// The read is re-armed before the previous datagram is processed.
type PktPump struct {
	pc      *net.UDPConn
	h       Handler
	opts    Options
	queue   chan pkt
	wg      sync.WaitGroup
	closed  chan struct{}
	dropped atomic.Uint64
}

func NewPktPump(pc *net.UDPConn, h Handler, opts Options) *PktPump {
	qd := opts.QueueDepth
	if qd <= 0 {
		qd = max(opts.Workers*4, 4)
	}
	if opts.ReadBufferSize <= 0 {
		opts.ReadBufferSize = 64 * 1024
	}
	return &PktPump{
		pc:     pc,
		h:      h,
		opts:   opts,
		queue:  make(chan pkt, qd),
		closed: make(chan struct{}),
	}
}

func (p *PktPump) Start(ctx context.Context) {
	workers := max(p.opts.Workers, 1)
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for pk := range p.queue {
				if p.h != nil {
					p.h.HandlePacket(ctx, p.pc, pk.src, pk.buf)
				}
			}
		}()
	}

	p.wg.Add(1)
	go func() {
		defer func() {
			close(p.queue)
			close(p.closed)
			p.wg.Done()
		}()

		buf := make([]byte, p.opts.ReadBufferSize)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			if p.opts.ReadTimeout > 0 {
				_ = p.pc.SetReadDeadline(time.Now().Add(p.opts.ReadTimeout))
			}
			n, src, err := p.pc.ReadFromUDP(buf)
			if err != nil {
				var ne net.Error
				if errors.As(err, &ne) && ne.Timeout() {
					continue
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				// ICMP port unreachable from an earlier send surfaces here on
				// some platforms; the socket is still usable.
				internal.Debug("udp read error", internal.Fields{
					internal.FieldAddr:  p.pc.LocalAddr().String(),
					internal.FieldError: err.Error(),
				})
				continue
			}

			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case p.queue <- pkt{src: src, buf: data}:
			case <-ctx.Done():
				return
			default:
				p.dropped.Add(1)
				dropLog.Warn("udp queue full, datagram dropped", internal.Fields{
					internal.FieldAddr:            src.String(),
					internal.FieldKey("listener"): p.pc.LocalAddr().String(),
					internal.FieldKey("dropped"):  p.dropped.Load(),
				})
			}
		}
	}()
}

func (p *PktPump) Dropped() uint64 { return p.dropped.Load() }

// Stop waits for the reader to exit (ctx cancel or socket close) and for the
// workers to drain the queue.
func (p *PktPump) Stop() {
	<-p.closed
	p.wg.Wait()
}
