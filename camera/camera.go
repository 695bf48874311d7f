// Package camera captures JPEG frames from a local V4L2 device using a
// single mmap'd buffer. The daemon can recognize faces straight off
// this feed instead of waiting for clients to upload frames.
package camera

import (
	"context"
	"fmt"
	"sync"
	"syscall"
	"unsafe"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const (
	v4l2BufTypeVideoCapture = 1
	v4l2PixFmtJpeg          = 0x4745504a
	v4l2FieldNone           = 1
	v4l2MemoryMmap          = 1
	vidiocSFmt              = 0xc0cc5605
	vidiocReqbufs           = 0xc0145608
	vidiocQuerybuf          = 0xc0445609
	vidiocStreamon          = 0x40045612
	vidiocStreamoff         = 0x40045613
	vidiocQbuf              = 0xc044560f
	vidiocDqbuf             = 0xc0445611
)

type v4l2PixFormat struct {
	typ          uint32
	width        uint32
	height       uint32
	pixelformat  uint32
	field        uint32
	bytesperline uint32
	sizeimage    uint32
	colorspace   uint32
	priv         uint32
}

type v4l2Requestbuffers struct {
	count    uint32
	typ      uint32
	memory   uint32
	reserved [2]uint32
}

type v4l2Timecode struct {
	typ      uint32
	flags    uint32
	frames   uint8
	seconds  uint8
	minutes  uint8
	hours    uint8
	userbits [4]uint8
}

// timeval matches the 32-bit kernel layout of the v4l2_buffer
// timestamp, sized for the armhf devices this capture path targets.
// On a 64-bit kernel struct timeval is 16 bytes, so the buffer struct
// needs resizing before this runs there.
type timeval struct {
	tvSec  uint32
	tvUsec uint32
}

type v4l2Buffer struct {
	index     uint32
	typ       uint32
	bytesused uint32
	flags     uint32
	field     uint32
	timestamp timeval
	timecode  v4l2Timecode
	sequence  uint32
	memory    uint32
	offset    uint32
	length    uint32
	reserved2 uint32
	reserved  uint32
}

// Config selects the capture device and frame size. The device must
// support JPEG output at the requested size.
type Config struct {
	Device string
	Width  uint32
	Height uint32
}

// Camera owns one V4L2 capture stream. Frame always returns the most
// recently pumped JPEG frame.
type Camera struct {
	cfg Config
	log *zap.SugaredLogger

	fd   int
	data []byte
	buf  v4l2Buffer

	mu    sync.RWMutex
	frame []byte

	ready     chan struct{}
	readyOnce sync.Once
}

func New(cfg Config, log *zap.SugaredLogger) *Camera {
	return &Camera{
		cfg:   cfg,
		log:   log,
		ready: make(chan struct{}),
	}
}

// Start opens the device, begins streaming and blocks until the first
// frame arrives or ctx is cancelled. The pump keeps running in the
// background until ctx is cancelled.
func (c *Camera) Start(ctx context.Context) error {
	fd, err := unix.Open(c.cfg.Device, unix.O_RDWR|unix.O_NONBLOCK, 0666)
	if err != nil {
		return fmt.Errorf("open %q: %w", c.cfg.Device, err)
	}
	c.fd = fd

	if err := c.configure(); err != nil {
		unix.Close(c.fd)
		return err
	}
	c.log.Infow("camera streaming", "device", c.cfg.Device,
		"width", c.cfg.Width, "height", c.cfg.Height)

	done := make(chan error, 1)
	go func() {
		err := c.pump(ctx)
		if err != nil && ctx.Err() == nil {
			c.log.Errorw("camera pump stopped", "error", err)
		}
		c.stop()
		done <- err
	}()

	// A pump failure before the first frame must fail Start, not hang
	// it.
	select {
	case <-c.ready:
		return nil
	case err := <-done:
		if err == nil {
			err = ctx.Err()
		}
		return fmt.Errorf("camera pump: %w", err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Frame returns a copy of the latest captured frame, or nil before the
// first frame arrives.
func (c *Camera) Frame() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.frame) == 0 {
		return nil
	}

	return append([]byte(nil), c.frame...)
}

func (c *Camera) ioctl(req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(syscall.SYS_IOCTL, uintptr(c.fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func (c *Camera) configure() error {
	format := v4l2PixFormat{
		typ:         v4l2BufTypeVideoCapture,
		width:       c.cfg.Width,
		height:      c.cfg.Height,
		pixelformat: v4l2PixFmtJpeg,
		field:       v4l2FieldNone,
	}
	if err := c.ioctl(vidiocSFmt, unsafe.Pointer(&format)); err != nil {
		return fmt.Errorf("set format: %w", err)
	}

	req := v4l2Requestbuffers{
		count:  1,
		typ:    v4l2BufTypeVideoCapture,
		memory: v4l2MemoryMmap,
	}
	if err := c.ioctl(vidiocReqbufs, unsafe.Pointer(&req)); err != nil {
		return fmt.Errorf("request buffers: %w", err)
	}

	c.buf = v4l2Buffer{
		typ:    v4l2BufTypeVideoCapture,
		memory: v4l2MemoryMmap,
		index:  0,
	}
	if err := c.ioctl(vidiocQuerybuf, unsafe.Pointer(&c.buf)); err != nil {
		return fmt.Errorf("query buffer: %w", err)
	}

	data, err := unix.Mmap(
		c.fd,
		int64(c.buf.offset),
		int(c.buf.length),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED,
	)
	if err != nil {
		return fmt.Errorf("mmap buffer: %w", err)
	}
	c.data = data

	qbuf := v4l2Buffer{
		typ:    v4l2BufTypeVideoCapture,
		memory: v4l2MemoryMmap,
		index:  0,
	}
	if err := c.ioctl(vidiocQbuf, unsafe.Pointer(&qbuf)); err != nil {
		return fmt.Errorf("enqueue initial buffer: %w", err)
	}

	if err := c.ioctl(vidiocStreamon, unsafe.Pointer(&c.buf.typ)); err != nil {
		return fmt.Errorf("start stream: %w", err)
	}

	return nil
}

func (c *Camera) pump(ctx context.Context) error {
	fds := unix.FdSet{}
	for ctx.Err() == nil {
		fds.Zero()
		fds.Set(c.fd)

		// Bounded wait so cancellation is noticed without a frame.
		tv := unix.Timeval{Sec: 1}
		n, err := unix.Select(c.fd+1, &fds, nil, nil, &tv)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("select: %w", err)
		}
		if n == 0 {
			continue
		}

		qbuf := v4l2Buffer{
			typ:    v4l2BufTypeVideoCapture,
			memory: v4l2MemoryMmap,
			index:  0,
		}
		if err := c.ioctl(vidiocDqbuf, unsafe.Pointer(&qbuf)); err != nil {
			return fmt.Errorf("dequeue buffer: %w", err)
		}

		c.mu.Lock()
		c.frame = append(c.frame[:0], c.data[:qbuf.bytesused]...)
		c.mu.Unlock()

		c.readyOnce.Do(func() { close(c.ready) })

		if err := c.ioctl(vidiocQbuf, unsafe.Pointer(&qbuf)); err != nil {
			return fmt.Errorf("enqueue buffer: %w", err)
		}
	}

	return nil
}

func (c *Camera) stop() {
	if err := c.ioctl(vidiocStreamoff, unsafe.Pointer(&c.buf.typ)); err != nil {
		c.log.Warnw("failed to stop stream", "error", err)
	}
	if c.data != nil {
		unix.Munmap(c.data)
	}
	unix.Close(c.fd)
	c.log.Infow("camera closed", "device", c.cfg.Device)
}
