package audio

import (
	"encoding/binary"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/agalue/ember/internal/core"
)

// Ring buffer configuration constants.
const (
	// ringBufferSize is the number of sample chunks the ring buffer can hold.
	// At 16kHz with 32ms chunks (512 samples), this provides ~4 seconds of
	// buffer, comfortably above the 200ms spec §4.2 requires. When it is
	// full, push drops the incoming (newest) chunk; queued chunks are never
	// evicted to make room.
	ringBufferSize = 128

	// maxSamplesPerChunk is the maximum samples per audio callback chunk.
	maxSamplesPerChunk = 2048
)

// audioChunk represents a chunk of audio samples in the ring buffer.
type audioChunk struct {
	samples []float32
	len     int
}

// ringBuffer is a lock-free single-producer single-consumer ring buffer for
// audio. Uses atomic operations for thread-safe access without mutex locks.
type ringBuffer struct {
	chunks    [ringBufferSize]audioChunk
	head      atomic.Uint64
	tail      atomic.Uint64
	dropCount atomic.Uint64
}

func newRingBuffer() *ringBuffer {
	rb := &ringBuffer{}
	for i := range rb.chunks {
		rb.chunks[i].samples = make([]float32, maxSamplesPerChunk)
	}
	return rb
}

// push adds samples to the ring buffer, dropping the newest chunk and
// counting the drop if the buffer is full.
func (rb *ringBuffer) push(samples []float32) bool {
	head := rb.head.Load()
	tail := rb.tail.Load()

	if head-tail >= ringBufferSize {
		count := rb.dropCount.Add(1)
		if count%100 == 0 {
			log.Printf("audio: ring buffer full, dropped %d chunks", count)
		}
		return false
	}

	slot := &rb.chunks[head%ringBufferSize]
	n := copy(slot.samples, samples)
	slot.len = n

	rb.head.Add(1)
	return true
}

func (rb *ringBuffer) pop() []float32 {
	head := rb.head.Load()
	tail := rb.tail.Load()

	if head == tail {
		return nil
	}

	slot := &rb.chunks[tail%ringBufferSize]
	samples := slot.samples[:slot.len]

	rb.tail.Add(1)
	return samples
}

// Capturer owns one malgo input stream, its resampler, and its ring
// buffer: the capture worker of spec §4.2. At most one Capturer runs at a
// time; the Runtime Supervisor is the only component that creates one.
type Capturer struct {
	ctx              *malgo.AllocatedContext
	device           *malgo.Device
	deviceID         core.DeviceId
	sampleRate       uint32
	deviceSampleRate uint32
	onFrame          func(core.Frame)
	onError          func(*core.Error)
	running          atomic.Bool
	ringBuf          *ringBuffer
	stopChan         chan struct{}
	wg               sync.WaitGroup
	resampler        *PolyphaseResampler
	reblocker        core.Reblocker
	logger           *log.Logger
}

// Config configures a Capturer.
type Config struct {
	SampleRate int
	OnFrame    func(core.Frame)
	OnError    func(*core.Error)
	Logger     *log.Logger
}

// NewCapturer creates a capturer bound to an already-initialized malgo
// context (owned by the caller, typically the Runtime Supervisor).
func NewCapturer(ctx *malgo.AllocatedContext, cfg Config) *Capturer {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = core.SampleRate
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Capturer{
		ctx:        ctx,
		sampleRate: uint32(cfg.SampleRate),
		onFrame:    cfg.OnFrame,
		onError:    cfg.OnError,
		ringBuf:    newRingBuffer(),
		stopChan:   make(chan struct{}),
		logger:     logger,
	}
}

// Start begins capture from the given device, reblocking the resampled,
// quantized stream into canonical core.Frame values delivered in capture
// order (spec §5's ordering guarantee).
func (c *Capturer) Start(deviceID core.DeviceId) error {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = c.sampleRate
	deviceConfig.PeriodSizeInMilliseconds = 32

	probe, err := malgo.InitDevice(c.ctx.Context, deviceConfig, malgo.DeviceCallbacks{})
	if err != nil {
		return c.fail("query capture device", err)
	}
	c.deviceSampleRate = probe.SampleRate()
	probe.Uninit()

	if c.deviceSampleRate != c.sampleRate {
		if c.deviceSampleRate > c.sampleRate {
			c.resampler = NewPolyphaseResampler(int(c.deviceSampleRate), int(c.sampleRate))
			c.logger.Printf("audio: resampling %d Hz -> %d Hz (polyphase anti-aliasing)", c.deviceSampleRate, c.sampleRate)
		} else {
			c.logger.Printf("audio: resampling %d Hz -> %d Hz (linear interpolation)", c.deviceSampleRate, c.sampleRate)
		}
	}

	onRecvFrames := func(pOutputSample, pInputSamples []byte, framecount uint32) {
		if !c.running.Load() {
			return
		}
		pooled := bytesToFloat32(pInputSamples)
		if len(pooled) > 0 {
			c.ringBuf.push(pooled)
		}
		returnFloat32Buffer(pooled)
	}

	device, err := malgo.InitDevice(c.ctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onRecvFrames})
	if err != nil {
		return c.fail("initialize capture device", err)
	}

	c.device = device
	c.deviceID = deviceID
	c.reblocker.Reset()
	c.running.Store(true)
	c.stopChan = make(chan struct{})

	c.wg.Add(1)
	go c.processLoop()

	if err := device.Start(); err != nil {
		c.running.Store(false)
		return c.fail("start capture device", err)
	}

	return nil
}

// processLoop drains the ring buffer, resamples, quantizes, and reblocks
// to 20ms Frames, delivering them via onFrame in the order captured. Runs
// on its own dedicated goroutine, separate from the audio callback thread.
func (c *Capturer) processLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopChan:
			return
		default:
		}

		samples := c.ringBuf.pop()
		if samples == nil {
			select {
			case <-c.stopChan:
				return
			case <-time.After(2 * time.Millisecond):
			}
			continue
		}
		if !c.running.Load() {
			continue
		}

		buf := make([]float32, len(samples))
		copy(buf, samples)

		if c.resampler != nil {
			buf = c.resampler.Resample(buf)
		} else if c.deviceSampleRate != c.sampleRate {
			buf = ResampleInPlace(buf, int(c.deviceSampleRate), int(c.sampleRate))
		}

		pcm := core.QuantizeSlice(buf)
		for _, f := range c.reblocker.Push(pcm) {
			if c.onFrame != nil {
				c.onFrame(f)
			}
		}
	}
}

// Stop halts capture and tears down the device.
func (c *Capturer) Stop() {
	c.running.Store(false)

	select {
	case <-c.stopChan:
	default:
		close(c.stopChan)
	}
	c.wg.Wait()

	if c.device != nil {
		c.device.Stop()
		c.device.Uninit()
		c.device = nil
	}
}

// Pause suspends frame delivery without tearing down the device, used by
// the mic-monitor's half-duplex gate and by the supervisor while it
// negotiates a replacement device after loss.
func (c *Capturer) Pause() { c.running.Store(false) }

// Resume restarts frame delivery after Pause.
func (c *Capturer) Resume() { c.running.Store(true) }

// DroppedFrames reports the ring-buffer overflow counter (spec §4.2).
func (c *Capturer) DroppedFrames() uint64 { return c.ringBuf.dropCount.Load() }

// DeviceID returns the device this Capturer is currently bound to.
func (c *Capturer) DeviceID() core.DeviceId { return c.deviceID }

func (c *Capturer) fail(action string, err error) *core.Error {
	wrapped := core.Wrap(translateMalgoError(err), fmt.Sprintf("failed to %s", action), err)
	if c.onError != nil {
		c.onError(wrapped)
	}
	return wrapped
}

// translateMalgoError maps a malgo/miniaudio failure into the error
// taxonomy spec §7 defines at the capture boundary. miniaudio does not
// expose a structured error type across the cgo boundary, so this matches
// on the underlying message the same way the teacher already wraps errors
// with fmt.Errorf, just promoted to a stable code.
func translateMalgoError(err error) core.Code {
	if err == nil {
		return core.CodeUnknown
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "busy") || strings.Contains(msg, "in use"):
		return core.CodeDeviceBusy
	case strings.Contains(msg, "not found") || strings.Contains(msg, "no device"):
		return core.CodeDeviceNotFound
	case strings.Contains(msg, "permission") || strings.Contains(msg, "denied") || strings.Contains(msg, "access"):
		return core.CodePermissionDenied
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out"):
		return core.CodeTimeout
	default:
		return core.CodeUnknown
	}
}

// float32Pool reduces allocations in the audio callback hot path.
var float32Pool = sync.Pool{
	New: func() interface{} {
		buf := make([]float32, 2048)
		return &buf
	},
}

// bytesToFloat32 converts raw bytes to float32 samples. The returned slice
// is only valid until the next call; callers must copy if they need to
// retain it.
func bytesToFloat32(data []byte) []float32 {
	numSamples := len(data) / 4
	pBuf := float32Pool.Get().(*[]float32)

	if cap(*pBuf) < numSamples {
		*pBuf = make([]float32, numSamples)
	}
	samples := (*pBuf)[:numSamples]

	for i := range samples {
		bits := binary.LittleEndian.Uint32(data[i*4:])
		samples[i] = math.Float32frombits(bits)
	}
	return samples
}

// returnFloat32Buffer returns a buffer to the pool after its samples are no
// longer needed.
func returnFloat32Buffer(samples []float32) {
	if samples == nil {
		return
	}
	buf := samples[:cap(samples)]
	float32Pool.Put(&buf)
}
