package audio

import (
	"encoding/binary"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/agalue/ember/internal/core"
)

// playbackRingSize is the number of samples the playback ring buffer can
// hold: 524288 samples is ~11s at 48kHz, comfortably more than a test tone
// or a burst of mic-monitor loopback needs.
const playbackRingSize = 524288

// playbackRing is a lock-free single-producer single-consumer ring buffer
// for audio playback.
type playbackRing struct {
	samples [playbackRingSize]float32
	head    atomic.Uint64
	tail    atomic.Uint64
}

func (rb *playbackRing) push(samples []float32) int {
	head := rb.head.Load()
	tail := rb.tail.Load()

	available := playbackRingSize - int(head-tail)
	toWrite := len(samples)
	if toWrite > available {
		toWrite = available
	}

	for i := 0; i < toWrite; i++ {
		rb.samples[(head+uint64(i))%playbackRingSize] = samples[i]
	}

	rb.head.Add(uint64(toWrite))
	return toWrite
}

func (rb *playbackRing) pop() (float32, bool) {
	head := rb.head.Load()
	tail := rb.tail.Load()

	if head == tail {
		return 0.0, false
	}

	sample := rb.samples[tail%playbackRingSize]
	rb.tail.Add(1)
	return sample, true
}

func (rb *playbackRing) isEmpty() bool {
	return rb.head.Load() == rb.tail.Load()
}

func (rb *playbackRing) clear() {
	rb.tail.Store(rb.head.Load())
}

// Player owns a persistent malgo output stream backing two spec §4.1/§6
// operations that both need a speaker: play_test_tone (a synthesized sine
// wave, for confirming the selected output device works) and the
// mic-monitor loopback (feeding live capture frames back out so a user can
// hear their own mic, gated by the supervisor's feedback-risk guard before
// it ever starts).
type Player struct {
	ctx              *malgo.AllocatedContext
	device           *malgo.Device
	deviceID         core.DeviceId
	deviceSampleRate uint32
	bufferMs         uint32
	interrupt        atomic.Bool
	playing          atomic.Bool
	monitoring       atomic.Bool
	ring             *playbackRing
	mu               sync.Mutex
	completeChan     chan struct{}
	logger           *log.Logger
}

// NewPlayer creates a player bound to an already-initialized malgo context
// (owned by the caller, typically the Runtime Supervisor).
func NewPlayer(ctx *malgo.AllocatedContext, bufferMs uint32, logger *log.Logger) (*Player, error) {
	if bufferMs == 0 {
		bufferMs = 100
	}
	if logger == nil {
		logger = log.Default()
	}

	deviceSampleRate := getDeviceNativeSampleRate()

	p := &Player{
		ctx:              ctx,
		deviceSampleRate: deviceSampleRate,
		bufferMs:         bufferMs,
		ring:             &playbackRing{},
		completeChan:     make(chan struct{}, 1),
		logger:           logger,
	}

	if err := p.initDevice(); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *Player) initDevice() error {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatF32
	deviceConfig.Playback.Channels = 1
	deviceConfig.SampleRate = p.deviceSampleRate
	deviceConfig.PeriodSizeInMilliseconds = p.bufferMs

	onSendFrames := func(pOutputSample, pInputSamples []byte, framecount uint32) {
		interrupted := p.interrupt.Load()

		for i := 0; i < int(framecount); i++ {
			var sample float32
			if !interrupted {
				if s, ok := p.ring.pop(); ok {
					sample = s
				}
			}
			binary.LittleEndian.PutUint32(pOutputSample[i*4:], math.Float32bits(sample))
		}

		if !p.monitoring.Load() && (p.ring.isEmpty() || interrupted) {
			p.playing.Store(false)
			select {
			case p.completeChan <- struct{}{}:
			default:
			}
		}
	}

	device, err := malgo.InitDevice(p.ctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onSendFrames})
	if err != nil {
		return core.Wrap(translateMalgoError(err), "failed to initialize playback device", err)
	}
	p.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		return core.Wrap(translateMalgoError(err), "failed to start playback device", err)
	}

	return nil
}

func getDeviceNativeSampleRate() uint32 {
	defaultConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	if defaultConfig.SampleRate > 0 {
		return defaultConfig.SampleRate
	}
	return 48000
}

// Bind records which output device this player is currently routed to, so
// the supervisor's feedback-risk guard can compare it against the active
// input device's stable id.
func (p *Player) Bind(deviceID core.DeviceId) { p.deviceID = deviceID }

// DeviceID returns the device this player is currently bound to.
func (p *Player) DeviceID() core.DeviceId { return p.deviceID }

// PlayTone synthesizes and plays a sine wave at hz for durMs at the given
// linear gain, blocking until playback completes or is interrupted. Inputs
// must already have passed core.ValidateFrequencyHz/ValidateDurationMs/
// ValidateGain — Player does not re-validate them.
func (p *Player) PlayTone(hz, durMs, gain float64) error {
	return p.play(synthesizeTone(hz, durMs, gain), core.SampleRate)
}

// synthesizeTone generates durMs worth of a sine wave at hz, scaled by
// gain, at the canonical sample rate.
func synthesizeTone(hz, durMs, gain float64) []float32 {
	n := int(durMs / 1000.0 * float64(core.SampleRate))
	samples := make([]float32, n)
	for i := range samples {
		t := float64(i) / float64(core.SampleRate)
		samples[i] = float32(gain * math.Sin(2*math.Pi*hz*t))
	}
	return samples
}

// play queues samples (resampling to the device rate if needed) and blocks
// until the ring drains, is interrupted, or a generous timeout expires.
func (p *Player) play(samples []float32, sampleRate int) error {
	playbackSamples := samples
	if sampleRate != int(p.deviceSampleRate) {
		playbackSamples = ResampleInPlace(samples, sampleRate, int(p.deviceSampleRate))
	}

	p.interrupt.Store(false)

	p.mu.Lock()
	written := p.ring.push(playbackSamples)
	if written < len(playbackSamples) {
		p.logger.Printf("audio: playback buffer overflow, dropped %d samples", len(playbackSamples)-written)
	}
	p.mu.Unlock()

	p.playing.Store(true)

	timeout := time.Duration(len(playbackSamples)/int(p.deviceSampleRate)+2) * time.Second
	deadline := time.After(timeout)

	for p.playing.Load() {
		if p.interrupt.Load() {
			p.ring.clear()
			p.playing.Store(false)
			return nil
		}

		select {
		case <-p.completeChan:
		case <-time.After(50 * time.Millisecond):
		case <-deadline:
			p.logger.Printf("audio: playback timeout exceeded")
			p.ring.clear()
			p.playing.Store(false)
			return nil
		}
	}

	return nil
}

// StartMonitor puts the player into continuous loopback mode: FeedMonitor
// pushes capture frames in and the device callback drains them as they
// arrive, rather than the one-shot "queue then wait for empty" behavior
// play_test_tone uses. The Runtime Supervisor only calls this after its
// feedback-risk guard has confirmed the bound input and output devices are
// not the same physical endpoint (spec §4.1/§5).
func (p *Player) StartMonitor() {
	p.monitoring.Store(true)
	p.playing.Store(true)
}

// FeedMonitor pushes one frame's samples into the loopback ring; never
// blocks. Nothing in this module calls it: the Supervisor's frame callback
// does not feed the player, so monitor mode plays only what a caller
// pushes here.
func (p *Player) FeedMonitor(samples []float32) {
	if !p.monitoring.Load() {
		return
	}
	p.mu.Lock()
	written := p.ring.push(samples)
	p.mu.Unlock()
	if written < len(samples) {
		p.logger.Printf("audio: mic-monitor buffer overflow, dropped %d samples", len(samples)-written)
	}
}

// StopMonitor ends loopback mode and clears any buffered audio.
func (p *Player) StopMonitor() {
	p.monitoring.Store(false)
	p.Interrupt()
}

// Monitoring reports whether the mic-monitor loopback is currently active.
func (p *Player) Monitoring() bool { return p.monitoring.Load() }

// Interrupt stops current playback immediately.
func (p *Player) Interrupt() {
	p.interrupt.Store(true)
	p.ring.clear()
	p.playing.Store(false)
	select {
	case p.completeChan <- struct{}{}:
	default:
	}
}

// Close releases the playback device. The malgo context itself is owned by
// the caller and is not freed here.
func (p *Player) Close() {
	p.Interrupt()
	if p.device != nil {
		p.device.Stop()
		p.device.Uninit()
		p.device = nil
	}
}
