package camera

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"vigil/internal/pipeline"
)

// Stats contains frame capture counters.
type Stats struct {
	FramesCaptured uint64 `json:"frames_captured"`
	FramesDropped  uint64 `json:"frames_dropped"`
	LastFrameTime  int64  `json:"last_frame_time"` // Unix timestamp
	Restarts       uint64 `json:"restarts"`
}

// Source captures JPEG frames from a single camera with FFmpeg and
// broadcasts them to subscribers. V4L2 devices, RTSP and HTTP MJPEG sources
// are supported; frame unavailability just means no frame that tick.
type Source struct {
	device string
	fps    int
	width  int
	height int

	running     atomic.Bool
	stopCh      chan struct{}
	cmd         *exec.Cmd
	cmdMu       sync.Mutex
	subscribers map[*pipeline.FrameSubscription]bool
	subMu       sync.RWMutex
	frameSeq    atomic.Uint64
	wg          sync.WaitGroup

	stats   Stats
	statsMu sync.RWMutex
}

// NewSource creates a frame source for the given device.
func NewSource(device string, fps, width, height int) *Source {
	return &Source{
		device:      device,
		fps:         fps,
		width:       width,
		height:      height,
		stopCh:      make(chan struct{}),
		subscribers: make(map[*pipeline.FrameSubscription]bool),
	}
}

// Start implements pipeline.FrameSource.
func (s *Source) Start() error {
	if s.running.Load() {
		return fmt.Errorf("camera %s already started", s.device)
	}

	s.wg.Add(1)
	go s.run()

	log.Printf("[Camera] Started capture (device: %s, %dx%d @ %dfps)", s.device, s.width, s.height, s.fps)
	return nil
}

// Stop implements pipeline.FrameSource.
func (s *Source) Stop() {
	close(s.stopCh)

	s.cmdMu.Lock()
	if s.cmd != nil && s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	s.cmdMu.Unlock()

	s.wg.Wait()

	s.subMu.Lock()
	for sub := range s.subscribers {
		close(sub.Done)
		delete(s.subscribers, sub)
	}
	s.subMu.Unlock()

	log.Printf("[Camera] Stopped capture (device: %s)", s.device)
}

// Subscribe implements pipeline.FrameSource.
func (s *Source) Subscribe(bufferSize int) *pipeline.FrameSubscription {
	if bufferSize <= 0 {
		bufferSize = 5
	}

	sub := &pipeline.FrameSubscription{
		Channel: make(chan *pipeline.FrameData, bufferSize),
		Done:    make(chan struct{}),
	}

	s.subMu.Lock()
	s.subscribers[sub] = true
	total := len(s.subscribers)
	s.subMu.Unlock()

	log.Printf("[Camera] New frame subscriber (total: %d)", total)
	return sub
}

// Unsubscribe implements pipeline.FrameSource.
func (s *Source) Unsubscribe(sub *pipeline.FrameSubscription) {
	if sub == nil {
		return
	}

	s.subMu.Lock()
	if _, ok := s.subscribers[sub]; ok {
		delete(s.subscribers, sub)
		close(sub.Done)
	}
	s.subMu.Unlock()
}

// Stats returns a copy of the capture counters.
func (s *Source) Stats() Stats {
	s.statsMu.RLock()
	defer s.statsMu.RUnlock()
	return s.stats
}

// run keeps FFmpeg alive until Stop, restarting it with a short backoff when
// the process dies (camera unplugged, stream hiccup).
func (s *Source) run() {
	defer s.wg.Done()

	s.running.Store(true)
	defer s.running.Store(false)

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		s.captureFFmpeg()

		select {
		case <-s.stopCh:
			return
		case <-time.After(2 * time.Second):
			s.statsMu.Lock()
			s.stats.Restarts++
			s.statsMu.Unlock()
			log.Printf("[Camera] Restarting capture for %s", s.device)
		}
	}
}

func (s *Source) ffmpegArgs() []string {
	if strings.HasPrefix(s.device, "rtsp://") {
		return []string{
			"-rtsp_transport", "tcp",
			"-i", s.device,
			"-f", "image2pipe",
			"-vcodec", "mjpeg",
			"-r", fmt.Sprintf("%d", s.fps),
			"-q:v", "5",
			"-",
		}
	}
	if strings.HasPrefix(s.device, "http://") || strings.HasPrefix(s.device, "https://") {
		return []string{
			"-i", s.device,
			"-f", "image2pipe",
			"-vcodec", "mjpeg",
			"-r", fmt.Sprintf("%d", s.fps),
			"-q:v", "5",
			"-",
		}
	}
	// V4L2 device (USB camera)
	return []string{
		"-f", "v4l2",
		"-video_size", fmt.Sprintf("%dx%d", s.width, s.height),
		"-framerate", fmt.Sprintf("%d", s.fps),
		"-i", s.device,
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "5",
		"-",
	}
}

func (s *Source) captureFFmpeg() {
	cmd := exec.Command("ffmpeg", s.ffmpegArgs()...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		log.Printf("[Camera] Error creating stdout pipe: %v", err)
		return
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		log.Printf("[Camera] Error creating stderr pipe: %v", err)
		return
	}

	if err := cmd.Start(); err != nil {
		log.Printf("[Camera] Error starting ffmpeg: %v", err)
		return
	}

	// Stop may have fired between cmd.Start and this assignment; its kill
	// would have missed the fresh process, so re-check under the same lock.
	s.cmdMu.Lock()
	s.cmd = cmd
	select {
	case <-s.stopCh:
		cmd.Process.Kill()
	default:
	}
	s.cmdMu.Unlock()
	defer cmd.Wait()

	// Consume stderr silently
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
		}
	}()

	frameBuffer := make([]byte, 0, 1024*1024)
	chunk := make([]byte, 8192)

	for {
		select {
		case <-s.stopCh:
			return
		default:
			n, err := stdout.Read(chunk)
			if err != nil {
				if err != io.EOF {
					log.Printf("[Camera] Error reading frame: %v", err)
				}
				return
			}

			frameBuffer = append(frameBuffer, chunk[:n]...)

			for {
				frame := extractJPEGFrame(&frameBuffer)
				if frame == nil {
					break
				}
				s.broadcastFrame(frame)
			}
		}
	}
}

func (s *Source) broadcastFrame(data []byte) {
	seq := s.frameSeq.Add(1)
	now := time.Now()

	frame := &pipeline.FrameData{
		Data:      data,
		Seq:       seq,
		Timestamp: now,
		Width:     s.width,
		Height:    s.height,
	}

	s.statsMu.Lock()
	s.stats.FramesCaptured++
	s.stats.LastFrameTime = now.Unix()
	s.statsMu.Unlock()

	s.subMu.RLock()
	for sub := range s.subscribers {
		select {
		case sub.Channel <- frame:
		default:
			// Subscriber is slow, drop frame
			s.statsMu.Lock()
			s.stats.FramesDropped++
			s.statsMu.Unlock()
		}
	}
	s.subMu.RUnlock()
}

// extractJPEGFrame pulls one complete JPEG (FFD8..FFD9) out of buffer.
func extractJPEGFrame(buffer *[]byte) []byte {
	if len(*buffer) < 4 {
		return nil
	}

	startIdx := -1
	for i := 0; i < len(*buffer)-1; i++ {
		if (*buffer)[i] == 0xFF && (*buffer)[i+1] == 0xD8 {
			startIdx = i
			break
		}
	}
	if startIdx == -1 {
		return nil
	}

	endIdx := -1
	for i := startIdx + 2; i < len(*buffer)-1; i++ {
		if (*buffer)[i] == 0xFF && (*buffer)[i+1] == 0xD9 {
			endIdx = i + 2
			break
		}
	}
	if endIdx == -1 {
		return nil
	}

	frame := make([]byte, endIdx-startIdx)
	copy(frame, (*buffer)[startIdx:endIdx])
	*buffer = (*buffer)[endIdx:]

	return frame
}

var _ pipeline.FrameSource = (*Source)(nil)
