package room

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/interview-room/internal/interview"
	"github.com/ashureev/interview-room/internal/metrics"
)

const writeTimeout = 10 * time.Second

// Close reasons reported in metrics and close frames.
const (
	ReasonDisconnected = "disconnected"
	ReasonReplaced     = "session replaced"
	ReasonIdle         = "idle timeout"
	ReasonSlowClient   = "client too slow"
	ReasonShutdown     = "server shutdown"
)

// Room binds one browser connection to one interview controller.
type Room struct {
	userID string
	tabID  string
	conn   *websocket.Conn
	ctrl   *interview.Controller
	out    *outbox
	rec    *remoteRecognizer
	synth  *remoteSynthesizer

	opened     time.Time
	lastActive atomic.Int64
	handshake  sync.Once

	closeOnce   sync.Once
	closeReason atomic.Value
	metrics     *metrics.Metrics
}

// Params carries what a room needs to build its controller.
type Params struct {
	UserID   string
	TabID    string
	Config   interview.Config
	Client   interview.ChatClient
	Sessions interview.SessionStore
	Language string
	Output   interview.OutputOptions
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

func newRoom(conn *websocket.Conn, p Params) *Room {
	r := &Room{
		userID:  p.UserID,
		tabID:   p.TabID,
		conn:    conn,
		opened:  time.Now(),
		metrics: p.Metrics,
	}
	r.out = newOutbox(p.Metrics, func() { r.Close(ReasonSlowClient) })
	r.rec = &remoteRecognizer{out: r.out}
	r.synth = &remoteSynthesizer{out: r.out}
	r.touch(r.opened)

	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r.ctrl = interview.NewController(p.Config, p.Client, p.Sessions,
		interview.Devices{
			Recognizer:  r.rec,
			Synthesizer: r.synth,
			Language:    p.Language,
			Output:      p.Output,
		},
		interview.WithNotifier(frameNotifier{out: r.out}),
		interview.WithLogger(logger.With("user_id", p.UserID, "tab_id", p.TabID)),
	)
	return r
}

func (r *Room) touch(t time.Time) { r.lastActive.Store(t.UnixNano()) }

// LastActive returns when the browser last sent a frame.
func (r *Room) LastActive() time.Time { return time.Unix(0, r.lastActive.Load()) }

// Serve runs the room until the connection drops or ctx is cancelled.
func (r *Room) Serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() { _ = r.ctrl.Run(ctx) }()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		r.writeLoop(ctx)
	}()

	r.readLoop(ctx)
	cancel()
	<-r.ctrl.Done()
	r.out.close()
	wg.Wait()

	reason := ReasonDisconnected
	if v, ok := r.closeReason.Load().(string); ok {
		reason = v
	}
	r.metrics.RecordRoomClose(reason, time.Since(r.opened))
	slog.Info("Interview room closed", "user_id", r.userID, "tab_id", r.tabID, "reason", reason)
}

// Close terminates the room's connection without waiting for the close
// handshake; Serve returns once the read loop observes it.
func (r *Room) Close(reason string) {
	r.closeOnce.Do(func() {
		r.closeReason.Store(reason)
		r.out.close()
		if r.conn != nil {
			go func() { _ = r.conn.Close(websocket.StatusNormalClosure, reason) }()
		}
	})
}

func (r *Room) readLoop(ctx context.Context) {
	for {
		_, data, err := r.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				slog.Debug("Interview room closed by client", "user_id", r.userID)
			} else {
				slog.Warn("Interview room read error", "error", err, "user_id", r.userID)
			}
			return
		}
		r.touch(time.Now())

		var f Inbound
		if err := json.Unmarshal(data, &f); err != nil {
			slog.Debug("Ignoring malformed frame", "user_id", r.userID, "error", err)
			continue
		}
		r.dispatch(f)
	}
}

//nolint:gocyclo // One switch maps every frame onto a controller event.
func (r *Room) dispatch(f Inbound) {
	switch f.Type {
	case FrameCapabilities:
		r.rec.supported.Store(f.Recognition)
		r.synth.supported.Store(f.Synthesis)
		if len(f.Voices) > 0 {
			r.synth.setVoices(f.Voices)
			r.ctrl.VoicesLoaded(f.Voices)
		}
		// The first handshake resumes the stored session; capabilities must
		// be known before restored state is published.
		r.handshake.Do(r.ctrl.Restore)
	case FrameTranscript:
		r.ctrl.TranscriptUpdated(f.Segments)
	case FrameRecognitionEnd:
		r.ctrl.RecognitionEnded()
	case FrameRecognitionError:
		r.ctrl.RecognitionFailed(f.Code)
	case FrameSpeechStart:
		r.ctrl.SpeechStarted(f.ID)
	case FrameSpeechEnd:
		r.ctrl.SpeechEnded(f.ID)
	case FrameVoices:
		r.synth.setVoices(f.Voices)
		r.ctrl.VoicesLoaded(f.Voices)
	case FrameInput:
		if f.Text != nil {
			r.ctrl.SetInput(*f.Text)
		}
	case FrameSubmit:
		if f.Text != nil {
			r.ctrl.SubmitText(*f.Text)
		} else {
			r.ctrl.Submit()
		}
	case FrameToggleMic:
		r.ctrl.ToggleListening()
	case FrameStart:
		r.ctrl.Start()
	case FrameReset:
		r.ctrl.Reset()
	case FrameEnd:
		r.ctrl.End()
	case FramePause:
		r.ctrl.PauseSpeech()
	case FrameResume:
		r.ctrl.ResumeSpeech()
	case FrameStopSpeech:
		r.ctrl.StopSpeech()
	case FramePing:
		_ = r.out.send(Outbound{Type: FramePong})
	default:
		slog.Debug("Ignoring unknown frame", "user_id", r.userID, "type", f.Type)
	}
}

func (r *Room) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-r.out.ch:
			data, err := json.Marshal(f)
			if err != nil {
				slog.Warn("Failed to encode frame", "type", f.Type, "error", err)
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = r.conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					slog.Debug("Interview room write error", "error", err, "user_id", r.userID)
				}
				return
			}
		}
	}
}
