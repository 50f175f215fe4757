package websocket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/satriahrh/streamvoice/domain/entities"
	"github.com/satriahrh/streamvoice/domain/repositories"
	"github.com/satriahrh/streamvoice/internal/metrics"
	"github.com/satriahrh/streamvoice/internal/session"
)

// FinalizeReason names what triggered a finalize
type FinalizeReason string

const (
	ReasonSentinel       FinalizeReason = "sentinel"
	ReasonTransportClose FinalizeReason = "transport_close"
	ReasonBackendError   FinalizeReason = "backend_error"
	ReasonMaxAge         FinalizeReason = "max_age"
	ReasonShutdown       FinalizeReason = "shutdown"
)

// DefaultDrainTimeout bounds how long a finalize waits for the backend.
const DefaultDrainTimeout = 15 * time.Second

// BridgeConfig holds the per-connection recognition settings
type BridgeConfig struct {
	Audio        repositories.AudioConfig
	Sentinel     []byte
	DrainTimeout time.Duration

	// ReportOnAbruptClose sends the drained result even when the client
	// disconnected without the sentinel. When false the drain still runs
	// but nothing is sent.
	ReportOnAbruptClose bool
}

// Bridge maps connection events onto recognition streams.
type Bridge struct {
	registry   *session.Registry
	recognizer repositories.IntentRecognizer
	config     BridgeConfig
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewBridge creates a bridge. Zero config fields take their defaults.
func NewBridge(
	registry *session.Registry,
	recognizer repositories.IntentRecognizer,
	config BridgeConfig,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Bridge {
	if len(config.Sentinel) == 0 {
		config.Sentinel = DefaultSentinel
	}
	if config.DrainTimeout <= 0 {
		config.DrainTimeout = DefaultDrainTimeout
	}
	return &Bridge{
		registry:   registry,
		recognizer: recognizer,
		config:     config,
		metrics:    m,
		logger:     logger,
	}
}

// Registry returns the session registry the bridge writes to
func (b *Bridge) Registry() *session.Registry {
	return b.registry
}

// OnOpen opens and registers a recognition session for conn. A returned
// error is always a KindEstablishment BridgeError and nothing is registered.
func (b *Bridge) OnOpen(ctx context.Context, conn session.Connection) error {
	logger := b.logger.With(zap.String("connectionID", conn.ID()))
	logger.Info("Connection establish start", zap.String("backend", b.recognizer.Name()))

	sessionID := uuid.NewString()
	stream, err := b.recognizer.OpenStream(ctx, sessionID, b.config.Audio)
	if err != nil {
		b.metrics.RecordEstablishmentFailure()
		logger.Error("Failed to open recognition stream",
			zap.String("sessionID", sessionID),
			zap.Error(err))
		return newBridgeError(KindEstablishment, conn.ID(), err)
	}

	s := session.New(sessionID, conn, stream)
	if err := b.registry.Put(conn.ID(), s); err != nil {
		stream.Close()
		b.metrics.RecordEstablishmentFailure()
		logger.Error("Failed to register recognition session",
			zap.String("sessionID", sessionID),
			zap.Error(err))
		return newBridgeError(KindEstablishment, conn.ID(), err)
	}
	s.Transition(session.StateInitializing, session.StateStreaming)
	b.metrics.RecordSessionOpened()

	logger.Info("Connection establish end", zap.String("sessionID", sessionID))
	return nil
}

// OnBinaryFrame forwards one inbound frame, or finalizes on the sentinel.
// Frames are expected in arrival order from a single goroutine per connection.
func (b *Bridge) OnBinaryFrame(conn session.Connection, frame []byte) error {
	s, err := b.registry.Get(conn.ID())
	if err != nil {
		b.metrics.RecordFrameDropped(string(KindLateFrame))
		b.logger.Warn("Dropping frame for connection without active session",
			zap.String("connectionID", conn.ID()),
			zap.Int("size", len(frame)))
		return newBridgeError(KindLateFrame, conn.ID(), err)
	}

	if IsSentinel(frame, b.config.Sentinel) {
		b.logger.Info("End of audio received",
			zap.String("connectionID", conn.ID()),
			zap.String("sessionID", s.ID),
			zap.Int("framesForwarded", s.FramesForwarded()))
		b.Finalize(s, ReasonSentinel)
		return nil
	}

	if len(frame) == 0 {
		b.metrics.RecordFrameDropped(string(KindMalformedFrame))
		b.logger.Warn("Dropping empty frame", zap.String("connectionID", conn.ID()))
		return newBridgeError(KindMalformedFrame, conn.ID(), errors.New("empty audio frame"))
	}

	if s.State() != session.StateStreaming {
		b.metrics.RecordFrameDropped(string(KindLateFrame))
		return newBridgeError(KindLateFrame, conn.ID(), fmt.Errorf("session is %s", s.State()))
	}

	if err := s.SendAudio(frame); err != nil {
		if errors.Is(err, session.ErrSendClosed) {
			b.metrics.RecordFrameDropped(string(KindLateFrame))
			return newBridgeError(KindLateFrame, conn.ID(), err)
		}
		b.metrics.RecordBackendError()
		b.logger.Error("Failed to forward audio frame",
			zap.String("connectionID", conn.ID()),
			zap.String("sessionID", s.ID),
			zap.Error(err))
		b.Finalize(s, ReasonBackendError)
		return newBridgeError(KindBackendStream, conn.ID(), err)
	}

	b.metrics.RecordFrameForwarded()
	return nil
}

// OnTextFrame rejects text frames; the protocol carries audio only.
func (b *Bridge) OnTextFrame(conn session.Connection, text []byte) error {
	b.metrics.RecordFrameDropped(string(KindMalformedFrame))
	b.logger.Warn("Dropping unexpected text frame",
		zap.String("connectionID", conn.ID()),
		zap.Int("size", len(text)))
	return newBridgeError(KindMalformedFrame, conn.ID(), errors.New("text frames are not accepted"))
}

// OnClose handles the transport going away. A session still registered at
// this point was never finalized, so it is finalized now.
func (b *Bridge) OnClose(conn session.Connection, cause error) {
	s, err := b.registry.Get(conn.ID())
	if err != nil {
		b.logger.Debug("Connection closed", zap.String("connectionID", conn.ID()))
		return
	}

	if s.State() == session.StateStreaming {
		berr := newBridgeError(KindTransport, conn.ID(), cause)
		b.logger.Warn("Connection closed before end of audio",
			zap.String("connectionID", conn.ID()),
			zap.String("sessionID", s.ID),
			zap.Error(berr))
	}
	b.finalize(s, ReasonTransportClose, b.config.ReportOnAbruptClose)
}

// Finalize closes the outbound half, drains the backend, sends the last
// response to the client and closes the connection. Only the first call
// for a session has any effect.
func (b *Bridge) Finalize(s *session.Session, reason FinalizeReason) {
	b.finalize(s, reason, true)
}

func (b *Bridge) finalize(s *session.Session, reason FinalizeReason, report bool) {
	if !s.Transition(session.StateStreaming, session.StateFinalizing) {
		return
	}

	connID := s.Conn.ID()
	logger := b.logger.With(
		zap.String("connectionID", connID),
		zap.String("sessionID", s.ID),
		zap.String("reason", string(reason)))
	logger.Info("Finalize start")
	b.metrics.RecordFinalization(string(reason))

	defer func() {
		b.registry.Remove(connID)
		if err := s.Stream.Close(); err != nil {
			logger.Debug("Failed to release recognition stream", zap.Error(err))
		}
		s.MarkClosed()
		b.metrics.RecordSessionClosed(s.Age(time.Now()).Seconds())
		logger.Info("Finalize end")
	}()

	if err := s.CloseSend(); err != nil {
		b.metrics.RecordBackendError()
		logger.Error("Failed to close recognition stream send side",
			zap.Error(newBridgeError(KindBackendStream, connID, err)))
	}

	out := b.drain(s, logger)
	if out.err != nil {
		b.metrics.RecordBackendError()
		logger.Error("Recognition stream failed during drain",
			zap.Int("responses", out.count),
			zap.Error(newBridgeError(KindBackendStream, connID, out.err)))
	}
	if out.timedOut {
		logger.Warn("Drain deadline exceeded",
			zap.Duration("drainTimeout", b.config.DrainTimeout),
			zap.Int("responses", out.count))
	}

	if report {
		b.report(s, out.last, logger)
	}

	if err := s.Conn.Close(); err != nil {
		logger.Debug("Failed to close connection", zap.Error(err))
	}
}

func (b *Bridge) report(s *session.Session, last *entities.RecognitionResult, logger *zap.Logger) {
	text, err := EncodeResult(last)
	if err != nil {
		logger.Error("Failed to encode result", zap.Error(err))
		text = EmptyResponse
		last = nil
	}

	outcome := "empty"
	switch {
	case last == nil:
	case last.HasIntent():
		outcome = "intent"
	default:
		outcome = "no_intent"
	}

	if err := s.Conn.SendText(text); err != nil {
		logger.Warn("Failed to send result",
			zap.Error(newBridgeError(KindTransport, s.Conn.ID(), err)))
		b.metrics.RecordResultSent("undelivered")
		return
	}
	b.metrics.RecordResultSent(outcome)
}

type drainOutcome struct {
	last     *entities.RecognitionResult
	count    int
	err      error
	timedOut bool
}

// drain consumes responses until the backend ends the stream, fails, or
// the drain deadline passes, keeping only the most recent response. The
// receive goroutine exits once the stream is closed by the caller.
func (b *Bridge) drain(s *session.Session, logger *zap.Logger) drainOutcome {
	start := time.Now()
	responses := make(chan *entities.RecognitionResult)
	recvErr := make(chan error, 1)
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		for {
			resp, err := s.Stream.Recv()
			if err != nil {
				recvErr <- err
				return
			}
			select {
			case responses <- resp:
			case <-stop:
				return
			}
		}
	}()

	timer := time.NewTimer(b.config.DrainTimeout)
	defer timer.Stop()

	var out drainOutcome
	defer func() {
		b.metrics.RecordDrain(time.Since(start).Seconds(), out.timedOut)
	}()

	for {
		select {
		case resp := <-responses:
			out.last = resp
			out.count++
			logger.Debug("Recognition response",
				zap.String("transcript", resp.Transcript),
				zap.String("intentDisplayName", resp.IntentDisplayName),
				zap.String("queryText", resp.QueryText),
				zap.Float32("intentDetectionConfidence", resp.IntentDetectionConfidence),
				zap.String("fulfillmentText", resp.FulfillmentText),
				zap.Bool("isFinal", resp.IsFinal))
		case err := <-recvErr:
			if !errors.Is(err, io.EOF) {
				out.err = err
			}
			return out
		case <-timer.C:
			out.timedOut = true
			return out
		}
	}
}

// FinalizeAll finalizes every registered session concurrently and waits
// until they are done or ctx expires.
func (b *Bridge) FinalizeAll(ctx context.Context, reason FinalizeReason) error {
	var wg sync.WaitGroup
	for _, s := range b.registry.Snapshot() {
		wg.Add(1)
		go func(s *session.Session) {
			defer wg.Done()
			b.Finalize(s, reason)
		}(s)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("finalizing sessions: %w", ctx.Err())
	}
}
