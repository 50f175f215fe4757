package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"google.golang.org/api/option"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/satriahrh/streamvoice/adapters/googleauth"
	"github.com/satriahrh/streamvoice/domain/entities"
	"github.com/satriahrh/streamvoice/domain/repositories"
)

// Config configures the Cloud Speech recognizer
type Config struct {
	// CredentialsFile is a service account JSON file. Empty means
	// Application Default Credentials.
	CredentialsFile string
	// ClientOptions replace credential loading entirely when set.
	ClientOptions []option.ClientOption
}

// GoogleSpeechToText implements IntentRecognizer with Cloud Speech
// StreamingRecognize. It transcribes only; results never carry an intent.
type GoogleSpeechToText struct {
	config    Config
	logger    *zap.Logger
	newClient func(context.Context, ...option.ClientOption) (*speech.Client, error)

	group singleflight.Group

	mu     sync.Mutex
	client *speech.Client
}

// NewGoogleSpeechToText creates a recognizer. The client is created on the
// first OpenStream and shared afterwards.
func NewGoogleSpeechToText(config Config, logger *zap.Logger) *GoogleSpeechToText {
	return &GoogleSpeechToText{
		config:    config,
		logger:    logger,
		newClient: speech.NewClient,
	}
}

func (g *GoogleSpeechToText) Name() string {
	return "speech"
}

// speechClient returns the shared client. Callers arriving while it is
// being created wait on that attempt, bounded by their own ctx.
func (g *GoogleSpeechToText) speechClient(ctx context.Context) (*speech.Client, error) {
	g.mu.Lock()
	client := g.client
	g.mu.Unlock()
	if client != nil {
		return client, nil
	}

	ch := g.group.DoChan("speech", func() (interface{}, error) {
		return g.createClient(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*speech.Client), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for speech client: %w", ctx.Err())
	}
}

func (g *GoogleSpeechToText) createClient(ctx context.Context) (*speech.Client, error) {
	g.mu.Lock()
	if g.client != nil {
		client := g.client
		g.mu.Unlock()
		return client, nil
	}
	g.mu.Unlock()

	opts := g.config.ClientOptions
	if len(opts) == 0 {
		creds, err := googleauth.LoadCredentials(ctx, g.config.CredentialsFile, speech.DefaultAuthScopes()...)
		if err != nil {
			return nil, err
		}
		opts = []option.ClientOption{option.WithCredentials(creds)}
	}

	client, err := g.newClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}

	g.mu.Lock()
	g.client = client
	g.mu.Unlock()

	g.logger.Info("Speech client created")
	return client, nil
}

// OpenStream opens a StreamingRecognize call and sends the streaming config.
// The session id is only used for logging; Cloud Speech has no sessions.
func (g *GoogleSpeechToText) OpenStream(ctx context.Context, sessionID string, config repositories.AudioConfig) (repositories.RecognitionStream, error) {
	client, err := g.speechClient(ctx)
	if err != nil {
		return nil, err
	}

	// Convert encoding string to Google Speech API enum
	encoding, err := getAudioEncoding(config.Encoding)
	if err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := client.StreamingRecognize(streamCtx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create streaming recognize: %w", err)
	}

	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:        encoding,
					SampleRateHertz: int32(config.SampleRateHertz),
					LanguageCode:    config.LanguageCode,
				},
				InterimResults: true,
			},
		},
	}); err != nil {
		if errors.Is(err, io.EOF) {
			_, err = stream.Recv()
		}
		cancel()
		return nil, fmt.Errorf("failed to send streaming config: %w", err)
	}

	g.logger.Debug("Speech stream opened", zap.String("sessionID", sessionID))
	return &GoogleSpeechToTextStream{stream: stream, cancel: cancel}, nil
}

// Close releases the shared client
func (g *GoogleSpeechToText) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.client == nil {
		return nil
	}
	err := g.client.Close()
	g.client = nil
	return err
}

// GoogleSpeechToTextStream is one StreamingRecognize call. Finalized
// utterances accumulate so each result carries the whole transcript so far.
type GoogleSpeechToTextStream struct {
	stream speechpb.Speech_StreamingRecognizeClient
	cancel context.CancelFunc

	finals []string
}

func (g *GoogleSpeechToTextStream) Send(audio []byte) error {
	if err := g.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: audio,
		},
	}); err != nil {
		return fmt.Errorf("failed to send audio data: %w", err)
	}
	return nil
}

func (g *GoogleSpeechToTextStream) CloseSend() error {
	return g.stream.CloseSend()
}

func (g *GoogleSpeechToTextStream) Recv() (*entities.RecognitionResult, error) {
	resp, err := g.stream.Recv()
	if err != nil {
		return nil, err
	}
	if resp.GetError() != nil {
		return nil, fmt.Errorf("recognition failed: %w", status.ErrorProto(resp.GetError()))
	}
	return g.toResult(resp)
}

func (g *GoogleSpeechToTextStream) Close() error {
	g.cancel()
	return nil
}

func (g *GoogleSpeechToTextStream) toResult(resp *speechpb.StreamingRecognizeResponse) (*entities.RecognitionResult, error) {
	raw, err := protojson.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal recognize response: %w", err)
	}

	var interim []string
	isFinal := false
	for _, result := range resp.GetResults() {
		if len(result.GetAlternatives()) == 0 {
			continue
		}
		// Take the best alternative
		transcript := strings.TrimSpace(result.GetAlternatives()[0].GetTranscript())
		if result.GetIsFinal() {
			g.finals = append(g.finals, transcript)
			isFinal = true
		} else {
			interim = append(interim, transcript)
		}
	}

	transcript := strings.Join(append(append([]string{}, g.finals...), interim...), " ")
	return &entities.RecognitionResult{
		Transcript: transcript,
		QueryText:  transcript,
		IsFinal:    isFinal,
		Raw:        raw,
	}, nil
}

// getAudioEncoding converts string encoding to Google Speech API enum
func getAudioEncoding(encoding string) (speechpb.RecognitionConfig_AudioEncoding, error) {
	switch encoding {
	case "", "WAV", "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16, nil
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC, nil
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW, nil
	case "AMR":
		return speechpb.RecognitionConfig_AMR, nil
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB, nil
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS, nil
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE, nil
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS, nil
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, fmt.Errorf("unsupported audio encoding: %s", encoding)
	}
}
