package intent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	dialogflow "cloud.google.com/go/dialogflow/apiv2"
	"cloud.google.com/go/dialogflow/apiv2/dialogflowpb"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"google.golang.org/api/option"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/satriahrh/streamvoice/adapters/googleauth"
	"github.com/satriahrh/streamvoice/domain/entities"
	"github.com/satriahrh/streamvoice/domain/repositories"
)

// Config configures the Dialogflow recognizer
type Config struct {
	// CredentialsFile is a service account JSON file. Empty means
	// Application Default Credentials.
	CredentialsFile string
	// ProjectID overrides the project named by the credentials.
	ProjectID string
	// ClientOptions replace credential loading entirely when set.
	ClientOptions []option.ClientOption
}

// DialogflowRecognizer implements IntentRecognizer with Dialogflow ES
// StreamingDetectIntent.
type DialogflowRecognizer struct {
	config    Config
	logger    *zap.Logger
	newClient func(context.Context, ...option.ClientOption) (*dialogflow.SessionsClient, error)

	group singleflight.Group

	mu        sync.Mutex
	client    *dialogflow.SessionsClient
	projectID string
}

// NewDialogflowRecognizer creates a recognizer. Credentials are loaded on
// the first OpenStream, so a bad credential fails that connection only.
func NewDialogflowRecognizer(config Config, logger *zap.Logger) *DialogflowRecognizer {
	return &DialogflowRecognizer{
		config:    config,
		logger:    logger,
		newClient: dialogflow.NewSessionsClient,
	}
}

func (r *DialogflowRecognizer) Name() string {
	return "dialogflow"
}

type sessionsHandle struct {
	client    *dialogflow.SessionsClient
	projectID string
}

// sessionsClient returns the shared client, creating it on first use.
// Concurrent callers share one creation attempt and each stops waiting when
// its own ctx ends. A failed attempt is not cached.
func (r *DialogflowRecognizer) sessionsClient(ctx context.Context) (*dialogflow.SessionsClient, string, error) {
	r.mu.Lock()
	client, projectID := r.client, r.projectID
	r.mu.Unlock()
	if client != nil {
		return client, projectID, nil
	}

	ch := r.group.DoChan("sessions", func() (interface{}, error) {
		return r.createClient(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, "", res.Err
		}
		created := res.Val.(*sessionsHandle)
		return created.client, created.projectID, nil
	case <-ctx.Done():
		return nil, "", fmt.Errorf("waiting for sessions client: %w", ctx.Err())
	}
}

// createClient loads credentials and dials without holding r.mu; the lock
// only guards publishing the result.
func (r *DialogflowRecognizer) createClient(ctx context.Context) (*sessionsHandle, error) {
	r.mu.Lock()
	if r.client != nil {
		existing := &sessionsHandle{client: r.client, projectID: r.projectID}
		r.mu.Unlock()
		return existing, nil
	}
	r.mu.Unlock()

	opts := r.config.ClientOptions
	projectID := r.config.ProjectID
	if len(opts) == 0 {
		creds, err := googleauth.LoadCredentials(ctx, r.config.CredentialsFile, dialogflow.DefaultAuthScopes()...)
		if err != nil {
			return nil, err
		}
		projectID, err = googleauth.ProjectID(projectID, creds)
		if err != nil {
			return nil, err
		}
		opts = []option.ClientOption{option.WithCredentials(creds)}
	} else if projectID == "" {
		return nil, googleauth.ErrNoProjectID
	}

	client, err := r.newClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sessions client: %w", err)
	}

	r.mu.Lock()
	r.client = client
	r.projectID = projectID
	r.mu.Unlock()

	r.logger.Info("Dialogflow sessions client created", zap.String("projectID", projectID))
	return &sessionsHandle{client: client, projectID: projectID}, nil
}

// OpenStream opens a StreamingDetectIntent call and sends the initial
// request carrying only the session path and the audio configuration.
func (r *DialogflowRecognizer) OpenStream(ctx context.Context, sessionID string, config repositories.AudioConfig) (repositories.RecognitionStream, error) {
	client, projectID, err := r.sessionsClient(ctx)
	if err != nil {
		return nil, err
	}

	encoding, err := audioEncoding(config.Encoding)
	if err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := client.StreamingDetectIntent(streamCtx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open streaming detect intent: %w", err)
	}

	if err := stream.Send(&dialogflowpb.StreamingDetectIntentRequest{
		Session: SessionPath(projectID, sessionID),
		QueryInput: &dialogflowpb.QueryInput{
			Input: &dialogflowpb.QueryInput_AudioConfig{
				AudioConfig: &dialogflowpb.InputAudioConfig{
					AudioEncoding:   encoding,
					SampleRateHertz: int32(config.SampleRateHertz),
					LanguageCode:    config.LanguageCode,
				},
			},
		},
	}); err != nil {
		if errors.Is(err, io.EOF) {
			// The stream already failed; Recv carries the status.
			_, err = stream.Recv()
		}
		cancel()
		return nil, fmt.Errorf("failed to send query input config: %w", err)
	}

	return &dialogflowStream{stream: stream, cancel: cancel}, nil
}

// Close releases the shared client
func (r *DialogflowRecognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.client = nil
	return err
}

// SessionPath formats the Dialogflow session resource name
func SessionPath(projectID, sessionID string) string {
	return fmt.Sprintf("projects/%s/agent/sessions/%s", projectID, sessionID)
}

type dialogflowStream struct {
	stream dialogflowpb.Sessions_StreamingDetectIntentClient
	cancel context.CancelFunc
}

func (s *dialogflowStream) Send(audio []byte) error {
	if err := s.stream.Send(&dialogflowpb.StreamingDetectIntentRequest{
		InputAudio: audio,
	}); err != nil {
		return fmt.Errorf("failed to send audio data: %w", err)
	}
	return nil
}

func (s *dialogflowStream) CloseSend() error {
	return s.stream.CloseSend()
}

func (s *dialogflowStream) Recv() (*entities.RecognitionResult, error) {
	resp, err := s.stream.Recv()
	if err != nil {
		return nil, err
	}
	return ResultFromResponse(resp)
}

func (s *dialogflowStream) Close() error {
	s.cancel()
	return nil
}

// ResultFromResponse maps a streaming response onto a RecognitionResult.
// Interim responses only carry a recognition result; the final one carries
// the query result with the matched intent.
func ResultFromResponse(resp *dialogflowpb.StreamingDetectIntentResponse) (*entities.RecognitionResult, error) {
	raw, err := protojson.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal detect intent response: %w", err)
	}

	queryResult := resp.GetQueryResult()
	result := &entities.RecognitionResult{
		Transcript:                resp.GetRecognitionResult().GetTranscript(),
		IntentDisplayName:         queryResult.GetIntent().GetDisplayName(),
		QueryText:                 queryResult.GetQueryText(),
		IntentDetectionConfidence: queryResult.GetIntentDetectionConfidence(),
		FulfillmentText:           queryResult.GetFulfillmentText(),
		IsFinal:                   queryResult != nil || resp.GetRecognitionResult().GetIsFinal(),
		Raw:                       raw,
	}
	if result.Transcript == "" {
		result.Transcript = result.QueryText
	}
	return result, nil
}

func audioEncoding(encoding string) (dialogflowpb.AudioEncoding, error) {
	switch encoding {
	case "", "LINEAR16":
		return dialogflowpb.AudioEncoding_AUDIO_ENCODING_LINEAR_16, nil
	case "FLAC":
		return dialogflowpb.AudioEncoding_AUDIO_ENCODING_FLAC, nil
	case "MULAW":
		return dialogflowpb.AudioEncoding_AUDIO_ENCODING_MULAW, nil
	case "AMR":
		return dialogflowpb.AudioEncoding_AUDIO_ENCODING_AMR, nil
	case "AMR_WB":
		return dialogflowpb.AudioEncoding_AUDIO_ENCODING_AMR_WB, nil
	case "OGG_OPUS":
		return dialogflowpb.AudioEncoding_AUDIO_ENCODING_OGG_OPUS, nil
	case "SPEEX_WITH_HEADER_BYTE":
		return dialogflowpb.AudioEncoding_AUDIO_ENCODING_SPEEX_WITH_HEADER_BYTE, nil
	default:
		return dialogflowpb.AudioEncoding_AUDIO_ENCODING_UNSPECIFIED, fmt.Errorf("unsupported audio encoding: %s", encoding)
	}
}
