package intent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	dialogflow "cloud.google.com/go/dialogflow/apiv2"
	"cloud.google.com/go/dialogflow/apiv2/dialogflowpb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/satriahrh/streamvoice/adapters/googleauth"
	"github.com/satriahrh/streamvoice/domain/entities"
	"github.com/satriahrh/streamvoice/domain/repositories"
)

type fakeSessionsServer struct {
	dialogflowpb.UnimplementedSessionsServer

	responses []*dialogflowpb.StreamingDetectIntentResponse
	// hold blocks the handler until the client goes away.
	hold bool

	mu    sync.Mutex
	first *dialogflowpb.StreamingDetectIntentRequest
	audio [][]byte
}

func (f *fakeSessionsServer) StreamingDetectIntent(stream dialogflowpb.Sessions_StreamingDetectIntentServer) error {
	first, err := stream.Recv()
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.first = first
	f.mu.Unlock()

	if f.hold {
		<-stream.Context().Done()
		return status.Error(codes.Canceled, "client went away")
	}

	for {
		req, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		f.mu.Lock()
		f.audio = append(f.audio, req.GetInputAudio())
		f.mu.Unlock()
	}

	for _, resp := range f.responses {
		if err := stream.Send(resp); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeSessionsServer) received() (*dialogflowpb.StreamingDetectIntentRequest, [][]byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.first, f.audio
}

func newTestRecognizer(t *testing.T, fake *fakeSessionsServer) *DialogflowRecognizer {
	t.Helper()

	lis := bufconn.Listen(1024 * 1024)
	srv := grpc.NewServer()
	dialogflowpb.RegisterSessionsServer(srv, fake)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	rec := NewDialogflowRecognizer(Config{
		ProjectID:     "test-project",
		ClientOptions: []option.ClientOption{option.WithGRPCConn(conn)},
	}, zap.NewNop())
	t.Cleanup(func() { rec.Close() })
	return rec
}

var testAudio = repositories.AudioConfig{
	Encoding:        "LINEAR16",
	SampleRateHertz: 16000,
	LanguageCode:    "en-US",
}

func TestDialogflowRecognizer_StreamLifecycle(t *testing.T) {
	fake := &fakeSessionsServer{
		responses: []*dialogflowpb.StreamingDetectIntentResponse{
			{RecognitionResult: &dialogflowpb.StreamingRecognitionResult{Transcript: "book"}},
			{RecognitionResult: &dialogflowpb.StreamingRecognitionResult{Transcript: "book a table"}},
			{
				ResponseId: "resp-1",
				QueryResult: &dialogflowpb.QueryResult{
					QueryText:                 "book a table",
					FulfillmentText:           "For how many people?",
					IntentDetectionConfidence: 0.92,
					Intent:                    &dialogflowpb.Intent{DisplayName: "book.table"},
				},
			},
		},
	}
	rec := newTestRecognizer(t, fake)

	stream, err := rec.OpenStream(context.Background(), "session-1", testAudio)
	require.NoError(t, err)
	defer stream.Close()

	chunks := [][]byte{{1, 2}, {3, 4}, {5, 6}}
	for _, chunk := range chunks {
		require.NoError(t, stream.Send(chunk))
	}
	require.NoError(t, stream.CloseSend())

	var transcripts []string
	var last *entities.RecognitionResult
	for {
		result, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		transcripts = append(transcripts, result.Transcript)
		last = result
	}

	assert.Equal(t, []string{"book", "book a table", "book a table"}, transcripts)
	require.NotNil(t, last)
	assert.Equal(t, "book.table", last.IntentDisplayName)
	assert.Equal(t, "For how many people?", last.FulfillmentText)
	assert.InDelta(t, 0.92, last.IntentDetectionConfidence, 1e-6)
	assert.True(t, last.IsFinal)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(last.Raw, &raw))
	assert.Equal(t, "resp-1", raw["responseId"])

	first, audio := fake.received()
	require.NotNil(t, first)
	assert.Equal(t, "projects/test-project/agent/sessions/session-1", first.GetSession())
	assert.Empty(t, first.GetInputAudio(), "initial request must not carry audio")
	cfg := first.GetQueryInput().GetAudioConfig()
	require.NotNil(t, cfg)
	assert.Equal(t, dialogflowpb.AudioEncoding_AUDIO_ENCODING_LINEAR_16, cfg.GetAudioEncoding())
	assert.Equal(t, int32(16000), cfg.GetSampleRateHertz())
	assert.Equal(t, "en-US", cfg.GetLanguageCode())
	assert.Equal(t, chunks, audio)
}

func TestDialogflowRecognizer_CloseUnblocksRecv(t *testing.T) {
	rec := newTestRecognizer(t, &fakeSessionsServer{hold: true})

	stream, err := rec.OpenStream(context.Background(), "session-2", testAudio)
	require.NoError(t, err)
	require.NoError(t, stream.CloseSend())

	errCh := make(chan error, 1)
	go func() {
		_, err := stream.Recv()
		errCh <- err
	}()

	require.NoError(t, stream.Close())

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.NotErrorIs(t, err, io.EOF)
	case <-time.After(5 * time.Second):
		t.Fatal("Recv did not return after Close")
	}
}

func TestDialogflowRecognizer_Establishment(t *testing.T) {
	t.Run("missing project id", func(t *testing.T) {
		rec := NewDialogflowRecognizer(Config{
			ClientOptions: []option.ClientOption{option.WithoutAuthentication()},
		}, zap.NewNop())

		_, err := rec.OpenStream(context.Background(), "s", testAudio)
		assert.ErrorIs(t, err, googleauth.ErrNoProjectID)
	})

	t.Run("unreadable credentials file", func(t *testing.T) {
		rec := NewDialogflowRecognizer(Config{
			CredentialsFile: "/nonexistent/credentials.json",
		}, zap.NewNop())

		_, err := rec.OpenStream(context.Background(), "s", testAudio)
		assert.Error(t, err)
	})

	t.Run("unsupported encoding", func(t *testing.T) {
		rec := newTestRecognizer(t, &fakeSessionsServer{})

		_, err := rec.OpenStream(context.Background(), "s", repositories.AudioConfig{
			Encoding:        "MP3",
			SampleRateHertz: 16000,
			LanguageCode:    "en-US",
		})
		assert.ErrorContains(t, err, "unsupported audio encoding")
	})
}

func TestDialogflowRecognizer_SlowClientCreation(t *testing.T) {
	rec := newTestRecognizer(t, &fakeSessionsServer{})

	release := make(chan struct{})
	var calls atomic.Int32
	create := rec.newClient
	rec.newClient = func(ctx context.Context, opts ...option.ClientOption) (*dialogflow.SessionsClient, error) {
		calls.Add(1)
		<-release
		return create(ctx, opts...)
	}

	const callers = 4
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			stream, err := rec.OpenStream(context.Background(), fmt.Sprintf("session-%d", i), testAudio)
			if err == nil {
				stream.Close()
			}
			errs <- err
		}(i)
	}

	// A caller with its own deadline stops waiting on the shared attempt.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := rec.OpenStream(ctx, "impatient", testAudio)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	closed := make(chan struct{})
	go func() {
		rec.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked while the client was being created")
	}

	close(release)
	for i := 0; i < callers; i++ {
		assert.NoError(t, <-errs)
	}
	assert.Equal(t, int32(1), calls.Load(), "concurrent callers share one creation")
}

func TestDialogflowRecognizer_FailedCreationIsRetried(t *testing.T) {
	rec := newTestRecognizer(t, &fakeSessionsServer{})

	var calls atomic.Int32
	create := rec.newClient
	rec.newClient = func(ctx context.Context, opts ...option.ClientOption) (*dialogflow.SessionsClient, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("credentials unavailable")
		}
		return create(ctx, opts...)
	}

	_, err := rec.OpenStream(context.Background(), "first", testAudio)
	assert.ErrorContains(t, err, "credentials unavailable")

	stream, err := rec.OpenStream(context.Background(), "second", testAudio)
	require.NoError(t, err)
	stream.Close()
	assert.Equal(t, int32(2), calls.Load())
}

func TestResultFromResponse(t *testing.T) {
	tests := []struct {
		name           string
		resp           *dialogflowpb.StreamingDetectIntentResponse
		wantTranscript string
		wantIntent     string
		wantFinal      bool
	}{
		{
			name: "interim recognition",
			resp: &dialogflowpb.StreamingDetectIntentResponse{
				RecognitionResult: &dialogflowpb.StreamingRecognitionResult{Transcript: "hel"},
			},
			wantTranscript: "hel",
		},
		{
			name: "final recognition",
			resp: &dialogflowpb.StreamingDetectIntentResponse{
				RecognitionResult: &dialogflowpb.StreamingRecognitionResult{Transcript: "hello", IsFinal: true},
			},
			wantTranscript: "hello",
			wantFinal:      true,
		},
		{
			name: "query result falls back to query text",
			resp: &dialogflowpb.StreamingDetectIntentResponse{
				QueryResult: &dialogflowpb.QueryResult{
					QueryText: "hello there",
					Intent:    &dialogflowpb.Intent{DisplayName: "greeting"},
				},
			},
			wantTranscript: "hello there",
			wantIntent:     "greeting",
			wantFinal:      true,
		},
		{
			name:      "empty response",
			resp:      &dialogflowpb.StreamingDetectIntentResponse{},
			wantFinal: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ResultFromResponse(tt.resp)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTranscript, result.Transcript)
			assert.Equal(t, tt.wantIntent, result.IntentDisplayName)
			assert.Equal(t, tt.wantFinal, result.IsFinal)
			assert.True(t, json.Valid(result.Raw))
		})
	}
}

func TestAudioEncoding(t *testing.T) {
	tests := []struct {
		input   string
		want    dialogflowpb.AudioEncoding
		wantErr bool
	}{
		{"", dialogflowpb.AudioEncoding_AUDIO_ENCODING_LINEAR_16, false},
		{"LINEAR16", dialogflowpb.AudioEncoding_AUDIO_ENCODING_LINEAR_16, false},
		{"FLAC", dialogflowpb.AudioEncoding_AUDIO_ENCODING_FLAC, false},
		{"OGG_OPUS", dialogflowpb.AudioEncoding_AUDIO_ENCODING_OGG_OPUS, false},
		{"WAV", dialogflowpb.AudioEncoding_AUDIO_ENCODING_UNSPECIFIED, true},
	}

	for _, tt := range tests {
		got, err := audioEncoding(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("audioEncoding(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("audioEncoding(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
