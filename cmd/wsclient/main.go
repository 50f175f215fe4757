package main

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	serverURL       string
	token           string
	sampleRateHertz int
	chunkMs         int
	sentinel        string
	timeout         time.Duration
	realtime        bool
)

var rootCmd = &cobra.Command{
	Use:          "wsclient <audio-file>",
	Short:        "Stream a PCM or WAV file to the intent endpoint and print the result",
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&serverURL, "url", "ws://localhost:8080/intent", "WebSocket endpoint")
	rootCmd.Flags().StringVar(&token, "token", os.Getenv("STREAMVOICE_TOKEN"), "JWT sent as a Bearer token")
	rootCmd.Flags().IntVar(&sampleRateHertz, "sample-rate", 16000, "sample rate of the audio in Hz")
	rootCmd.Flags().IntVar(&chunkMs, "chunk-ms", 100, "audio per frame in milliseconds")
	rootCmd.Flags().StringVar(&sentinel, "sentinel", "end", "3-byte end-of-audio marker")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "time to wait for the result")
	rootCmd.Flags().BoolVar(&realtime, "realtime", true, "pace frames at the audio rate")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer logger.Sync()

	if len(sentinel) != 3 {
		return fmt.Errorf("sentinel must be exactly 3 bytes, got %d", len(sentinel))
	}
	if sampleRateHertz <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", sampleRateHertz)
	}
	if chunkMs <= 0 {
		return fmt.Errorf("chunk duration must be positive, got %dms", chunkMs)
	}
	size := chunkBytes(sampleRateHertz, chunkMs)
	if size <= 0 {
		return fmt.Errorf("%d ms at %d Hz is less than one byte of audio", chunkMs, sampleRateHertz)
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read audio file: %w", err)
	}
	pcm, err := pcmPayload(data)
	if err != nil {
		return err
	}
	chunks, err := splitChunks(pcm, size)
	if err != nil {
		return err
	}

	u, err := url.Parse(serverURL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	headers := http.Header{}
	if token != "" {
		headers.Add("Authorization", "Bearer "+token)
	}

	logger.Info("Connecting", zap.String("url", u.String()))
	c, _, err := websocket.DefaultDialer.Dial(u.String(), headers)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer c.Close()

	results := make(chan string, 1)
	go readResult(c, results, logger)

	logger.Info("Streaming audio",
		zap.Int("bytes", len(pcm)),
		zap.Int("chunks", len(chunks)))

	start := time.Now()
	for i, chunk := range chunks {
		if err := c.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
			return fmt.Errorf("failed to send audio chunk %d: %w", i, err)
		}
		if realtime {
			time.Sleep(time.Duration(chunkMs) * time.Millisecond)
		}
	}
	if err := c.WriteMessage(websocket.BinaryMessage, []byte(sentinel)); err != nil {
		return fmt.Errorf("failed to send end of audio: %w", err)
	}
	logger.Info("Finished sending audio", zap.Duration("elapsed", time.Since(start)))

	select {
	case result, ok := <-results:
		if !ok {
			return errors.New("connection closed without a result")
		}
		fmt.Fprintln(cmd.OutOrStdout(), result)
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("no result within %s", timeout)
	}
}

func readResult(c *websocket.Conn, results chan<- string, logger *zap.Logger) {
	defer close(results)
	for {
		messageType, message, err := c.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				logger.Warn("read", zap.Error(err))
			}
			return
		}
		if messageType == websocket.TextMessage {
			results <- string(message)
			return
		}
	}
}
