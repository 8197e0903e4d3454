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

	"github.com/Johtaguerrero/Biblia-Responde-2.1/domain/repositories"
)

// ErrNoSpeech is returned when the recognizer heard nothing it could transcribe
var ErrNoSpeech = errors.New("no speech detected in audio")

// StreamOpener opens a streaming recognize call and the client that owns it
type StreamOpener func(ctx context.Context) (speechpb.Speech_StreamingRecognizeClient, io.Closer, error)

// GoogleSpeechToText implements SpeechToText for Google Cloud
type GoogleSpeechToText struct {
	open   StreamOpener
	logger *zap.Logger
}

var _ repositories.SpeechToText = (*GoogleSpeechToText)(nil)

// NewGoogleSpeechToText creates a recognizer using application default credentials
func NewGoogleSpeechToText(logger *zap.Logger) *GoogleSpeechToText {
	return NewGoogleSpeechToTextWithOpener(openCloudStream, logger)
}

// NewGoogleSpeechToTextWithOpener creates a recognizer over a custom stream opener
func NewGoogleSpeechToTextWithOpener(open StreamOpener, logger *zap.Logger) *GoogleSpeechToText {
	return &GoogleSpeechToText{open: open, logger: logger}
}

func openCloudStream(ctx context.Context) (speechpb.Speech_StreamingRecognizeClient, io.Closer, error) {
	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create speech client: %w", err)
	}

	stream, err := client.StreamingRecognize(ctx)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to create streaming recognize: %w", err)
	}
	return stream, client, nil
}

func (g *GoogleSpeechToText) InitTranscribeStreaming(ctx context.Context, config repositories.AudioConfig) (repositories.SpeechToTextStreaming, error) {
	encoding, err := getAudioEncoding(config.Encoding)
	if err != nil {
		return nil, err
	}

	stream, closer, err := g.open(ctx)
	if err != nil {
		return nil, err
	}

	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:          encoding,
					SampleRateHertz:   int32(config.SampleRate),
					LanguageCode:      config.Language,
					AudioChannelCount: 1,
				},
				InterimResults:  config.InterimResults,
				SingleUtterance: config.SingleUtterance,
			},
		},
	}); err != nil {
		stream.CloseSend()
		closer.Close()
		return nil, fmt.Errorf("failed to send streaming config: %w", err)
	}

	g.logger.Debug("Recognition stream opened",
		zap.String("language", config.Language),
		zap.Int("sampleRate", config.SampleRate),
		zap.Bool("singleUtterance", config.SingleUtterance))

	s := &GoogleSpeechToTextStream{
		stream:       stream,
		closer:       closer,
		ctx:          ctx,
		logger:       g.logger,
		endOfSpeech:  make(chan struct{}),
		resultChan:   make(chan string, 1),
		errorChan:    make(chan error, 1),
		receiverDone: make(chan struct{}),
	}
	go s.receiveResults()
	return s, nil
}

// GoogleSpeechToTextStream is one streaming recognize session
type GoogleSpeechToTextStream struct {
	stream speechpb.Speech_StreamingRecognizeClient
	closer io.Closer
	ctx    context.Context
	logger *zap.Logger

	mu            sync.Mutex
	audioReceived bool
	sendClosed    bool

	endOfSpeech     chan struct{}
	endOfSpeechOnce sync.Once
	resultChan      chan string
	errorChan       chan error
	receiverDone    chan struct{}
	cleanupOnce     sync.Once
}

func (g *GoogleSpeechToTextStream) Stream(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sendClosed {
		return fmt.Errorf("recognition stream already ended")
	}
	g.audioReceived = true

	if err := g.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: data,
		},
	}); err != nil {
		return fmt.Errorf("failed to send audio data: %w", err)
	}
	return nil
}

func (g *GoogleSpeechToTextStream) EndOfUtterance() <-chan struct{} {
	return g.endOfSpeech
}

func (g *GoogleSpeechToTextStream) End() (string, error) {
	defer g.cleanup()

	g.mu.Lock()
	audioReceived := g.audioReceived
	alreadyClosed := g.sendClosed
	g.sendClosed = true
	g.mu.Unlock()

	if !alreadyClosed {
		if err := g.stream.CloseSend(); err != nil {
			return "", fmt.Errorf("failed to close send stream: %w", err)
		}
	}

	if !audioReceived {
		return "", fmt.Errorf("no audio data received")
	}

	select {
	case <-g.ctx.Done():
		return "", fmt.Errorf("context cancelled while waiting for result: %w", g.ctx.Err())
	case err := <-g.errorChan:
		return "", err
	case result := <-g.resultChan:
		if result == "" {
			return "", ErrNoSpeech
		}
		return result, nil
	}
}

func (g *GoogleSpeechToTextStream) receiveResults() {
	defer close(g.receiverDone)

	var transcript []string
	for {
		resp, err := g.stream.Recv()
		if err == io.EOF {
			g.resultChan <- strings.Join(transcript, " ")
			return
		}
		if err != nil {
			g.errorChan <- fmt.Errorf("failed to receive response: %w", err)
			return
		}
		if status := resp.GetError(); status != nil {
			g.errorChan <- fmt.Errorf("recognition failed: %s", status.GetMessage())
			return
		}

		if resp.GetSpeechEventType() == speechpb.StreamingRecognizeResponse_END_OF_SINGLE_UTTERANCE {
			g.logger.Debug("End of single utterance")
			g.endOfSpeechOnce.Do(func() { close(g.endOfSpeech) })
		}

		for _, result := range resp.GetResults() {
			if result.GetIsFinal() && len(result.GetAlternatives()) > 0 {
				transcript = append(transcript, strings.TrimSpace(result.GetAlternatives()[0].GetTranscript()))
			}
		}
	}
}

func (g *GoogleSpeechToTextStream) cleanup() {
	g.cleanupOnce.Do(func() {
		if g.closer != nil {
			g.closer.Close()
		}
	})
}

// TranscribeAudio converts a complete recording to text
func (g *GoogleSpeechToText) TranscribeAudio(ctx context.Context, audioData []byte, config repositories.AudioConfig) (string, error) {
	stream, err := g.InitTranscribeStreaming(ctx, config)
	if err != nil {
		return "", fmt.Errorf("failed to initialize streaming: %w", err)
	}

	if err := stream.Stream(audioData); err != nil {
		stream.End()
		return "", fmt.Errorf("failed to stream audio data: %w", err)
	}

	return stream.End()
}

// getAudioEncoding converts string encoding to Google Speech API enum
func getAudioEncoding(encoding string) (speechpb.RecognitionConfig_AudioEncoding, error) {
	switch encoding {
	case "WAV", "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16, nil
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC, nil
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW, nil
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS, nil
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS, nil
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, fmt.Errorf("unsupported audio encoding: %s", encoding)
	}
}
