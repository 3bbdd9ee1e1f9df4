// File: services/nlu/transcriber.go
package nlu

import (
	"context"
	"fmt"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"google.golang.org/api/option"
	speechpb "google.golang.org/genproto/googleapis/cloud/speech/v1"
)

// Transcriber turns an inbound voice note into text for the parser.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, languageCode string) (string, error)
}

// GoogleTranscriber implements Transcriber with Google Cloud Speech-to-Text.
// WhatsApp voice notes arrive as Ogg/Opus at 16 kHz.
type GoogleTranscriber struct {
	credentialsFile string
}

func NewGoogleTranscriber(credentialsFile string) *GoogleTranscriber {
	return &GoogleTranscriber{credentialsFile: credentialsFile}
}

func (t *GoogleTranscriber) Transcribe(ctx context.Context, audio []byte, languageCode string) (string, error) {
	client, err := speech.NewClient(ctx, option.WithCredentialsFile(t.credentialsFile))
	if err != nil {
		return "", fmt.Errorf("failed to initialize speech client: %w", err)
	}
	defer client.Close()

	req := &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:          speechpb.RecognitionConfig_OGG_OPUS,
			SampleRateHertz:   16000,
			LanguageCode:      languageCode,
			AudioChannelCount: 1,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{
				Content: audio,
			},
		},
	}

	resp, err := client.Recognize(ctx, req)
	if err != nil {
		return "", fmt.Errorf("speech recognition failed: %w", err)
	}

	var transcript strings.Builder
	for _, result := range resp.Results {
		for _, alt := range result.Alternatives {
			transcript.WriteString(alt.Transcript + " ")
		}
	}
	return strings.TrimSpace(transcript.String()), nil
}
