package main

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"ai-scribe-service/internal/models"
	"ai-scribe-service/internal/observability/logging"
)

// WAV header is 44 bytes for standard PCM files
const wavHeaderSize = 44

// Stream audio in chunks to simulate real-time streaming
// At 16kHz 16-bit mono = 32000 bytes/second
// 100ms chunks = 3200 bytes
const chunkSize = 3200
const chunkIntervalMs = 100

func main() {
	audioFile := flag.String("audio", "testdata/sample-16khz.wav", "Path to WAV file (16kHz 16-bit mono)")
	mic := flag.Bool("mic", false, "Capture from the default PulseAudio source instead of a file")
	server := flag.String("server", "ws://localhost:8080/v1/stream", "Transcription websocket URL")
	userID := flag.String("user", "dr-demo", "Owner (clinician) ID")
	patientID := flag.String("patient", "", "Optional patient ID")
	wait := flag.Duration("wait", 5*time.Second, "How long to wait for final events after stopping")
	flag.Parse()

	logCfg := logging.DefaultConfig()
	logCfg.Format = "console"
	logging.Init(logCfg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	u, err := url.Parse(*server)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid server URL")
	}
	q := u.Query()
	q.Set("userId", *userID)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect")
	}
	defer conn.Close()
	log.Info().Str("url", u.String()).Msg("Connected")

	// Print every server event as it arrives.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			printEvent(data)
		}
	}()

	start := models.ClientMessage{Type: models.CommandStartRecording}
	if *patientID != "" {
		start.Patient = &models.PatientMetadata{PatientID: *patientID}
	}
	if err := conn.WriteJSON(start); err != nil {
		log.Fatal().Err(err).Msg("Failed to start recording")
	}

	if *mic {
		err = streamMic(ctx, conn)
	} else {
		err = streamWAV(ctx, conn, *audioFile)
	}
	if err != nil {
		log.Error().Err(err).Msg("Streaming failed")
	}

	if err := conn.WriteJSON(models.ClientMessage{Type: models.CommandStopRecording}); err != nil {
		log.Fatal().Err(err).Msg("Failed to stop recording")
	}

	select {
	case <-done:
	case <-time.After(*wait):
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		<-done
	}
}

// streamWAV sends a PCM WAV file in real time.
func streamWAV(ctx context.Context, conn *websocket.Conn, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	// Read and validate WAV header
	header := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		return fmt.Errorf("read WAV header: %w", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return errors.New("not a valid WAV file")
	}

	audioFormat := binary.LittleEndian.Uint16(header[20:22])
	numChannels := binary.LittleEndian.Uint16(header[22:24])
	sampleRate := binary.LittleEndian.Uint32(header[24:28])
	bitsPerSample := binary.LittleEndian.Uint16(header[34:36])

	log.Info().
		Uint16("format", audioFormat).
		Uint16("channels", numChannels).
		Uint32("sampleRate", sampleRate).
		Uint16("bitsPerSample", bitsPerSample).
		Msg("WAV file")

	if audioFormat != 1 { // PCM
		return errors.New("only PCM format supported")
	}
	if sampleRate != 16000 {
		log.Warn().Uint32("sampleRate", sampleRate).Msg("Expected 16000 Hz")
	}

	audioChunk := make([]byte, chunkSize)
	var totalBytes int64
	var chunkNum int
	startTime := time.Now()

	for ctx.Err() == nil {
		n, err := f.Read(audioChunk)
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read audio: %w", err)
		}

		chunkNum++
		totalBytes += int64(n)
		if err := conn.WriteMessage(websocket.BinaryMessage, audioChunk[:n]); err != nil {
			return fmt.Errorf("send frame: %w", err)
		}
		if chunkNum%10 == 0 {
			log.Debug().Int("chunk", chunkNum).Int64("bytes", totalBytes).Msg("Sent audio")
		}

		// Simulate real-time streaming
		time.Sleep(chunkIntervalMs * time.Millisecond)
	}

	log.Info().
		Int("chunks", chunkNum).
		Int64("bytes", totalBytes).
		Dur("elapsed", time.Since(startTime)).
		Msg("Finished streaming")
	return nil
}

// streamMic sends microphone audio until ctx is cancelled.
func streamMic(ctx context.Context, conn *websocket.Conn) error {
	m, err := startMic(ctx)
	if err != nil {
		return err
	}
	log.Info().Msg("Recording from microphone, press Ctrl+C to stop")

	var totalBytes int64
	for chunk := range m.chunks {
		totalBytes += int64(len(chunk))
		if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
			m.stop()
			return fmt.Errorf("send frame: %w", err)
		}
	}
	log.Info().Int64("bytes", totalBytes).Msg("Microphone capture stopped")
	return nil
}

func printEvent(data []byte) {
	var env struct {
		models.Event
		Status  string        `json:"status"`
		Speaker int           `json:"speaker"`
		Text    string        `json:"text"`
		IsFinal bool          `json:"isFinal"`
		Message string        `json:"message"`
		Chunk   *models.Chunk `json:"chunk"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Msg("Undecodable event")
		return
	}

	switch env.Type {
	case models.EventTypeConnection:
		log.Info().Str("status", env.Status).Msg("Status")
	case models.EventTypeTranscript:
		log.Info().Int("speaker", env.Speaker).Bool("final", env.IsFinal).Msg(env.Text)
	case models.EventTypeChunk:
		if env.Chunk != nil {
			log.Info().
				Int("speaker", env.Chunk.Speaker).
				Float64("start", env.Chunk.Start).
				Float64("end", env.Chunk.End).
				Msg("CHUNK " + env.Chunk.Text)
		}
	case models.EventTypeError:
		log.Warn().Msg(env.Message)
	}
}
