package avatar

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/jpeg"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"afterlifego/internal/capability"
	"afterlifego/internal/config"
	"afterlifego/internal/ingest"
	"afterlifego/internal/persona"
	"afterlifego/internal/storage"
	"afterlifego/internal/vault"
	"afterlifego/internal/worker"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		SecretKey:                   "test-secret",
		JWTExpireMinutes:            60,
		DailyInteractionLimit:       10,
		FailedInteractConsumesQuota: true,
		MaxPhotoBytes:               5 << 20,
		MaxAudioBytes:               5 << 20,
		MaxTextBytes:                10 << 20,
		MaxAudioSeconds:             30,
		ExternalTimeout:             5 * time.Second,
		StorageRoot:                 t.TempDir(),
		PersonaDir:                  t.TempDir(),
		MinWorkers:                  1,
		MaxWorkers:                  4,
		QueueSize:                   32,
		WorkerIdleTimeout:           time.Minute,
	}
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	cfg := testConfig(t)

	db, err := storage.Open("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	db.SetMaxOpenConns(1)
	require.NoError(t, storage.Migrate(db, "sqlite3"))

	vlt, err := vault.New(cfg.StorageRoot)
	require.NoError(t, err)

	dispatcher := worker.NewDispatcher(cfg.MinWorkers, cfg.MaxWorkers, cfg.QueueSize, cfg.WorkerIdleTimeout)
	personas := persona.NewRegistry(cfg.PersonaDir)

	adapters := Adapters{
		Photo: capability.LocalPhotoEnhancer{},
		Voice: capability.LocalVoiceCloner{},
		Text:  capability.HeuristicTextAnalyzer{},
		Tuner: capability.ProfileTuner{},
		Responder: &capability.PipelineResponder{
			Chat: &capability.LocalChat{},
		},
	}
	return NewService(db, cfg, vlt, nil, dispatcher, personas, adapters)
}

func testJPEG(t *testing.T) ingest.Upload {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		for y := 0; y < 8; y++ {
			img.Set(x, y, color.RGBA{R: 180, G: 120, B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return ingest.Upload{Name: "photo.jpg", Data: buf.Bytes()}
}

func testWAV(t *testing.T, seconds float64) ingest.Upload {
	t.Helper()
	const sampleRate = 16000
	byteRate := uint32(sampleRate * 2)
	dataSize := uint32(seconds * float64(byteRate))

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, byteRate)
	binary.Write(&buf, binary.LittleEndian, uint16(2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, dataSize)
	buf.Write(make([]byte, dataSize))
	return ingest.Upload{Name: "voice.wav", Data: buf.Bytes()}
}

func testText() ingest.Upload {
	return ingest.Upload{
		Name: "diary.txt",
		Data: []byte("I love my family so much. We laugh together all the time. I hope you remember that."),
	}
}
