package ingest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLimits() Limits {
	return Limits{
		MaxPhotoBytes:   5 << 20,
		MaxAudioBytes:   5 << 20,
		MaxTextBytes:    10 << 20,
		MaxAudioSeconds: 30,
	}
}

func jpegUpload(t *testing.T, name string) Upload {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		for y := 0; y < 8; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return Upload{Name: name, Data: buf.Bytes()}
}

func pngUpload(t *testing.T, name string) Upload {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return Upload{Name: name, Data: buf.Bytes()}
}

// wavUpload builds a minimal PCM WAV of the given duration at 16kHz mono.
func wavUpload(t *testing.T, name string, seconds float64) Upload {
	t.Helper()
	const sampleRate = 16000
	const bytesPerSample = 2
	byteRate := uint32(sampleRate * bytesPerSample)
	dataSize := uint32(seconds * float64(byteRate))

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, byteRate)
	binary.Write(&buf, binary.LittleEndian, uint16(bytesPerSample))
	binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, dataSize)
	buf.Write(make([]byte, dataSize))
	return Upload{Name: name, Data: buf.Bytes()}
}

func textUpload(name, content string) Upload {
	return Upload{Name: name, Data: []byte(content)}
}

func TestValidateBundleAccepts(t *testing.T) {
	v := NewValidator(testLimits())
	bundle, err := v.ValidateBundle(
		[]Upload{jpegUpload(t, "a.jpg"), pngUpload(t, "b.png")},
		wavUpload(t, "voice.wav", 10),
		textUpload("diary.txt", "Hello there. This is a writing sample."),
	)
	require.NoError(t, err)
	assert.Len(t, bundle.Photos, 2)
	assert.Empty(t, bundle.Warning)
}

func TestValidateBundleTruncatesPhotos(t *testing.T) {
	v := NewValidator(testLimits())
	photos := make([]Upload, 12)
	for i := range photos {
		photos[i] = jpegUpload(t, fmt.Sprintf("p%d.jpg", i))
	}
	bundle, err := v.ValidateBundle(photos,
		wavUpload(t, "voice.wav", 5),
		textUpload("t.txt", "Some text here."))
	require.NoError(t, err)
	assert.Len(t, bundle.Photos, 10)
	assert.Contains(t, bundle.Warning, "first 10")
}

func TestValidateBundleRequiresPhotos(t *testing.T) {
	v := NewValidator(testLimits())
	_, err := v.ValidateBundle(nil, wavUpload(t, "voice.wav", 5), textUpload("t.txt", "text"))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "count", verr.Constraint)
}

func TestValidateBundleRejectsWrongPhotoType(t *testing.T) {
	v := NewValidator(testLimits())
	_, err := v.ValidateBundle(
		[]Upload{{Name: "notes.txt", Data: []byte("this is text, not an image")}},
		wavUpload(t, "voice.wav", 5),
		textUpload("t.txt", "text sample"))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "type", verr.Constraint)
	assert.Equal(t, "notes.txt", verr.File)
}

func TestValidateBundleRejectsOversizePhoto(t *testing.T) {
	limits := testLimits()
	limits.MaxPhotoBytes = 64
	v := NewValidator(limits)
	_, err := v.ValidateBundle(
		[]Upload{jpegUpload(t, "big.jpg")},
		wavUpload(t, "voice.wav", 5),
		textUpload("t.txt", "text sample"))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "size", verr.Constraint)
}

func TestValidateBundleRejectsLongAudio(t *testing.T) {
	v := NewValidator(testLimits())
	_, err := v.ValidateBundle(
		[]Upload{jpegUpload(t, "a.jpg")},
		wavUpload(t, "long.wav", 45),
		textUpload("t.txt", "text sample"))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "duration", verr.Constraint)
}

func TestValidateBundleRejectsEmptyFiles(t *testing.T) {
	v := NewValidator(testLimits())
	_, err := v.ValidateBundle(
		[]Upload{jpegUpload(t, "a.jpg")},
		Upload{Name: "voice.wav"},
		textUpload("t.txt", "text sample"))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "empty", verr.Constraint)
}

func TestWavDuration(t *testing.T) {
	up := wavUpload(t, "v.wav", 12)
	d, err := wavDuration(up.Data)
	require.NoError(t, err)
	assert.InDelta(t, 12.0, d, 0.01)

	_, err = wavDuration([]byte("definitely not a wav"))
	assert.Error(t, err)
}
