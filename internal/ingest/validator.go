package ingest

import (
	"encoding/binary"
	"fmt"
	"net/http"
	"strings"
)

// Upload is one raw file received from the client, held in memory until it
// is either rejected or encrypted. Nothing here ever touches disk.
type Upload struct {
	Name string
	Data []byte
}

// ValidationError names the offending file and constraint so the caller can
// correct the request.
type ValidationError struct {
	File       string
	Constraint string
	Message    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.File, e.Message)
}

const maxPhotos = 10

// Limits carries the configured ceilings.
type Limits struct {
	MaxPhotoBytes   int64
	MaxAudioBytes   int64
	MaxTextBytes    int64
	MaxAudioSeconds float64
}

// Validator enforces file-type, size and duration constraints before
// anything is handed to the vault.
type Validator struct {
	limits Limits
}

func NewValidator(limits Limits) *Validator {
	return &Validator{limits: limits}
}

// Bundle is a validated upload set: 1-10 photos, exactly one audio, exactly
// one text. Warning is non-empty when the photo list was truncated.
type Bundle struct {
	Photos  []Upload
	Audio   Upload
	Text    Upload
	Warning string
}

// ValidateBundle checks the whole upload atomically: any violation rejects
// the entire set. More than 10 photos is not an error; the list is truncated
// to the first 10 and a warning is returned.
func (v *Validator) ValidateBundle(photos []Upload, audio, text Upload) (*Bundle, error) {
	if len(photos) == 0 {
		return nil, &ValidationError{File: "photos", Constraint: "count", Message: "at least one photo is required"}
	}
	var warning string
	if len(photos) > maxPhotos {
		warning = fmt.Sprintf("too many photos: kept the first %d of %d", maxPhotos, len(photos))
		photos = photos[:maxPhotos]
	}
	for i, p := range photos {
		if err := v.validatePhoto(p, i); err != nil {
			return nil, err
		}
	}
	if err := v.validateAudio(audio); err != nil {
		return nil, err
	}
	if err := v.validateText(text); err != nil {
		return nil, err
	}
	return &Bundle{Photos: photos, Audio: audio, Text: text, Warning: warning}, nil
}

func (v *Validator) validatePhoto(p Upload, idx int) error {
	name := p.Name
	if name == "" {
		name = fmt.Sprintf("photo %d", idx+1)
	}
	if len(p.Data) == 0 {
		return &ValidationError{File: name, Constraint: "empty", Message: "photo file is empty"}
	}
	ct := sniff(p.Data)
	if ct != "image/jpeg" && ct != "image/png" {
		return &ValidationError{File: name, Constraint: "type", Message: "invalid photo type, JPG or PNG required"}
	}
	if int64(len(p.Data)) > v.limits.MaxPhotoBytes {
		return &ValidationError{File: name, Constraint: "size",
			Message: fmt.Sprintf("photo too large, maximum is %dMB", v.limits.MaxPhotoBytes>>20)}
	}
	return nil
}

func (v *Validator) validateAudio(a Upload) error {
	name := a.Name
	if name == "" {
		name = "audio"
	}
	if len(a.Data) == 0 {
		return &ValidationError{File: name, Constraint: "empty", Message: "audio file is empty"}
	}
	ct := sniff(a.Data)
	isWAV := ct == "audio/wave" || ct == "audio/x-wav"
	isMP3 := ct == "audio/mpeg"
	if !isWAV && !isMP3 {
		return &ValidationError{File: name, Constraint: "type", Message: "invalid audio type, WAV or MP3 required"}
	}
	if int64(len(a.Data)) > v.limits.MaxAudioBytes {
		return &ValidationError{File: name, Constraint: "size",
			Message: fmt.Sprintf("audio too large, maximum is %dMB", v.limits.MaxAudioBytes>>20)}
	}
	var duration float64
	if isWAV {
		d, err := wavDuration(a.Data)
		if err != nil {
			return &ValidationError{File: name, Constraint: "type", Message: "unreadable WAV header"}
		}
		duration = d
	} else {
		// MP3 frames are not worth fully decoding here; estimate from size
		// assuming 16kHz 16-bit mono, matching the upstream providers'
		// sampling expectations.
		duration = float64(len(a.Data)) / (16000 * 2)
	}
	if duration > v.limits.MaxAudioSeconds {
		return &ValidationError{File: name, Constraint: "duration",
			Message: fmt.Sprintf("audio too long: %.1fs, maximum is %.0fs", duration, v.limits.MaxAudioSeconds)}
	}
	return nil
}

func (v *Validator) validateText(t Upload) error {
	name := t.Name
	if name == "" {
		name = "text"
	}
	if len(t.Data) == 0 {
		return &ValidationError{File: name, Constraint: "empty", Message: "text file is empty"}
	}
	ct := sniff(t.Data)
	if !strings.HasPrefix(ct, "text/plain") {
		return &ValidationError{File: name, Constraint: "type", Message: "invalid text type, plain TXT required"}
	}
	if int64(len(t.Data)) > v.limits.MaxTextBytes {
		return &ValidationError{File: name, Constraint: "size",
			Message: fmt.Sprintf("text too large, maximum is %dMB", v.limits.MaxTextBytes>>20)}
	}
	return nil
}

func sniff(data []byte) string {
	n := len(data)
	if n > 512 {
		n = 512
	}
	ct := http.DetectContentType(data[:n])
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = ct[:i]
	}
	return strings.TrimSpace(ct)
}

// wavDuration decodes the RIFF header and returns the duration in seconds
// as data-chunk size over byte rate. Extensions do not lie about duration;
// headers do not either, and this is the cheapest honest answer.
func wavDuration(data []byte) (float64, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return 0, fmt.Errorf("not a RIFF/WAVE file")
	}
	var byteRate uint32
	var dataSize uint32
	offset := 12
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := binary.LittleEndian.Uint32(data[offset+4 : offset+8])
		body := offset + 8
		switch chunkID {
		case "fmt ":
			if body+16 > len(data) {
				return 0, fmt.Errorf("truncated fmt chunk")
			}
			byteRate = binary.LittleEndian.Uint32(data[body+8 : body+12])
		case "data":
			dataSize = chunkSize
		}
		// Chunks are word-aligned.
		offset = body + int(chunkSize)
		if chunkSize%2 == 1 {
			offset++
		}
	}
	if byteRate == 0 {
		return 0, fmt.Errorf("missing fmt chunk")
	}
	if dataSize == 0 {
		return 0, fmt.Errorf("missing data chunk")
	}
	return float64(dataSize) / float64(byteRate), nil
}
