package tts

// Encoding is the container of a synthesized clip.
type Encoding string

// Supported encodings.
const (
	EncodingMP3 Encoding = "mp3"
	EncodingWAV Encoding = "wav"
)

// Ext returns the file extension for e, including the dot.
func (e Encoding) Ext() string {
	if e == "" {
		return ".bin"
	}
	return "." + string(e)
}

// Speech is one synthesized clip.
type Speech struct {
	// Audio is the encoded clip.
	Audio []byte

	// Encoding identifies the container of Audio.
	Encoding Encoding
}
