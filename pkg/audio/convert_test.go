package audio_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/dispatchvoice/pkg/audio"
)

func TestBytesSamplesRoundTrip(t *testing.T) {
	in := []int16{0, 1, -1, 32767, -32768, 700}
	got := audio.BytesToSamples(audio.SamplesToBytes(in))
	if !slices.Equal(got, in) {
		t.Errorf("got %v, want %v", got, in)
	}
}

func TestBytesToSamples_OddLength(t *testing.T) {
	got := audio.BytesToSamples([]byte{0x01, 0x00, 0xFF})
	if len(got) != 1 || got[0] != 1 {
		t.Errorf("got %v, want [1]", got)
	}
}

func TestUpmix(t *testing.T) {
	got := audio.Upmix([]int16{100, 200, 300}, 2)
	want := []int16{100, 100, 200, 200, 300, 300}
	if !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestDownmix(t *testing.T) {
	// Two stereo frames: L=100,R=200 and L=-100,R=-200
	got := audio.Downmix([]int16{100, 200, -100, -200}, 2)
	want := []int16{150, -150}
	if !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestDownmix_Clamping(t *testing.T) {
	got := audio.Downmix([]int16{32767, 32767}, 2)
	if got[0] != 32767 {
		t.Errorf("got %d, want 32767", got[0])
	}
}

func TestResample_SameRate(t *testing.T) {
	in := []int16{1, 2, 3}
	got := audio.Resample(in, 1, 16000, 16000)
	if !slices.Equal(got, in) {
		t.Errorf("same-rate resample changed data: %v", got)
	}
}

func TestResample_Upsample(t *testing.T) {
	in := []int16{0, 1000, 2000, 3000}
	got := audio.Resample(in, 1, 8000, 16000)
	if len(got) != 8 {
		t.Fatalf("got %d samples, want 8", len(got))
	}
	if got[0] != 0 || got[2] != 1000 {
		t.Errorf("interpolation anchors wrong: %v", got)
	}
	if got[1] != 500 {
		t.Errorf("midpoint: got %d, want 500", got[1])
	}
}

func TestResample_Downsample(t *testing.T) {
	in := make([]int16, 480)
	got := audio.Resample(in, 1, 48000, 16000)
	if len(got) != 160 {
		t.Errorf("got %d samples, want 160", len(got))
	}
}

func TestResample_Stereo(t *testing.T) {
	in := make([]int16, 2*240)
	got := audio.Resample(in, 2, 24000, 16000)
	if len(got) != 2*160 {
		t.Errorf("got %d samples, want %d", len(got), 2*160)
	}
}

func TestResample_ZeroRate(t *testing.T) {
	in := []int16{1, 2}
	if got := audio.Resample(in, 1, 0, 16000); !slices.Equal(got, in) {
		t.Errorf("zero src rate should return input unchanged")
	}
	if got := audio.Resample(in, 1, 16000, 0); !slices.Equal(got, in) {
		t.Errorf("zero dst rate should return input unchanged")
	}
}

func TestFormatConverter_NoOp(t *testing.T) {
	c := audio.FormatConverter{Target: audio.Format{SampleRate: 16000, Channels: 1}}
	in := []int16{1, 2, 3}
	got := c.Convert(in, audio.Format{SampleRate: 16000, Channels: 1})
	if &got[0] != &in[0] {
		t.Error("matching format should return the input slice")
	}
}

func TestFormatConverter_StereoToMono(t *testing.T) {
	c := audio.FormatConverter{Target: audio.Format{SampleRate: 24000, Channels: 1}}
	got := c.Convert([]int16{10, 30, 50, 70}, audio.Format{SampleRate: 24000, Channels: 2})
	want := []int16{20, 60}
	if !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestFormatConverter_FullConversion(t *testing.T) {
	c := audio.FormatConverter{Target: audio.Format{SampleRate: 16000, Channels: 1}}
	// 30 ms of 48 kHz stereo.
	in := make([]int16, 1440*2)
	got := c.Convert(in, audio.Format{SampleRate: 48000, Channels: 2})
	if len(got) != 480 {
		t.Errorf("got %d samples, want 480", len(got))
	}
}

func TestFormat_Duration(t *testing.T) {
	f := audio.Format{SampleRate: 16000, Channels: 1}
	if got := f.Duration(800); got != 50*time.Millisecond {
		t.Errorf("Duration(800) = %v, want 50ms", got)
	}
	if got := f.Samples(50 * time.Millisecond); got != 800 {
		t.Errorf("Samples(50ms) = %d, want 800", got)
	}
	if got := (audio.Format{}).Duration(800); got != 0 {
		t.Errorf("invalid format Duration = %v, want 0", got)
	}
}
