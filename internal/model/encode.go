package model

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"image/png"
	"math"

	_ "image/jpeg"
)

// WAVHeader returns a 44-byte PCM16 mono RIFF header. A negative dataBytes
// produces the open-ended header used for streamed responses.
func WAVHeader(sampleRate, dataBytes int) []byte {
	size := uint32(0xFFFFFFFF)
	riff := uint32(0xFFFFFFFF)
	if dataBytes >= 0 {
		size = uint32(dataBytes)
		riff = uint32(36 + dataBytes)
	}
	var b bytes.Buffer
	b.WriteString("RIFF")
	_ = binary.Write(&b, binary.LittleEndian, riff)
	b.WriteString("WAVEfmt ")
	_ = binary.Write(&b, binary.LittleEndian, uint32(16))
	_ = binary.Write(&b, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(&b, binary.LittleEndian, uint16(1)) // mono
	_ = binary.Write(&b, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&b, binary.LittleEndian, uint32(sampleRate*2))
	_ = binary.Write(&b, binary.LittleEndian, uint16(2))
	_ = binary.Write(&b, binary.LittleEndian, uint16(16))
	b.WriteString("data")
	_ = binary.Write(&b, binary.LittleEndian, size)
	return b.Bytes()
}

// encodeWAV wraps raw PCM16 samples in a RIFF container.
func encodeWAV(pcm []byte, sampleRate int) []byte {
	out := make([]byte, 0, 44+len(pcm))
	out = append(out, WAVHeader(sampleRate, len(pcm))...)
	return append(out, pcm...)
}

// tonePCM synthesizes a decaying sine at freq Hz.
func tonePCM(freq float64, seconds float64, sampleRate int) []byte {
	n := int(seconds * float64(sampleRate))
	if n < 0 {
		n = 0
	}
	out := make([]byte, 2*n)
	for i := 0; i < n; i++ {
		t := float64(i) / float64(sampleRate)
		env := math.Exp(-2 * t / math.Max(seconds, 0.001))
		v := int16(math.Sin(2*math.Pi*freq*t) * env * 12000)
		binary.LittleEndian.PutUint16(out[2*i:], uint16(v))
	}
	return out
}

// gradient paints a seed-tinted diagonal gradient.
func gradient(w, h int, seed int64, phase int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	r0, g0, b0 := uint8(seed), uint8(seed>>8), uint8(seed>>16)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			d := uint8((x + y + phase*8) * 255 / max(1, w+h))
			img.SetRGBA(x, y, color.RGBA{R: r0 + d, G: g0 + d/2, B: b0 - d, A: 255})
		}
	}
	return img
}

func encodePNG(img image.Image) ([]byte, error) {
	var b bytes.Buffer
	if err := png.Encode(&b, img); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// invert decodes an image and returns its negative as PNG.
func invert(data []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	bounds := src.Bounds()
	dst := image.NewRGBA(bounds)
	draw.Draw(dst, bounds, src, bounds.Min, draw.Src)
	for i := 0; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 255 - dst.Pix[i]
		dst.Pix[i+1] = 255 - dst.Pix[i+1]
		dst.Pix[i+2] = 255 - dst.Pix[i+2]
	}
	return encodePNG(dst)
}

// encodeGIF renders frames of a moving gradient at fps.
func encodeGIF(w, h, frames, fps int, seed int64) ([]byte, *image.RGBA, error) {
	anim := &gif.GIF{}
	delay := 100 / max(1, fps)
	var first *image.RGBA
	for i := 0; i < frames; i++ {
		rgba := gradient(w, h, seed, i)
		if first == nil {
			first = rgba
		}
		p := image.NewPaletted(rgba.Bounds(), palette.Plan9)
		draw.Draw(p, p.Bounds(), rgba, image.Point{}, draw.Src)
		anim.Image = append(anim.Image, p)
		anim.Delay = append(anim.Delay, delay)
	}
	var b bytes.Buffer
	if err := gif.EncodeAll(&b, anim); err != nil {
		return nil, nil, err
	}
	return b.Bytes(), first, nil
}
