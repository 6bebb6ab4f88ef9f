package audio

// Amplify applies a fixed 2x gain to little-endian 16-bit PCM samples,
// clamping to the representable range. It returns the amplified copy and the
// number of samples that clipped. Clipping is a diagnostic signal, not an
// error. A trailing odd byte is passed through unchanged.
func Amplify(pcm []byte) ([]byte, int) {
	out := make([]byte, len(pcm))
	clipped := 0

	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(uint16(pcm[i]) | uint16(pcm[i+1])<<8)
		amplified := int32(sample) * 2

		if amplified > 32767 {
			amplified = 32767
			clipped++
		} else if amplified < -32768 {
			amplified = -32768
			clipped++
		}

		out[i] = byte(amplified)
		out[i+1] = byte(amplified >> 8)
	}

	if len(pcm)%2 == 1 {
		out[len(pcm)-1] = pcm[len(pcm)-1]
	}

	return out, clipped
}
