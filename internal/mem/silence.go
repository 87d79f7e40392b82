package mem

// silenceByte returns the fill byte that represents digital silence for f
// (spec.md §4.1: "Silence generation": 0x00 for signed/float PCM, 0x80 for
// unsigned 8-bit, 0x55/0xFF for the logarithmic telephony encodings).
// Grounded on original_source/src/sample-util.c: pa_silence_memory.
func silenceByte(f Format) byte {
	switch f {
	case U8:
		return 0x80
	case ALaw:
		return 0x55
	case MuLaw:
		return 0xff
	default: // S16LE, S16BE, Float32LE, Float32BE, S32LE, S32BE
		return 0x00
	}
}

// SilenceMemory fills buf with silence for the given format.
func SilenceMemory(buf []byte, format Format) {
	b := silenceByte(format)
	if b == 0x00 {
		clear(buf)
		return
	}
	for i := range buf {
		buf[i] = b
	}
}

// SilenceBlock fills an entire block's storage with silence for spec's format.
func SilenceBlock(b *Block, spec SampleSpec) {
	SilenceMemory(b.Bytes(), spec.Format)
}

// SilenceChunk fills the referenced region of a chunk with silence.
func SilenceChunk(c Chunk, spec SampleSpec) {
	SilenceMemory(c.Bytes(), spec.Format)
}
