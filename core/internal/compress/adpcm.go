package compress

import (
	"encoding/binary"
	"errors"
)

const (
	adpcmInitialStep = 0x2C
	adpcmMaxStep     = 0x58
	adpcmLevel       = 5
)

var adpcmNextStep = [32]int{
	-1, 0, -1, 4, -1, 2, -1, 6, -1, 1, -1, 5, -1, 3, -1, 7,
	-1, 1, -1, 5, -1, 3, -1, 7, -1, 2, -1, 4, -1, 6, -1, 8,
}

var adpcmStepSize = [89]int32{
	7, 8, 9, 10, 11, 12, 13, 14, 16, 17, 19, 21, 23, 25, 28, 31,
	34, 37, 41, 45, 50, 55, 60, 66, 73, 80, 88, 97, 107, 118, 130, 143,
	157, 173, 190, 209, 230, 253, 279, 307, 337, 371, 408, 449, 494, 544, 598, 658,
	724, 796, 876, 963, 1060, 1166, 1282, 1411, 1552, 1707, 1878, 2066, 2272, 2499, 2749, 3024,
	3327, 3660, 4026, 4428, 4871, 5358, 5894, 6484, 7132, 7845, 8630, 9493, 10442, 11487, 12635, 13899,
	15289, 16818, 18500, 20350, 22385, 24623, 27086, 29794, 32767,
}

var errADPCMAlignment = errors.New("adpcm: input is not a whole number of samples")

func clampSample(v int32) int16 {
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	default:
		return int16(v)
	}
}

func nextStepIndex(idx int, encoded byte) int {
	idx += adpcmNextStep[encoded&0x1F]
	return max(0, min(idx, len(adpcmStepSize)-1))
}

// adpcmCompress encodes 16-bit little-endian PCM. The result is lossy.
func adpcmCompress(data []byte, channels int, level int) ([]byte, error) {
	if len(data)%2 != 0 || (len(data)/2)%channels != 0 {
		return nil, errADPCMAlignment
	}
	samples := len(data) / 2
	if samples == 0 {
		return []byte{}, nil
	}
	bitShift := max(level-1, 0)
	maxBitMask := 0
	if bitShift > 0 {
		maxBitMask = min(1<<(bitShift-1), 0x20)
	}

	out := make([]byte, 0, len(data)/2+8)
	out = append(out, 0, byte(bitShift))

	predicted := make([]int16, channels)
	steps := make([]int, channels)
	for ch := range channels {
		s := int16(binary.LittleEndian.Uint16(data[ch*2:])) //nolint:gosec // PCM reinterpretation
		predicted[ch] = s
		steps[ch] = adpcmInitialStep
		out = binary.LittleEndian.AppendUint16(out, uint16(s)) //nolint:gosec // PCM reinterpretation
	}

	ch := channels - 1
	for i := channels; i < samples; i++ {
		ch = (ch + 1) % channels
		input := int32(int16(binary.LittleEndian.Uint16(data[i*2:]))) //nolint:gosec // PCM reinterpretation

		diff := input - int32(predicted[ch])
		var encoded byte
		if diff < 0 {
			diff = -diff
			encoded |= 0x40
		}

		step := adpcmStepSize[steps[ch]]
		if diff < step>>level {
			if steps[ch] > 0 {
				steps[ch]--
			}
			out = append(out, 0x80)
			continue
		}

		for diff > step<<1 && steps[ch] < adpcmMaxStep {
			steps[ch] = min(steps[ch]+8, adpcmMaxStep)
			step = adpcmStepSize[steps[ch]]
			out = append(out, 0x81)
		}

		total := int32(0)
		work := step
		for bit := 1; bit <= maxBitMask; bit <<= 1 {
			if total+work <= diff {
				total += work
				encoded |= byte(bit)
			}
			work >>= 1
		}

		delta := step>>bitShift + total
		if encoded&0x40 != 0 {
			predicted[ch] = clampSample(int32(predicted[ch]) - delta)
		} else {
			predicted[ch] = clampSample(int32(predicted[ch]) + delta)
		}
		out = append(out, encoded)
		steps[ch] = nextStepIndex(steps[ch], encoded)
	}
	return out, nil
}

func adpcmDecompress(data []byte, outSize, channels int) ([]byte, error) {
	if len(data) == 0 && outSize == 0 {
		return []byte{}, nil
	}
	if len(data) < 2+2*channels {
		return nil, errors.New("adpcm: input too short")
	}
	bitShift := uint(data[1])
	if bitShift > 31 {
		return nil, errors.New("adpcm: invalid bit shift")
	}

	out := make([]byte, 0, outSize)
	predicted := make([]int16, channels)
	steps := make([]int, channels)
	pos := 2
	for ch := range channels {
		predicted[ch] = int16(binary.LittleEndian.Uint16(data[pos:])) //nolint:gosec // PCM reinterpretation
		steps[ch] = adpcmInitialStep
		out = binary.LittleEndian.AppendUint16(out, uint16(predicted[ch])) //nolint:gosec // PCM reinterpretation
		pos += 2
	}

	ch := channels - 1
	for ; pos < len(data) && len(out) < outSize; pos++ {
		encoded := data[pos]
		ch = (ch + 1) % channels

		switch encoded {
		case 0x80:
			if steps[ch] > 0 {
				steps[ch]--
			}
			out = binary.LittleEndian.AppendUint16(out, uint16(predicted[ch])) //nolint:gosec // PCM reinterpretation
		case 0x81:
			steps[ch] = min(steps[ch]+8, adpcmMaxStep)
			ch = (ch + channels - 1) % channels
		default:
			step := adpcmStepSize[steps[ch]]
			delta := step >> bitShift
			for k := range uint(6) {
				if encoded&(1<<k) != 0 {
					delta += step >> k
				}
			}
			if encoded&0x40 != 0 {
				predicted[ch] = clampSample(int32(predicted[ch]) - delta)
			} else {
				predicted[ch] = clampSample(int32(predicted[ch]) + delta)
			}
			out = binary.LittleEndian.AppendUint16(out, uint16(predicted[ch])) //nolint:gosec // PCM reinterpretation
			steps[ch] = nextStepIndex(steps[ch], encoded)
		}
	}
	if len(out) > outSize {
		out = out[:outSize]
	}
	return out, nil
}
