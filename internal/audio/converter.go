package audio

import (
	"fmt"
	"math"
)

// BytesToSamples decodes little-endian 16-bit signed PCM
func BytesToSamples(pcmData []byte) ([]int16, error) {
	if len(pcmData)%2 != 0 {
		return nil, fmt.Errorf("PCM data length must be even (16-bit samples)")
	}

	samples := make([]int16, len(pcmData)/2)
	for i := 0; i < len(samples); i++ {
		// Little-endian 16-bit signed integer
		samples[i] = int16(pcmData[i*2]) | int16(pcmData[i*2+1])<<8
	}
	return samples, nil
}

// SamplesToBytes encodes samples as little-endian 16-bit signed PCM
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, sample := range samples {
		out[i*2] = byte(sample)
		out[i*2+1] = byte(sample >> 8)
	}
	return out
}

// ResamplePCM converts 16-bit PCM between sample rates.
// Input at the target rate is returned unchanged.
func ResamplePCM(pcmData []byte, inputSampleRate, outputSampleRate int) ([]byte, error) {
	if inputSampleRate <= 0 || outputSampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rates %d -> %d", inputSampleRate, outputSampleRate)
	}
	if inputSampleRate == outputSampleRate {
		return pcmData, nil
	}
	if len(pcmData) == 0 {
		return nil, fmt.Errorf("empty PCM data")
	}

	samples, err := BytesToSamples(pcmData)
	if err != nil {
		return nil, err
	}
	return SamplesToBytes(resample(samples, inputSampleRate, outputSampleRate)), nil
}

// resample performs simple linear interpolation resampling
// This is a basic implementation - for production, consider using a library
// with better quality algorithms (e.g., sinc interpolation)
func resample(samples []int16, inputRate, outputRate int) []int16 {
	if inputRate == outputRate || len(samples) == 0 {
		return samples
	}

	ratio := float64(outputRate) / float64(inputRate)
	outputLength := len(samples) * outputRate / inputRate
	output := make([]int16, outputLength)

	for i := 0; i < outputLength; i++ {
		// Calculate source position
		srcPos := float64(i) / ratio

		// Linear interpolation
		idx0 := int(srcPos)
		if idx0 >= len(samples) {
			idx0 = len(samples) - 1
		}
		idx1 := idx0 + 1
		if idx1 >= len(samples) {
			idx1 = len(samples) - 1
		}

		// Interpolate between two samples
		fraction := srcPos - float64(idx0)
		output[i] = int16(float64(samples[idx0])*(1.0-fraction) + float64(samples[idx1])*fraction)
	}

	return output
}

// ConvertPCMUToPCM converts G.711 PCMU (μ-law) to linear PCM.
// Telephony recordings arrive in this encoding.
func ConvertPCMUToPCM(pcmuData []byte) ([]byte, error) {
	if len(pcmuData) == 0 {
		return nil, fmt.Errorf("empty PCMU data")
	}

	pcmData := make([]byte, len(pcmuData)*2) // 16-bit output

	for i, mulawByte := range pcmuData {
		sample := mulawToLinear(mulawByte)
		// Convert to little-endian 16-bit
		pcmData[i*2] = byte(sample)
		pcmData[i*2+1] = byte(sample >> 8)
	}

	return pcmData, nil
}

// mulawToLinear converts an 8-bit μ-law sample to 16-bit linear PCM
func mulawToLinear(mulawByte byte) int16 {
	// Invert all bits first (μ-law uses inverted representation)
	mulawByte = ^mulawByte

	sign := mulawByte & 0x80
	segment := int32((mulawByte >> 4) & 0x07)
	mantissa := int32(mulawByte & 0x0F)

	// step = (mantissa << (segment + 1)) + (33 << segment), minus the bias
	step := mantissa << (segment + 1)
	step += int32(33) << segment
	magnitude := step - 33

	if sign != 0 {
		return int16(-magnitude)
	}
	return int16(magnitude)
}

// CalculateRMS calculates the root mean square (RMS) of audio samples
// Useful for detecting audio levels and silence
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}

	return math.Sqrt(sum / float64(len(samples)))
}

// Duration returns the playback length of 16-bit mono PCM in seconds
func Duration(pcmLen, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return float64(pcmLen/2) / float64(sampleRate)
}
