package media

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"
)

type probeStream struct {
	CodecType    string `json:"codec_type"`
	AvgFrameRate string `json:"avg_frame_rate"`
}

type probeFormat struct {
	Duration string `json:"duration"`
}

type probeOutput struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

func parseProbeOutput(raw []byte) (VideoInfo, error) {
	var out probeOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return VideoInfo{}, err
	}

	var info VideoInfo
	for _, s := range out.Streams {
		switch s.CodecType {
		case "audio":
			info.HasAudio = true
		case "video":
			if info.FrameRate == 0 {
				info.FrameRate = parseFrameRate(s.AvgFrameRate)
			}
		}
	}

	secs, err := strconv.ParseFloat(strings.TrimSpace(out.Format.Duration), 64)
	if err != nil || secs <= 0 {
		return VideoInfo{}, errors.New("missing or invalid duration")
	}
	info.Duration = time.Duration(secs * float64(time.Second))
	return info, nil
}

// parseFrameRate handles ffprobe's rational notation ("30000/1001").
func parseFrameRate(s string) float64 {
	num, den, found := strings.Cut(s, "/")
	if !found {
		v, _ := strconv.ParseFloat(s, 64)
		return v
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}
