package mesh

import (
	"bufio"
	"encoding/hex"
	"io"
	"strconv"
	"strings"

	"github.com/juju/errors"
)

// Frame is one captured radio frame from a line oriented source:
//
//	rx 1501A1B2C3 snr=9.25 rssi=-87
//	tx 0900DEADBEEF
//
// Empty lines and lines starting with # are skipped.
type Frame struct {
	Dir       Direction
	Raw       []byte
	SNR       float32
	RSSI      int
	HasSignal bool
}

func ParseFrame(line string) (Frame, error) {
	var f Frame
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return f, errors.NotValidf("frame line='%s'", line)
	}
	switch strings.ToLower(fields[0]) {
	case "rx":
		f.Dir = DirectionRx
	case "tx":
		f.Dir = DirectionTx
	default:
		return f, errors.NotValidf("frame direction='%s'", fields[0])
	}
	raw, err := hex.DecodeString(fields[1])
	if err != nil {
		return f, errors.Annotatef(err, "frame hex='%s'", fields[1])
	}
	f.Raw = raw
	for _, kv := range fields[2:] {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return f, errors.NotValidf("frame attribute='%s'", kv)
		}
		switch k {
		case "snr":
			x, err := strconv.ParseFloat(v, 32)
			if err != nil {
				return f, errors.Annotatef(err, "frame snr")
			}
			f.SNR = float32(x)
			f.HasSignal = true
		case "rssi":
			x, err := strconv.Atoi(v)
			if err != nil {
				return f, errors.Annotatef(err, "frame rssi")
			}
			f.RSSI = x
			f.HasSignal = true
		default:
			return f, errors.NotValidf("frame attribute='%s'", k)
		}
	}
	return f, nil
}

// ReadFrames calls fn for every valid frame until EOF or fn error.
// Invalid lines go to onInvalid and reading continues.
func ReadFrames(r io.Reader, fn func(Frame) error, onInvalid func(line string, err error)) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		f, err := ParseFrame(line)
		if err != nil {
			if onInvalid != nil {
				onInvalid(line, err)
			}
			continue
		}
		if err = fn(f); err != nil {
			return err
		}
	}
	return errors.Annotate(scanner.Err(), "frame source")
}
