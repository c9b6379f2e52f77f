package estimator

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/claude/repcam/internal/pose"
)

// maxMessageSize bounds a single worker message (a 1080p RGB frame is ~6MB).
const maxMessageSize = 64 << 20

// Message types exchanged with the inference worker.
const (
	msgLoad   = "load"
	msgInfer  = "infer"
	msgReady  = "ready"
	msgResult = "result"
	msgError  = "error"
)

type request struct {
	Type      string `msgpack:"type"`
	Seq       uint64 `msgpack:"seq"`
	Model     string `msgpack:"model,omitempty"`
	Device    string `msgpack:"device,omitempty"`
	InputSize int    `msgpack:"input_size,omitempty"`
	FrameData []byte `msgpack:"frame_data,omitempty"`
	Width     int    `msgpack:"width,omitempty"`
	Height    int    `msgpack:"height,omitempty"`
}

type response struct {
	Type  string     `msgpack:"type"`
	Seq   uint64     `msgpack:"seq"`
	Error string     `msgpack:"error,omitempty"`
	Poses []wirePose `msgpack:"poses,omitempty"`
}

type wirePose struct {
	Score     float64        `msgpack:"score"`
	Keypoints []wireKeypoint `msgpack:"keypoints"`
}

type wireKeypoint struct {
	Name  string  `msgpack:"name"`
	X     float64 `msgpack:"x"`
	Y     float64 `msgpack:"y"`
	Score float64 `msgpack:"score"`
}

// writeMessage writes v as a 4-byte big-endian length followed by msgpack data.
func writeMessage(w io.Writer, v any) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}

	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[4:], data)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	return nil
}

// readMessage reads one length-prefixed msgpack message into v.
func readMessage(r io.Reader, v any) error {
	var lengthBuf [4]byte
	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return err
	}

	n := binary.BigEndian.Uint32(lengthBuf[:])
	if n > maxMessageSize {
		return fmt.Errorf("message of %d bytes exceeds limit", n)
	}

	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return fmt.Errorf("reading message body: %w", err)
	}
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshaling message: %w", err)
	}
	return nil
}

// toCandidates converts worker poses, skipping keypoints with unknown names.
func toCandidates(poses []wirePose) []Candidate {
	out := make([]Candidate, 0, len(poses))
	for _, wp := range poses {
		c := Candidate{Score: wp.Score, Pose: pose.New(time.Time{})}
		for _, wk := range wp.Keypoints {
			joint, err := pose.ParseJointName(wk.Name)
			if err != nil {
				continue
			}
			c.Pose.Set(pose.Keypoint{Joint: joint, X: wk.X, Y: wk.Y, Confidence: wk.Score})
		}
		out = append(out, c)
	}
	return out
}
