package pose

import (
	"fmt"
	"time"
)

// JointName identifies one anatomical landmark in the 17-point COCO layout.
type JointName int

const (
	Nose JointName = iota
	LeftEye
	RightEye
	LeftEar
	RightEar
	LeftShoulder
	RightShoulder
	LeftElbow
	RightElbow
	LeftWrist
	RightWrist
	LeftHip
	RightHip
	LeftKnee
	RightKnee
	LeftAnkle
	RightAnkle

	// NumJoints is the number of keypoint slots in a Pose.
	NumJoints
)

var jointNames = [NumJoints]string{
	"nose",
	"left_eye",
	"right_eye",
	"left_ear",
	"right_ear",
	"left_shoulder",
	"right_shoulder",
	"left_elbow",
	"right_elbow",
	"left_wrist",
	"right_wrist",
	"left_hip",
	"right_hip",
	"left_knee",
	"right_knee",
	"left_ankle",
	"right_ankle",
}

// String returns the snake_case wire name used by the inference worker.
func (j JointName) String() string {
	if j < 0 || j >= NumJoints {
		return fmt.Sprintf("joint(%d)", int(j))
	}
	return jointNames[j]
}

// ParseJointName maps a wire name back to its JointName.
func ParseJointName(name string) (JointName, error) {
	for i, n := range jointNames {
		if n == name {
			return JointName(i), nil
		}
	}
	return 0, fmt.Errorf("unknown joint %q", name)
}

// Keypoint is one landmark in source-frame pixel space.
type Keypoint struct {
	Joint      JointName `json:"joint"`
	X          float64   `json:"x"`
	Y          float64   `json:"y"`
	Confidence float64   `json:"confidence"`
}

// Pose is the full keypoint set for a single subject at one instant.
// Every joint has a slot; joints the model did not report have zero confidence.
type Pose struct {
	Keypoints [NumJoints]Keypoint `json:"keypoints"`
	Score     float64             `json:"score"`
	Timestamp time.Time           `json:"timestamp"`
}

// New returns a Pose with every slot labelled and zero confidence.
func New(ts time.Time) Pose {
	p := Pose{Timestamp: ts}
	for i := range p.Keypoints {
		p.Keypoints[i].Joint = JointName(i)
	}
	return p
}

// Set stores k in its joint slot. Out-of-range joints are ignored.
func (p *Pose) Set(k Keypoint) {
	if k.Joint < 0 || k.Joint >= NumJoints {
		return
	}
	p.Keypoints[k.Joint] = k
}

// Get returns the keypoint for joint j.
func (p *Pose) Get(j JointName) Keypoint {
	if j < 0 || j >= NumJoints {
		return Keypoint{Joint: j}
	}
	return p.Keypoints[j]
}
