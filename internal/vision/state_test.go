package vision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barnhand/corral/internal/models"
)

// standingKeypoints places shoulders well above the paws (tall height
// ratio) with every other point at a confident, fixed location so
// heightRatio/meanDisplacement both see enough valid points.
func standingKeypoints(shoulderY, pawY float32) *models.Keypoints {
	var kp models.Keypoints
	for i := range kp {
		kp[i] = models.Keypoint{X: 50, Y: 50, Conf: 0.9}
	}
	kp[kpLShoulder] = models.Keypoint{X: 40, Y: shoulderY, Conf: 0.9}
	kp[kpRShoulder] = models.Keypoint{X: 60, Y: shoulderY, Conf: 0.9}
	kp[kpLFPaw] = models.Keypoint{X: 40, Y: pawY, Conf: 0.9}
	kp[kpRFPaw] = models.Keypoint{X: 60, Y: pawY, Conf: 0.9}
	kp[kpLBPaw] = models.Keypoint{X: 42, Y: pawY, Conf: 0.9}
	kp[kpRBPaw] = models.Keypoint{X: 58, Y: pawY, Conf: 0.9}
	kp[kpNeck] = models.Keypoint{X: 50, Y: shoulderY, Conf: 0.9}
	kp[kpLHip] = models.Keypoint{X: 40, Y: (shoulderY + pawY) / 2, Conf: 0.9}
	kp[kpRHip] = models.Keypoint{X: 60, Y: (shoulderY + pawY) / 2, Conf: 0.9}
	kp[kpLKnee] = models.Keypoint{X: 40, Y: pawY - 5, Conf: 0.9}
	kp[kpRKnee] = models.Keypoint{X: 60, Y: pawY - 5, Conf: 0.9}
	return &kp
}

func offsetBy(kp *models.Keypoints, indices []int, dx, dy float32) *models.Keypoints {
	out := *kp
	for _, idx := range indices {
		out[idx].X += dx
		out[idx].Y += dy
	}
	return &out
}

func TestClassifyState(t *testing.T) {
	t.Parallel()

	t.Run("nil keypoints is unknown", func(t *testing.T) {
		t.Parallel()
		label, conf := classifyState(nil, nil)
		assert.Equal(t, StateUnknown, label)
		assert.Zero(t, conf)
	})

	t.Run("low height ratio is lying down", func(t *testing.T) {
		t.Parallel()
		kp := standingKeypoints(10, 15) // shoulder-to-paw gap tiny vs overall bbox height
		label, _ := classifyState(kp, nil)
		assert.Equal(t, StateLyingDown, label)
	})

	t.Run("tall, motionless body is standing", func(t *testing.T) {
		t.Parallel()
		kp := standingKeypoints(10, 90)
		prev := standingKeypoints(10, 90)
		label, _ := classifyState(kp, prev)
		assert.Equal(t, StateStanding, label)
	})

	t.Run("tall body with large torso displacement is running", func(t *testing.T) {
		t.Parallel()
		kp := standingKeypoints(10, 90)
		prev := offsetBy(kp, reliableMovementKeypoints, -30, 0)
		label, _ := classifyState(kp, prev)
		assert.Equal(t, StateRunning, label)
	})

	t.Run("tall body with moderate torso displacement is walking", func(t *testing.T) {
		t.Parallel()
		kp := standingKeypoints(10, 90)
		prev := offsetBy(kp, reliableMovementKeypoints, -7, 0)
		label, _ := classifyState(kp, prev)
		assert.Equal(t, StateWalking, label)
	})

	t.Run("missing shoulder/paw confidence is unknown", func(t *testing.T) {
		t.Parallel()
		var kp models.Keypoints
		label, _ := classifyState(&kp, nil)
		assert.Equal(t, StateUnknown, label)
	})
}

func TestStateAnnotator_Hysteresis(t *testing.T) {
	t.Parallel()

	a := NewStateAnnotator()
	track := &models.Track{ID: "t1"}
	standing := standingKeypoints(10, 90)

	// First observation has no previous frame to diff against, so it
	// becomes both the raw label and the immediately emitted label.
	label := a.Annotate(track, standing)
	assert.Equal(t, StateStanding, label)

	// A single one-off "running" reading shouldn't flip the emitted label
	// away from the majority ("standing") until it dominates >= 60% of
	// the last 15 raw observations.
	running := offsetBy(standing, reliableMovementKeypoints, -30, 0)
	label = a.Annotate(track, running)
	assert.Equal(t, StateStanding, label)

	// Feed enough additional "standing" frames that history is still
	// majority-standing; emitted label must not flip.
	for i := 0; i < 5; i++ {
		label = a.Annotate(track, standing)
	}
	assert.Equal(t, StateStanding, label)

	require.NotEmpty(t, track.StateHistory())
}
