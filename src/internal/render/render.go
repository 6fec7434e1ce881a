// Package render draws an episode as PNG frames, the plant in solid colors
// and the model's one-step prediction as a translucent ghost, and encodes
// the frames into an MP4 when ffmpeg is available.
package render

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/mohammadijoo/Online_Modeling_GO/src/internal/plant"
)

// Pose is what a frame needs to know about a state.
type Pose struct {
	X     float64 // cart position (m); 0 for a fixed pivot
	Theta float64 // pole angle, 0 = upright
}

// PoseOf extracts the pose of an observation of p.
func PoseOf(p plant.Plant, obs []float64) Pose {
	pose := Pose{Theta: plant.Angle(p, obs)}
	if _, ok := p.(*plant.CartPole); ok {
		pose.X = obs[0]
	}
	return pose
}

// Scene holds the geometry and colors of a frame.
type Scene struct {
	Width, Height  int
	Cart           bool
	PoleLength     float64 // (m)
	PixelsPerMeter float64
	ControlMax     float64

	bg, track, cart, wheel, pole, bob, ghost, arrow, flash color.RGBA
}

// SceneFor returns a scene sized for the plant.
func SceneFor(p plant.Plant, width, height int) Scene {
	s := Scene{
		Width:      width,
		Height:     height,
		PoleLength: 1.0,
		bg:         color.RGBA{20, 20, 20, 255},
		track:      color.RGBA{170, 170, 170, 255},
		cart:       color.RGBA{40, 140, 255, 255},
		wheel:      color.RGBA{70, 70, 70, 255},
		pole:       color.RGBA{240, 70, 70, 255},
		bob:        color.RGBA{255, 220, 60, 255},
		ghost:      color.RGBA{120, 220, 255, 110},
		arrow:      color.RGBA{60, 255, 120, 255},
		flash:      color.RGBA{255, 255, 255, 255},
	}
	if b := p.ControlBounds(); len(b) > 0 {
		s.ControlMax = b[0].Max
	}
	if cp, ok := p.(*plant.CartPole); ok {
		s.Cart = true
		s.PoleLength = cp.P.Pole.L
		s.PixelsPerMeter = float64(width) / (2*cp.P.XMax + 1.0)
	} else {
		s.PixelsPerMeter = 0.35 * float64(min(width, height))
	}
	return s
}

// Draw renders one frame: the actual pose, the predicted pose as a ghost,
// an arrow for the sign of the applied control and a corner flash when a
// new model was published at this step.
func (s Scene) Draw(img *image.RGBA, actual, predicted Pose, u float64, updated bool) {
	fill(img, s.bg)

	originX := float64(s.Width) * 0.5
	originY := float64(s.Height) * 0.5
	if s.Cart {
		originY = float64(s.Height) * 0.75
		drawRectFilled(img, originX, originY+25.0, float64(s.Width-40), 4.0, s.track)
		drawRectFilled(img, originX, originY, 3.0, 60.0, color.RGBA{120, 120, 120, 255})
	}

	s.drawBody(img, originX, originY, predicted, true)
	tipX, tipY := s.drawBody(img, originX, originY, actual, false)

	// control direction, constant length
	if s.ControlMax > 0 && math.Abs(u) > 0.05*s.ControlMax {
		dir := 1.0
		if u < 0 {
			dir = -1.0
		}
		y := tipY - 25.0
		drawArrow(img, tipX, y, tipX+dir*80.0, y, s.arrow)
	}

	if updated {
		drawCircleFilled(img, 20, 20, 8, s.flash)
	}
}

// drawBody draws a cart (if any), pole and bob and returns the bob center.
func (s Scene) drawBody(img *image.RGBA, originX, originY float64, pose Pose, ghost bool) (float64, float64) {
	cartW, cartH, wheelR := 100.0, 30.0, 10.0
	pivotX, pivotY := originX, originY

	pick := func(c color.RGBA) color.RGBA {
		if ghost {
			return s.ghost
		}
		return c
	}

	if s.Cart {
		cartX := originX + pose.X*s.PixelsPerMeter
		drawRectFilled(img, cartX, originY, cartW, cartH, pick(s.cart))
		if !ghost {
			drawCircleFilled(img, cartX-cartW*0.30, originY+cartH*0.55, wheelR, s.wheel)
			drawCircleFilled(img, cartX+cartW*0.30, originY+cartH*0.55, wheelR, s.wheel)
		}
		pivotX = cartX
		pivotY = originY - cartH*0.5
	}

	poleLenPx := s.PoleLength * s.PixelsPerMeter
	tipX := pivotX + poleLenPx*math.Sin(pose.Theta)
	tipY := pivotY - poleLenPx*math.Cos(pose.Theta)

	drawThickLine(img, pivotX, pivotY, tipX, tipY, 8.0, pick(s.pole))
	drawCircleFilled(img, tipX, tipY, 9.0, pick(s.bob))
	if !s.Cart && !ghost {
		drawCircleFilled(img, pivotX, pivotY, 5.0, s.track)
	}
	return tipX, tipY
}

// WriteFrames renders one PNG per step into dir (removing older frames) and
// returns the number of frames written.
func WriteFrames(dir string, s Scene, actual, predicted []Pose, controls []float64, updates []int) (int, error) {
	if len(actual) != len(predicted) || len(actual) != len(controls) {
		return 0, fmt.Errorf("render: %d poses, %d predictions, %d controls", len(actual), len(predicted), len(controls))
	}
	if err := cleanOldFrames(dir); err != nil {
		return 0, fmt.Errorf("render: cannot clean frames: %w", err)
	}

	updated := make(map[int]bool, len(updates))
	for _, u := range updates {
		updated[u] = true
	}

	img := image.NewRGBA(image.Rect(0, 0, s.Width, s.Height))
	for i := range actual {
		s.Draw(img, actual[i], predicted[i], controls[i], updated[i])
		if err := writePNG(filepath.Join(dir, fmt.Sprintf("frame_%06d.png", i)), img); err != nil {
			return i, err
		}
	}
	return len(actual), nil
}

func writePNG(fn string, img image.Image) error {
	f, err := os.Create(fn)
	if err != nil {
		return fmt.Errorf("render: cannot create frame: %w", err)
	}
	defer f.Close()
	bw := bufio.NewWriter(f)
	if err := png.Encode(bw, img); err != nil {
		return fmt.Errorf("render: cannot encode png: %w", err)
	}
	return bw.Flush()
}

// listFilesSorted lists files in a directory matching a suffix, sorted by name.
func listFilesSorted(dir, suffix string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(strings.ToLower(e.Name()), strings.ToLower(suffix)) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// cleanOldFrames removes existing PNG frames to avoid mixing episodes.
func cleanOldFrames(framesDir string) error {
	if err := os.MkdirAll(framesDir, 0o755); err != nil {
		return err
	}
	files, err := listFilesSorted(framesDir, ".png")
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := os.Remove(f); err != nil {
			return err
		}
	}
	return nil
}

// EncodeMP4 encodes the frames with ffmpeg. It returns false without error
// when ffmpeg is not on PATH.
func EncodeMP4(ctx context.Context, framesDir string, fps int, outMP4 string, log *zap.Logger) (bool, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		log.Warn("ffmpeg not found on PATH; MP4 will not be created")
		return false, nil
	}

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-y",
		"-framerate", fmt.Sprintf("%d", fps),
		"-i", filepath.Join(framesDir, "frame_%06d.png"),
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		outMP4,
	)

	log.Info("encoding MP4 with ffmpeg", zap.String("out", outMP4))
	if out, err := cmd.CombinedOutput(); err != nil {
		return false, fmt.Errorf("render: ffmpeg failed: %w: %s", err, lastLine(out))
	}
	return true, nil
}

func lastLine(b []byte) string {
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	return lines[len(lines)-1]
}
