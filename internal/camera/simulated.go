package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/banshee-data/packcam/internal/timeutil"
)

// ErrInjected is returned by a SimulatedDevice configured to fail.
var ErrInjected = errors.New("simulated device failure")

// Frame dimensions for simulated captures.
const (
	SimWidth  = 320
	SimHeight = 240
)

var slotColors = []color.RGBA{
	{R: 0x2d, G: 0x4a, B: 0x6e, A: 0xff},
	{R: 0x4e, G: 0x6e, B: 0x2d, A: 0xff},
	{R: 0x6e, G: 0x2d, B: 0x4a, A: 0xff},
	{R: 0x6e, G: 0x5a, B: 0x2d, A: 0xff},
}

// SimulatedDevice renders a labelled test frame instead of talking to
// hardware. Used in development mode and tests.
type SimulatedDevice struct {
	Slot  int
	Clock timeutil.Clock

	mu          sync.Mutex
	failTrigger bool
	failCapture bool
	triggers    int
	captures    int
}

// NewSimulatedDevice returns a device that labels its frames with slot.
func NewSimulatedDevice(slot int, clock timeutil.Clock) *SimulatedDevice {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &SimulatedDevice{Slot: slot, Clock: clock}
}

// SetFailures makes subsequent Trigger and/or Capture calls fail.
func (d *SimulatedDevice) SetFailures(trigger, capture bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failTrigger = trigger
	d.failCapture = capture
}

// Counts returns how many Trigger and Capture calls the device has seen.
func (d *SimulatedDevice) Counts() (triggers, captures int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.triggers, d.captures
}

func (d *SimulatedDevice) Trigger(ctx context.Context) error {
	d.mu.Lock()
	d.triggers++
	fail := d.failTrigger
	d.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if fail {
		return ErrInjected
	}
	return nil
}

func (d *SimulatedDevice) Capture(ctx context.Context) ([]byte, error) {
	d.mu.Lock()
	d.captures++
	fail := d.failCapture
	n := d.captures
	d.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fail {
		return nil, ErrInjected
	}
	return d.render(n)
}

func (d *SimulatedDevice) render(frame int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, SimWidth, SimHeight))
	bg := slotColors[(d.Slot-1+len(slotColors))%len(slotColors)]
	draw.Draw(img, img.Bounds(), &image.Uniform{C: bg}, image.Point{}, draw.Src)

	lines := []string{
		fmt.Sprintf("CAM %d", d.Slot),
		d.Clock.Now().Format("2006-01-02 15:04:05"),
		fmt.Sprintf("frame %d", frame),
	}
	drawer := &font.Drawer{
		Dst:  img,
		Src:  image.White,
		Face: basicfont.Face7x13,
	}
	for i, line := range lines {
		drawer.Dot = fixed.P(12, 24+i*18)
		drawer.DrawString(line)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), nil
}
