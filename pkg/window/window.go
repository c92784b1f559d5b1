// Package window shows a running scene: an ebiten console with the object
// list, the message log and the dialog, and a line-based headless console.
package window

import (
	"fmt"
	"image/color"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/hajimehoshi/ebiten/v2/text/v2"
	"golang.org/x/image/font/basicfont"

	"github.com/pingw33n/vault13-sub000/pkg/dialog"
	"github.com/pingw33n/vault13-sub000/pkg/host"
	"github.com/pingw33n/vault13-sub000/pkg/logger"
	"github.com/pingw33n/vault13-sub000/pkg/vm"
)

const (
	screenWidth  = 640
	screenHeight = 480
	lineHeight   = 16
	// logLines is the number of message log lines drawn.
	logLines = 8
)

var (
	backgroundColor   = color.RGBA{0x10, 0x18, 0x10, 0xFF}
	textColor         = color.RGBA{0x3C, 0xF8, 0x00, 0xFF}
	selectedTextColor = color.RGBA{0xFF, 0xFF, 0x00, 0xFF}
	dimTextColor      = color.RGBA{0x20, 0x90, 0x00, 0xFF}
	defaultFace       = text.NewGoXFace(basicfont.Face7x13)
)

// Scene is the game state the console shows and drives.
type Scene interface {
	Objects() []*host.Object
	Messages() []host.Entry
	Conversation() *dialog.Dialog
	TimeOfDay() int32
	Paused() bool

	Talk(obj vm.ObjectHandle) error
	Look(obj vm.ObjectHandle) error
	Pick(i int) error
	Advance(d time.Duration)
	Save() error
	Restore() error
}

// Mode is what the console shows.
type Mode int

const (
	ModeMap    Mode = iota // object list
	ModeDialog             // reply and options
)

// Game implements ebiten.Game over a Scene.
type Game struct {
	scene         Scene
	selectedIndex int
	timeout       time.Duration
	startTime     time.Time
	tick          time.Duration
	lastTick      time.Time
	status        string
}

// NewGame creates the console. Game time advances by one tick every tick of
// wall time; zero stops it.
func NewGame(scene Scene, tick, timeout time.Duration) *Game {
	now := time.Now()
	return &Game{
		scene:     scene,
		timeout:   timeout,
		startTime: now,
		tick:      tick,
		lastTick:  now,
	}
}

// Mode returns the current mode.
func (g *Game) Mode() Mode {
	if g.scene.Conversation().Running() {
		return ModeDialog
	}
	return ModeMap
}

// Update runs once per frame.
func (g *Game) Update() error {
	if g.timeout > 0 && time.Since(g.startTime) >= g.timeout {
		return ebiten.Termination
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyEscape) {
		return ebiten.Termination
	}

	switch g.Mode() {
	case ModeDialog:
		g.updateDialog()
	case ModeMap:
		g.updateMap()
	}
	g.advance(time.Now())
	return nil
}

// advance moves game time by the ticks elapsed since the last call.
func (g *Game) advance(now time.Time) {
	if g.tick <= 0 {
		return
	}
	n := now.Sub(g.lastTick) / g.tick
	if n <= 0 {
		return
	}
	g.lastTick = g.lastTick.Add(n * g.tick)
	g.scene.Advance(time.Duration(n) * vm.TickDuration)
}

func (g *Game) moveSelection(delta, n int) {
	if n == 0 {
		g.selectedIndex = 0
		return
	}
	g.selectedIndex = min(max(g.selectedIndex+delta, 0), n-1)
}

func (g *Game) updateDialog() {
	d := g.scene.Conversation()
	n := len(d.Options())
	if inpututil.IsKeyJustPressed(ebiten.KeyUp) {
		g.moveSelection(-1, n)
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyDown) {
		g.moveSelection(1, n)
	}
	for i := 0; i < min(n, 9); i++ {
		if inpututil.IsKeyJustPressed(ebiten.Key1 + ebiten.Key(i)) {
			g.pick(i)
			return
		}
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyEnter) {
		g.pick(g.selectedIndex)
	}
}

func (g *Game) updateMap() {
	objs := g.scene.Objects()
	if inpututil.IsKeyJustPressed(ebiten.KeyUp) {
		g.moveSelection(-1, len(objs))
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyDown) {
		g.moveSelection(1, len(objs))
	}
	switch {
	case inpututil.IsKeyJustPressed(ebiten.KeyT), inpututil.IsKeyJustPressed(ebiten.KeyEnter):
		g.act(objs, g.scene.Talk)
	case inpututil.IsKeyJustPressed(ebiten.KeyL):
		g.act(objs, g.scene.Look)
	case inpututil.IsKeyJustPressed(ebiten.KeyS):
		g.report(g.scene.Save(), "saved")
	case inpututil.IsKeyJustPressed(ebiten.KeyR):
		g.report(g.scene.Restore(), "restored")
	}
}

// act applies f to the selected object.
func (g *Game) act(objs []*host.Object, f func(vm.ObjectHandle) error) {
	if g.selectedIndex >= len(objs) {
		return
	}
	err := f(objs[g.selectedIndex].Handle)
	g.report(err, "")
	if g.Mode() == ModeDialog {
		g.selectedIndex = 0
	}
}

func (g *Game) pick(i int) {
	g.report(g.scene.Pick(i), "")
	g.selectedIndex = 0
}

func (g *Game) report(err error, ok string) {
	if err != nil {
		logger.GetLogger().Warn("action failed", "error", err)
		g.status = err.Error()
		return
	}
	g.status = ok
}

// Draw renders the console.
func (g *Game) Draw(screen *ebiten.Image) {
	screen.Fill(backgroundColor)
	t := g.scene.TimeOfDay()
	drawLine(screen, fmt.Sprintf("%02d:%02d", t/100, t%100), 16, 20, dimTextColor)
	if g.status != "" {
		drawLine(screen, g.status, 80, 20, dimTextColor)
	}

	switch g.Mode() {
	case ModeDialog:
		g.drawDialog(screen)
	case ModeMap:
		g.drawMap(screen)
	}

	msgs := g.scene.Messages()
	y := float64(screenHeight - logLines*lineHeight - 8)
	for _, m := range msgs[max(len(msgs)-logLines, 0):] {
		drawLine(screen, formatEntry(m), 16, y, textColor)
		y += lineHeight
	}
}

func (g *Game) drawDialog(screen *ebiten.Image) {
	d := g.scene.Conversation()
	drawLine(screen, d.Reply(), 16, 56, textColor)
	for i, line := range OptionLines(d.Options()) {
		c := textColor
		if i == g.selectedIndex {
			c = selectedTextColor
		}
		drawLine(screen, line, 32, 96+float64(i*lineHeight), c)
	}
}

func (g *Game) drawMap(screen *ebiten.Image) {
	for i, o := range g.scene.Objects() {
		prefix := "  "
		c := textColor
		if i == g.selectedIndex {
			prefix = "> "
			c = selectedTextColor
		}
		drawLine(screen, prefix+formatObject(o), 16, 56+float64(i*lineHeight), c)
	}
	drawLine(screen, "UP/DOWN select, T talk, L look, S save, R restore, ESC quit", 16, 300, dimTextColor)
}

func drawLine(screen *ebiten.Image, s string, x, y float64, c color.Color) {
	op := &text.DrawOptions{}
	op.GeoM.Translate(x, y)
	op.ColorScale.ScaleWithColor(c)
	text.Draw(screen, s, defaultFace, op)
}

// Layout returns the fixed screen size.
func (g *Game) Layout(outsideWidth, outsideHeight int) (int, int) {
	return screenWidth, screenHeight
}

// OptionLines numbers the dialog options from 1.
func OptionLines(opts []dialog.Option) []string {
	r := make([]string, len(opts))
	for i, o := range opts {
		r[i] = fmt.Sprintf("%d. %s", i+1, o.Text)
	}
	return r
}

func formatObject(o *host.Object) string {
	kind := "item"
	if o.Critter {
		kind = "critter"
	}
	return fmt.Sprintf("[%d] %s (%s, tile %d)", o.Handle, o.Name, kind, o.Tile)
}

func formatEntry(e host.Entry) string {
	if e.Floating() {
		return fmt.Sprintf("[%d] %s", e.Object, e.Text)
	}
	return e.Text
}

// Run opens the window and blocks until it closes.
func Run(scene Scene, tick, timeout time.Duration) error {
	game := NewGame(scene, tick, timeout)
	ebiten.SetWindowSize(screenWidth*2, screenHeight*2)
	ebiten.SetWindowTitle("v13vm")
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	if err := ebiten.RunGame(game); err != nil {
		return fmt.Errorf("failed to run game: %w", err)
	}
	return nil
}
