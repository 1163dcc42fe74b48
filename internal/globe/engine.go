// Package globe is the waitlist globe: slot layout on a sphere, camera and
// gesture handling, click picking, per-frame scaling and avatar textures.
// An Engine is single-threaded; only texture loads run in the background.
package globe

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"waitlist/api/internal/store"
)

const (
	rotationEasing  = 0.05
	dragThresholdPx = 15.0
	touchThreshold  = 25.0
	mouseDragSens   = 0.005
	touchDragSens   = 0.008
	pinchThreshold  = 2.0
	clickHold       = 500 * time.Millisecond
	clickMovePx     = 30.0
	clickDebounce   = 500 * time.Millisecond
	dragCooldown    = 2000 * time.Millisecond
	pinchCooldown   = 1000 * time.Millisecond
	resizeTolerance = 100.0
)

type PointerKind int

const (
	MouseInput PointerKind = iota
	TouchInput
)

type Point struct {
	X, Y float64
}

func (p Point) dist(o Point) float64 {
	return math.Hypot(p.X-o.X, p.Y-o.Y)
}

// PointerEvent carries the active pointers in screen pixels. On release the
// released pointer comes first and Remaining counts touches still down.
type PointerEvent struct {
	Kind      PointerKind
	Points    []Point
	Remaining int
}

type GestureState string

const (
	GestureIdle     GestureState = "idle"
	GesturePressed  GestureState = "pressed"
	GestureDragging GestureState = "dragging"
	GesturePinching GestureState = "pinching"
)

type mesh struct {
	slot     Slot
	fill     color.RGBA
	position Vec3
	scale    float64
	opacity  float64
	texture  *image.RGBA
	claimed  bool
}

// Engine owns all render state for one globe instance.
type Engine struct {
	opts    Options
	now     func() time.Time
	log     logrus.FieldLogger
	onEmpty func(slot int)

	device     Device
	width      float64
	height     float64
	pixelRatio float64
	camera     Camera
	radius     float64 // circle geometry radius
	meshes     []mesh
	entries    map[int]store.Entry
	stars      []Star
	starRotX   float64
	starRotY   float64
	tracker    *ResourceTracker
	loader     *textureLoader

	autoRotating bool
	resumeAt     time.Time
	targetRotX   float64
	targetRotY   float64
	rotX         float64
	rotY         float64

	pointerDown   bool
	dragging      bool
	pinching      bool
	downAt        time.Time
	start         Point
	last          Point
	pointer       Point // normalized device coordinates
	pinchDistance float64
	lastClick     time.Time
	lodFrame      int
	tooltip       Tooltip
	closed        bool
}

// NewEngine lays out opts.Total slots and allocates one geometry and one
// material per slot. onEmpty is called when an unclaimed slot is clicked.
func NewEngine(opts Options, source TextureSource, log logrus.FieldLogger, onEmpty func(slot int)) (*Engine, error) {
	if opts.Total <= 0 {
		return nil, fmt.Errorf("globe: slot count must be positive, got %d", opts.Total)
	}
	if source == nil {
		return nil, errors.New("globe: texture source is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = 1280, 800
	}
	if opts.PixelRatio <= 0 {
		opts.PixelRatio = 1
	}
	if onEmpty == nil {
		onEmpty = func(int) {}
	}

	e := &Engine{
		opts:         opts,
		now:          opts.Now,
		log:          log,
		onEmpty:      onEmpty,
		width:        opts.Width,
		height:       opts.Height,
		pixelRatio:   opts.PixelRatio,
		device:       DeviceForWidth(opts.Width),
		entries:      make(map[int]store.Entry),
		tracker:      NewResourceTracker(),
		loader:       newTextureLoader(source),
		autoRotating: true,
	}
	e.camera = NewCamera(opts.cameraDistance(e.device), e.width/e.height)
	e.radius = CircleSize(opts.Total, e.device)

	for _, slot := range GenerateSlots(opts.Total, opts.Radius, opts.Colors) {
		e.meshes = append(e.meshes, mesh{
			slot:     slot,
			fill:     mustColor(slot.Color),
			position: slot.Position,
			scale:    1,
			opacity:  1,
		})
		e.tracker.Acquire(KindGeometry)
		e.tracker.Acquire(KindMaterial)
	}
	e.stars = NewStarfield(opts.starCount(e.device), opts.StarSeed)
	return e, nil
}

func (e *Engine) mesh(slot int) *mesh {
	if slot < 1 || slot > len(e.meshes) {
		return nil
	}
	return &e.meshes[slot-1]
}

// Frame advances rotation, scaling, floating motion and camera parallax by
// one tick and applies textures that finished loading.
func (e *Engine) Frame() {
	if e.closed {
		return
	}
	now := e.now()

	if !e.resumeAt.IsZero() && !now.Before(e.resumeAt) {
		e.autoRotating = true
		e.resumeAt = time.Time{}
	}
	e.tooltip.expire(now)

	if e.autoRotating && !e.dragging {
		e.targetRotY += e.opts.AutoRotateSpeed
	}
	e.rotX += (e.targetRotX - e.rotX) * rotationEasing
	e.rotY += (e.targetRotY - e.rotY) * rotationEasing

	e.lodPass()

	t := float64(now.UnixNano()) / 1e9
	for i := range e.meshes {
		m := &e.meshes[i]
		m.position = m.slot.Position.Normalize().Scale(e.opts.Radius + Float(i, t))
	}

	e.applyTextures()

	drift := float64(now.UnixMilli()) * 0.00002
	e.starRotY = e.rotY*0.4 + drift
	e.starRotX = e.rotX * 0.4

	parallaxX := e.pointer.X * 40
	parallaxY := -e.pointer.Y * 30
	e.camera.Position.X += (parallaxX - e.camera.Position.X) * 0.02
	e.camera.Position.Y += (parallaxY - e.camera.Position.Y) * 0.02
}

// Settle runs frames up to and including the next level-of-detail pass, so
// a still render shows the live scale and opacity.
func (e *Engine) Settle() {
	for range LODFrequency(e.opts.Total) - e.lodFrame {
		e.Frame()
	}
}

func (e *Engine) lodPass() {
	e.lodFrame = (e.lodFrame + 1) % LODFrequency(e.opts.Total)
	if e.lodFrame != 0 {
		return
	}
	toCamera := e.camera.Position.Normalize()
	scale := LODScale(e.opts.Total, e.device, e.camera.Distance())
	for i := range e.meshes {
		m := &e.meshes[i]
		m.scale = scale
		m.opacity = FacingOpacity(e.world(m.position).Normalize(), toCamera)
	}
}

func (e *Engine) world(local Vec3) Vec3 {
	return local.RotateXY(e.rotX, e.rotY)
}

func (e *Engine) applyTextures() {
	for _, r := range e.loader.drain() {
		m := e.mesh(r.slot)
		if m == nil || !m.claimed {
			continue
		}
		if r.err != nil && !errors.Is(r.err, errNotImage) && e.log != nil {
			e.log.WithFields(logrus.Fields{"slot": r.slot, "error": r.err.Error()}).Debug("globe: avatar load failed, using placeholder")
		}
		if r.img == nil {
			continue
		}
		if m.texture != nil {
			e.tracker.Release(KindTexture)
		}
		m.texture = r.img
		e.tracker.Acquire(KindTexture)
	}
}

// ApplyEntry marks the entry's slot claimed and starts loading its avatar.
// A newer call for the same slot supersedes a load still in flight.
func (e *Engine) ApplyEntry(entry store.Entry) {
	if e.closed {
		return
	}
	m := e.mesh(entry.ProfileID)
	if m == nil {
		return
	}
	e.entries[entry.ProfileID] = entry
	m.claimed = true
	e.loader.start(entry.ProfileID, m.fill, entry.Name, entry.Avatar)
}

// Seed applies every entry, typically the registry listing.
func (e *Engine) Seed(entries []store.Entry) {
	for _, entry := range entries {
		e.ApplyEntry(entry)
	}
}

// ClearSlot returns a slot to its unclaimed look and drops its pending load.
func (e *Engine) ClearSlot(slot int) {
	if e.closed {
		return
	}
	m := e.mesh(slot)
	if m == nil {
		return
	}
	delete(e.entries, slot)
	e.loader.cancel(slot)
	if m.texture != nil {
		e.tracker.Release(KindTexture)
		m.texture = nil
	}
	m.claimed = false
}

// Entry returns the claim shown on slot, or nil.
func (e *Engine) Entry(slot int) *store.Entry {
	entry, ok := e.entries[slot]
	if !ok {
		return nil
	}
	return &entry
}

func (e *Engine) toNDC(p Point) Point {
	return Point{X: p.X/e.width*2 - 1, Y: -(p.Y/e.height)*2 + 1}
}

func (e *Engine) toScreen(ndc Point) Point {
	return Point{X: ndc.X*e.width/2 + e.width/2, Y: -ndc.Y*e.height/2 + e.height/2}
}

func (e *Engine) PointerDown(ev PointerEvent) {
	if e.closed || len(ev.Points) == 0 {
		return
	}
	e.tooltip.hide()

	if ev.Kind == TouchInput && len(ev.Points) > 1 {
		e.pinching = true
		e.pinchDistance = ev.Points[0].dist(ev.Points[1])
		e.autoRotating = false
		e.resumeAt = time.Time{}
		return
	}

	p := ev.Points[0]
	e.pointerDown = true
	e.dragging = false
	e.pinching = false
	e.downAt = e.now()
	e.start, e.last = p, p
	e.pointer = e.toNDC(p)
}

func (e *Engine) PointerMove(ev PointerEvent) {
	if e.closed || len(ev.Points) == 0 {
		return
	}

	if ev.Kind == TouchInput && len(ev.Points) > 1 && e.pinching {
		current := ev.Points[0].dist(ev.Points[1])
		change := current - e.pinchDistance
		if math.Abs(change) > pinchThreshold {
			factor := 1.02
			if change > 0 {
				factor = 0.98
			}
			e.camera.Zoom(factor)
			e.pinchDistance = current
		}
		return
	}

	p := ev.Points[0]
	e.pointer = e.toNDC(p)

	if e.pointerDown && !e.dragging && !e.pinching {
		threshold := dragThresholdPx
		if ev.Kind == TouchInput {
			threshold = touchThreshold
		}
		if p.dist(e.start) > threshold {
			e.dragging = true
			e.autoRotating = false
			e.resumeAt = time.Time{}
		}
	}

	switch {
	case e.dragging && !e.pinching:
		sens := mouseDragSens
		if ev.Kind == TouchInput {
			sens = touchDragSens
		}
		e.targetRotY += (p.X - e.last.X) * sens
		e.targetRotX += (p.Y - e.last.Y) * sens
		e.last = p
	case !e.pointerDown && !e.pinching:
		e.hover()
	}
}

func (e *Engine) PointerUp(ev PointerEvent) {
	if e.closed {
		return
	}
	now := e.now()

	if ev.Kind == TouchInput && e.pinching {
		if ev.Remaining < 2 {
			e.pinching = false
			e.resumeAt = now.Add(pinchCooldown)
		}
		return
	}
	if len(ev.Points) == 0 {
		e.pointerDown, e.dragging = false, false
		return
	}

	p := ev.Points[0]
	held := now.Sub(e.downAt)
	wasClick := held < clickHold && p.dist(e.start) < clickMovePx

	// A drag release is never a click.
	switch {
	case e.dragging:
		e.resumeAt = now.Add(dragCooldown)
	case wasClick && e.pointerDown && !e.pinching:
		e.click(now)
		e.autoRotating = true
	}
	e.pointerDown = false
	e.dragging = false
}

// Wheel zooms out for positive deltaY and in for negative.
func (e *Engine) Wheel(deltaY float64) {
	if e.closed {
		return
	}
	sens := 1.1
	if e.pixelRatio > 1 {
		sens = 1.05
	}
	factor := 1 / sens
	if deltaY > 0 {
		factor = sens
	}
	e.camera.Zoom(factor)
}

// Resize adapts the camera and circle size to a new viewport. Circle
// geometry is rebuilt only when the size changes.
func (e *Engine) Resize(width, height, pixelRatio float64) {
	if e.closed || width <= 0 || height <= 0 {
		return
	}
	e.width, e.height = width, height
	if pixelRatio > 0 {
		e.pixelRatio = pixelRatio
	}
	e.camera.Aspect = width / height
	e.device = DeviceForWidth(width)

	if radius := CircleSize(e.opts.Total, e.device); radius != e.radius {
		for range e.meshes {
			e.tracker.Release(KindGeometry)
			e.tracker.Acquire(KindGeometry)
		}
		e.radius = radius
	}

	target := e.opts.cameraDistance(e.device)
	if math.Abs(e.camera.Distance()-target) > resizeTolerance {
		e.camera.SetDistance(target)
	}
}

func (e *Engine) discs() []Disc {
	discs := make([]Disc, len(e.meshes))
	for i, m := range e.meshes {
		center := e.world(m.position)
		discs[i] = Disc{
			Slot:   m.slot.ID,
			Center: center,
			Normal: center.Normalize(),
			Radius: e.radius * m.scale,
		}
	}
	return discs
}

// PickAt returns the slot under the pointer at ndc, or 0.
func (e *Engine) PickAt(ndc Point) int {
	return Pick(e.camera.RayAt(ndc.X, ndc.Y), e.discs())
}

func (e *Engine) click(now time.Time) {
	if !e.lastClick.IsZero() && now.Sub(e.lastClick) < clickDebounce {
		return
	}
	e.lastClick = now

	slot := e.PickAt(e.pointer)
	if slot == 0 {
		return
	}
	if entry := e.Entry(slot); entry != nil {
		at := e.toScreen(e.pointer)
		e.tooltip.show(ClaimedLines(*entry), at.X+10, at.Y-10, now.Add(TooltipLifetime))
		return
	}
	e.onEmpty(slot)
}

// hover shows slot details under the pointer on desktop-sized viewports.
func (e *Engine) hover() {
	slot := e.PickAt(e.pointer)
	if slot == 0 {
		e.tooltip.hide()
		return
	}
	if e.width <= MobileBreakpoint {
		return
	}
	at := e.toScreen(e.pointer)
	e.tooltip.show(HoverLines(e.Entry(slot)), at.X+10, at.Y-10, time.Time{})
}

func (e *Engine) Gesture() GestureState {
	switch {
	case e.pinching:
		return GesturePinching
	case e.dragging:
		return GestureDragging
	case e.pointerDown:
		return GesturePressed
	}
	return GestureIdle
}

func (e *Engine) AutoRotating() bool { return e.autoRotating }

func (e *Engine) Tooltip() Tooltip { return e.tooltip }

func (e *Engine) Camera() Camera { return e.camera }

func (e *Engine) Device() Device { return e.device }

// Rotation returns the current and target globe rotation about X and Y.
func (e *Engine) Rotation() (x, y, targetX, targetY float64) {
	return e.rotX, e.rotY, e.targetRotX, e.targetRotY
}

func (e *Engine) Resources() *ResourceTracker { return e.tracker }

// WaitTextures blocks until every started avatar load has returned. The
// results are applied on the next Frame.
func (e *Engine) WaitTextures() {
	e.loader.wait()
}

// Close cancels outstanding loads and releases every resource. A closed
// engine ignores input.
func (e *Engine) Close() {
	if e.closed {
		return
	}
	e.closed = true
	e.loader.close()
	for i := range e.meshes {
		m := &e.meshes[i]
		if m.texture != nil {
			e.tracker.Release(KindTexture)
			m.texture = nil
		}
		e.tracker.Release(KindMaterial)
		e.tracker.Release(KindGeometry)
	}
	e.stars = nil
	e.tooltip.hide()
}

// MeshView is one slot as it should be drawn this frame.
type MeshView struct {
	Slot    int
	Fill    color.RGBA
	Center  Vec3
	Normal  Vec3
	Radius  float64
	Opacity float64
	Texture *image.RGBA
	Claimed bool
}

// Snapshot is everything a renderer needs for one frame.
type Snapshot struct {
	Camera   Camera
	Width    float64
	Height   float64
	Meshes   []MeshView
	Stars    []Star
	StarRotX float64
	StarRotY float64
	Tooltip  Tooltip
}

func (e *Engine) Snapshot() Snapshot {
	snap := Snapshot{
		Camera:   e.camera,
		Width:    e.width,
		Height:   e.height,
		Stars:    e.stars,
		StarRotX: e.starRotX,
		StarRotY: e.starRotY,
		Tooltip:  e.tooltip,
	}
	if e.closed {
		return snap
	}
	snap.Meshes = make([]MeshView, len(e.meshes))
	for i, m := range e.meshes {
		center := e.world(m.position)
		snap.Meshes[i] = MeshView{
			Slot:    m.slot.ID,
			Fill:    m.fill,
			Center:  center,
			Normal:  center.Normalize(),
			Radius:  e.radius * m.scale,
			Opacity: m.opacity,
			Texture: m.texture,
			Claimed: m.claimed,
		}
	}
	return snap
}
