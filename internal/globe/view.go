package globe

// SlotView is the wire form of one slot.
type SlotView struct {
	ID    int     `json:"id"`
	Color string  `json:"color"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
}

type CameraView struct {
	FOV      float64 `json:"fov"`
	Near     float64 `json:"near"`
	Far      float64 `json:"far"`
	Distance float64 `json:"distance"`
	ZoomMin  float64 `json:"zoom_min"`
	ZoomMax  float64 `json:"zoom_max"`
}

type InteractionView struct {
	DragThreshold   float64 `json:"drag_threshold"`
	ClickDebounceMS int64   `json:"click_debounce_ms"`
	TooltipMS       int64   `json:"tooltip_ms"`
	AutoRotateDelay int64   `json:"auto_rotate_delay_ms"`
	LODFrequency    int     `json:"lod_frequency"`
}

// LayoutView is what a browser client needs to draw the globe itself.
type LayoutView struct {
	Device          Device          `json:"device"`
	Total           int             `json:"total"`
	Radius          float64         `json:"radius"`
	CircleSize      float64         `json:"circle_size"`
	CircleSegments  int             `json:"circle_segments"`
	AutoRotateSpeed float64         `json:"auto_rotate_speed"`
	StarCount       int             `json:"star_count"`
	Camera          CameraView      `json:"camera"`
	Interaction     InteractionView `json:"interaction"`
	Slots           []SlotView      `json:"slots"`
}

func Layout(opts Options, d Device) LayoutView {
	threshold := dragThresholdPx
	if d == Mobile {
		threshold = touchThreshold
	}
	slots := GenerateSlots(opts.Total, opts.Radius, opts.Colors)
	views := make([]SlotView, len(slots))
	for i, s := range slots {
		views[i] = SlotView{ID: s.ID, Color: s.Color, X: s.Position.X, Y: s.Position.Y, Z: s.Position.Z}
	}
	return LayoutView{
		Device:          d,
		Total:           opts.Total,
		Radius:          opts.Radius,
		CircleSize:      CircleSize(opts.Total, d),
		CircleSegments:  CircleSegments,
		AutoRotateSpeed: opts.AutoRotateSpeed,
		StarCount:       opts.starCount(d),
		Camera: CameraView{
			FOV:      CameraFOV,
			Near:     CameraNear,
			Far:      CameraFar,
			Distance: opts.cameraDistance(d),
			ZoomMin:  ZoomMin,
			ZoomMax:  ZoomMax,
		},
		Interaction: InteractionView{
			DragThreshold:   threshold,
			ClickDebounceMS: clickDebounce.Milliseconds(),
			TooltipMS:       TooltipLifetime.Milliseconds(),
			AutoRotateDelay: dragCooldown.Milliseconds(),
			LODFrequency:    LODFrequency(opts.Total),
		},
		Slots: views,
	}
}
