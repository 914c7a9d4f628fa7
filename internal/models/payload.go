package models

// Typed views over the untyped event payload. Each event type has one
// payload schema; anything else stays opaque in Data. The accessors
// return ok=false when the event is of a different type, never panic on
// malformed payloads.

// ClickData captures a pointer click with enough target context to
// replay it and to analyze it afterwards.
type ClickData struct {
	X, Y      float64
	Tag       string
	ElementID string
	Class     string
	Text      string
	Rect      Rect
}

// Rect is a target bounding box in page coordinates.
type Rect struct {
	X, Y, Width, Height float64
}

// InputData captures a form field value change.
type InputData struct {
	ElementID string
	Name      string
	Value     string
	FieldType string
}

// KeyData captures a key press with modifiers.
type KeyData struct {
	Key   string
	Alt   bool
	Ctrl  bool
	Meta  bool
	Shift bool
}

// ScrollData captures a settled absolute scroll position together with
// document and viewport size at that moment.
type ScrollData struct {
	X, Y           float64
	DocWidth       float64
	DocHeight      float64
	ViewportWidth  float64
	ViewportHeight float64
}

// SubmitData captures a form submission.
type SubmitData struct {
	Action string
	Method string
	Fields map[string]string
}

// NavigationData captures a settled navigation. NavType distinguishes a
// reload of the current document ("refresh") from a load of a new URL
// ("navigate"); spa_navigation events reuse URL with Kind set.
type NavigationData struct {
	URL     string
	NavType string
	Kind    string
}

// ResizeData captures a viewport resize.
type ResizeData struct {
	Width  int
	Height int
}

// NetworkData captures emulated network conditions at a point in time.
type NetworkData struct {
	Offline            bool
	DownloadThroughput float64
	UploadThroughput   float64
	Latency            float64
	Preset             string
}

// MouseMoveData captures a throttled pointer position sample.
type MouseMoveData struct {
	X, Y float64
}

func (e InteractionEvent) Click() (ClickData, bool) {
	if e.Type != TypeClick || e.Data == nil {
		return ClickData{}, false
	}
	d := ClickData{
		X:         num(e.Data, "x"),
		Y:         num(e.Data, "y"),
		Tag:       str(e.Data, "tag"),
		ElementID: str(e.Data, "id"),
		Class:     str(e.Data, "class"),
		Text:      str(e.Data, "text"),
	}
	if r, ok := e.Data["rect"].(map[string]any); ok {
		d.Rect = Rect{num(r, "x"), num(r, "y"), num(r, "width"), num(r, "height")}
	}
	return d, true
}

func (e InteractionEvent) Input() (InputData, bool) {
	if e.Type != TypeInput || e.Data == nil {
		return InputData{}, false
	}
	return InputData{
		ElementID: str(e.Data, "id"),
		Name:      str(e.Data, "name"),
		Value:     str(e.Data, "value"),
		FieldType: str(e.Data, "fieldType"),
	}, true
}

func (e InteractionEvent) Key() (KeyData, bool) {
	if e.Type != TypeKeydown || e.Data == nil {
		return KeyData{}, false
	}
	return KeyData{
		Key:   str(e.Data, "key"),
		Alt:   boolean(e.Data, "alt"),
		Ctrl:  boolean(e.Data, "ctrl"),
		Meta:  boolean(e.Data, "meta"),
		Shift: boolean(e.Data, "shift"),
	}, true
}

func (e InteractionEvent) Scroll() (ScrollData, bool) {
	if e.Type != TypeScroll || e.Data == nil {
		return ScrollData{}, false
	}
	return ScrollData{
		X:              num(e.Data, "x"),
		Y:              num(e.Data, "y"),
		DocWidth:       num(e.Data, "docWidth"),
		DocHeight:      num(e.Data, "docHeight"),
		ViewportWidth:  num(e.Data, "viewportWidth"),
		ViewportHeight: num(e.Data, "viewportHeight"),
	}, true
}

func (e InteractionEvent) Submit() (SubmitData, bool) {
	if e.Type != TypeSubmit || e.Data == nil {
		return SubmitData{}, false
	}
	d := SubmitData{
		Action: str(e.Data, "action"),
		Method: str(e.Data, "method"),
	}
	if fields, ok := e.Data["fields"].(map[string]any); ok {
		d.Fields = make(map[string]string, len(fields))
		for k, v := range fields {
			if s, ok := v.(string); ok {
				d.Fields[k] = s
			}
		}
	}
	return d, true
}

func (e InteractionEvent) Navigation() (NavigationData, bool) {
	if (e.Type != TypeNavigation && e.Type != TypeSPANavigation) || e.Data == nil {
		return NavigationData{}, false
	}
	return NavigationData{
		URL:     str(e.Data, "url"),
		NavType: str(e.Data, "navType"),
		Kind:    str(e.Data, "kind"),
	}, true
}

func (e InteractionEvent) Resize() (ResizeData, bool) {
	if e.Type != TypeViewportResize || e.Data == nil {
		return ResizeData{}, false
	}
	return ResizeData{
		Width:  int(num(e.Data, "width")),
		Height: int(num(e.Data, "height")),
	}, true
}

func (e InteractionEvent) Network() (NetworkData, bool) {
	if (e.Type != TypeNetworkInitial && e.Type != TypeNetworkChange) || e.Data == nil {
		return NetworkData{}, false
	}
	return NetworkData{
		Offline:            boolean(e.Data, "offline"),
		DownloadThroughput: num(e.Data, "downloadThroughput"),
		UploadThroughput:   num(e.Data, "uploadThroughput"),
		Latency:            num(e.Data, "latency"),
		Preset:             str(e.Data, "preset"),
	}, true
}

func (e InteractionEvent) MouseMove() (MouseMoveData, bool) {
	if e.Type != TypeMouseMove || e.Data == nil {
		return MouseMoveData{}, false
	}
	return MouseMoveData{X: num(e.Data, "x"), Y: num(e.Data, "y")}, true
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func num(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

func boolean(m map[string]any, key string) bool {
	b, _ := m[key].(bool)
	return b
}
